package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/costscan-cli/internal/investigate"
	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/target"
)

var (
	investigateFull  bool
	investigateAsync bool
	investigateOut   string
)

var investigateCmd = &cobra.Command{
	Use:   "investigate <url>",
	Short: "Run one cost investigation against a target URL",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.CheckRuntimeEnv(); err != nil {
			return err
		}
		if investigateFull {
			cfg.Investigation.FastMode = false
		}

		req, err := target.Normalize(args[0])
		if err != nil {
			return err
		}

		e := newEnv()
		ctx := cmd.Context()

		var rep *report.CostReport
		if investigateAsync {
			rep, err = runAsync(ctx, e.coordinator, req)
		} else {
			rep, err = e.coordinator.Run(ctx, req, func(ev investigate.ProgressEvent) {
				fmt.Fprintf(cmd.ErrOrStderr(), "[%3d%%] %s\n", ev.Progress, ev.Message)
			})
		}
		if err != nil {
			return err
		}

		return writeReport(rep)
	},
}

// runAsync exercises the two-phase start/poll path from the CLI.
func runAsync(ctx context.Context, c *investigate.Coordinator, req target.Request) (*report.CostReport, error) {
	ids, err := c.Start(ctx, req)
	if err != nil {
		return nil, err
	}
	zap.L().Info("background runs submitted", zap.String("domain", req.Domain))

	poller := investigate.NewPoller(cfg.Investigation.PollIntervalMS, cfg.Investigation.PollTimeoutSecs)
	outcome, err := poller.Wait(ctx,
		func(ctx context.Context) (*investigate.PollOutcome, error) {
			return c.Poll(ctx, req, *ids)
		},
		func(done, progress int) {
			fmt.Fprintf(os.Stderr, "[%3d%%] %d/3 runs settled\n", progress, done)
		},
	)
	if err != nil {
		return nil, err
	}
	return outcome.Report, nil
}

func writeReport(rep *report.CostReport) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal report")
	}
	data = append(data, '\n')

	if investigateOut == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(investigateOut, data, 0o644); err != nil {
		return eris.Wrap(err, "write report")
	}
	zap.L().Info("report written", zap.String("path", investigateOut))
	return nil
}

func init() {
	investigateCmd.Flags().BoolVar(&investigateFull, "full", false, "run the full evidence task set per pillar instead of fast mode")
	investigateCmd.Flags().BoolVar(&investigateAsync, "async", false, "use background runs with client-side polling")
	investigateCmd.Flags().StringVar(&investigateOut, "out", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(investigateCmd)
}
