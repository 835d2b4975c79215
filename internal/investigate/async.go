package investigate

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/scanner"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// RunIDs holds one background run identifier per pillar. A nil entry means
// the submission for that pillar failed; poll treats it as a failed run.
type RunIDs struct {
	Infra *string `json:"infra"`
	Build *string `json:"build"`
	Buyer *string `json:"buyer"`
}

func (r RunIDs) get(p report.Pillar) *string {
	switch p {
	case report.PillarInfra:
		return r.Infra
	case report.PillarBuild:
		return r.Build
	case report.PillarBuyer:
		return r.Buyer
	}
	return nil
}

func (r *RunIDs) set(p report.Pillar, id string) {
	switch p {
	case report.PillarInfra:
		r.Infra = &id
	case report.PillarBuild:
		r.Build = &id
	case report.PillarBuyer:
		r.Buyer = &id
	}
}

// Poll outcome statuses.
const (
	PollRunning  = "running"
	PollComplete = "complete"
)

// PollOutcome is the result of one Poll call. While any run is still in a
// non-terminal state, Status is "running" and Runs maps each pillar to its
// raw run status for progress display. Once all runs settle, Status is
// "complete" and Report carries the final result.
type PollOutcome struct {
	Status string             `json:"status"`
	Runs   map[string]string  `json:"runs,omitempty"`
	Report *report.CostReport `json:"report,omitempty"`
}

// Start submits one background run per pillar and returns immediately with
// the run identifiers. Partial submission success is allowed; Start fails
// only when all three submissions fail.
func (c *Coordinator) Start(ctx context.Context, req target.Request) (*RunIDs, error) {
	goals := map[report.Pillar]string{
		report.PillarInfra: scanner.FastInfraGoal(req.Domain),
		report.PillarBuild: scanner.BuildFeaturesGoal,
		report.PillarBuyer: scanner.BuyerPricingGoal,
	}

	ids := &RunIDs{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range report.Pillars {
		wg.Add(1)
		go func(p report.Pillar) {
			defer wg.Done()
			handle, err := c.agent.RunAsync(ctx, tinyfish.RunRequest{URL: req.URL, Goal: goals[p]})
			if err == nil && handle.Error != nil {
				err = eris.New(handle.Error.Message)
			}
			if err == nil && handle.RunID == "" {
				err = eris.New("agent returned no run id")
			}
			if err != nil {
				zap.L().Warn("async submission failed",
					zap.String("pillar", string(p)),
					zap.String("domain", req.Domain),
					zap.Error(err),
				)
				return
			}
			mu.Lock()
			ids.set(p, handle.RunID)
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	if ids.Infra == nil && ids.Build == nil && ids.Buyer == nil {
		return nil, eris.New("investigate: all background submissions failed")
	}
	return ids, nil
}

// pillarRun is one pillar's polled state.
type pillarRun struct {
	status tinyfish.RunStatus
	result json.RawMessage
	errMsg string
}

// Poll fetches the current status of all three runs in parallel and returns
// immediately; it never sleeps. A pillar with no run id counts as failed.
// Once no run is still pending or running, the completed results are coerced
// into pillar evidence, synthesis runs, and the final report is returned.
func (c *Coordinator) Poll(ctx context.Context, req target.Request, ids RunIDs) (*PollOutcome, error) {
	// Settle the no-id pillars before any fetch goroutine starts so the map
	// only sees concurrent writes under mu.
	runs := map[report.Pillar]*pillarRun{}
	for _, p := range report.Pillars {
		if id := ids.get(p); id == nil || *id == "" {
			runs[p] = &pillarRun{status: tinyfish.StatusFailed, errMsg: "no background run was submitted"}
		}
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, p := range report.Pillars {
		id := ids.get(p)
		if id == nil || *id == "" {
			continue // settled above
		}
		wg.Add(1)
		go func(p report.Pillar, id string) {
			defer wg.Done()
			run, err := c.agent.GetRun(ctx, id)
			pr := &pillarRun{}
			switch {
			case err != nil:
				pr.status = tinyfish.StatusFailed
				pr.errMsg = err.Error()
			case run.Status == tinyfish.StatusFailed:
				pr.status = tinyfish.StatusFailed
				pr.errMsg = "background run failed"
				if run.Error != nil && run.Error.Message != "" {
					pr.errMsg = run.Error.Message
				}
			default:
				pr.status = run.Status
				pr.result = run.Result
			}
			mu.Lock()
			runs[p] = pr
			mu.Unlock()
		}(p, *id)
	}
	wg.Wait()

	statuses := map[string]string{}
	running := false
	for _, p := range report.Pillars {
		statuses[string(p)] = string(runs[p].status)
		if !runs[p].status.Terminal() {
			running = true
		}
	}
	if running {
		return &PollOutcome{Status: PollRunning, Runs: statuses}, nil
	}

	var scanErrs report.PillarErrors
	stats := map[report.Pillar]report.PillarStats{}
	now := time.Now().UTC()
	var infraEv scanner.InfraEvidence
	var buildEv scanner.BuildEvidence
	var buyerEv scanner.BuyerEvidence
	for _, p := range report.Pillars {
		pr := runs[p]
		if pr.status != tinyfish.StatusCompleted {
			scanErrs.Set(p, pr.errMsg)
			stats[p] = report.PillarStats{TasksExpected: 1, Warnings: []string{pr.errMsg}}
			continue
		}
		stats[p] = report.PillarStats{
			TasksExpected:  1,
			TasksSucceeded: 1,
			Sources:        []string{"site"},
			ExtractedAt:    now,
		}
		switch p {
		case report.PillarInfra:
			infraEv = coerceInfra(pr.result)
		case report.PillarBuild:
			buildEv = coerceBuild(pr.result)
		case report.PillarBuyer:
			buyerEv = coerceBuyer(pr.result)
		}
	}

	syn, err := c.synth.Synthesize(ctx, infraEv, buildEv, buyerEv, req)
	if err != nil {
		return nil, eris.Wrap(err, "investigate: synthesis")
	}

	return &PollOutcome{
		Status: PollComplete,
		Runs:   statuses,
		Report: c.assemble(req, syn, scanErrs, stats, false),
	}, nil
}

// Coercion is permissive: an unexpected result shape degrades to empty
// evidence instead of failing the poll.

func coerceInfra(raw json.RawMessage) scanner.InfraEvidence {
	m := decodeObject(raw)
	if m == nil {
		return scanner.InfraEvidence{}
	}
	tech, _ := m["techStack"].(map[string]any)
	traffic, _ := m["traffic"].(map[string]any)
	if tech == nil && traffic == nil {
		// Flat result; treat the whole object as tech stack signal.
		tech = m
	}
	return scanner.InfraEvidence{TechStack: tech, Traffic: traffic}
}

func coerceBuild(raw json.RawMessage) scanner.BuildEvidence {
	return scanner.BuildEvidence{Features: decodeObject(raw)}
}

func coerceBuyer(raw json.RawMessage) scanner.BuyerEvidence {
	return scanner.BuyerEvidence{Pricing: decodeObject(raw)}
}

func decodeObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}
