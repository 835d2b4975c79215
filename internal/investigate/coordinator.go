// Package investigate coordinates one investigation: it fans the three
// evidence gatherers out in parallel, bounds total wall-clock time, merges
// partial results through synthesis, and scores report quality. The package
// also carries the async two-phase variant and its caller-side poll loop.
package investigate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/costscan-cli/internal/config"
	"github.com/sells-group/costscan-cli/internal/modeler"
	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/scanner"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// Synthesizer turns gathered evidence into the three normalized pillar
// sub-reports. Implemented by modeler.CostModeler.
type Synthesizer interface {
	Synthesize(ctx context.Context, infra scanner.InfraEvidence, build scanner.BuildEvidence, buyer scanner.BuyerEvidence, tgt target.Request) (*modeler.Synthesis, error)
}

// ProgressEvent is a best-effort UI hint emitted at fixed milestones. Event
// ordering is approximate; nothing downstream may branch on it.
type ProgressEvent struct {
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
	Message  string `json:"message"`
}

// ProgressFunc receives progress events. May be nil.
type ProgressFunc func(ProgressEvent)

// Coordinator owns all request-scoped state for the duration of one
// investigation. Safe for concurrent use; nothing is shared across
// investigations except the injected clients and read-only configuration.
type Coordinator struct {
	infra   *scanner.InfraScanner
	build   *scanner.BuildScanner
	buyer   *scanner.BuyerScanner
	agent   tinyfish.Client
	synth   Synthesizer
	cfg     config.InvestigationConfig
	timeout time.Duration
}

// New creates a Coordinator over the given agent and synthesizer.
func New(agent tinyfish.Client, synth Synthesizer, cfg config.InvestigationConfig) *Coordinator {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 100 * time.Second
	}
	return &Coordinator{
		infra:   scanner.NewInfraScanner(agent),
		build:   scanner.NewBuildScanner(agent),
		buyer:   scanner.NewBuyerScanner(agent),
		agent:   agent,
		synth:   synth,
		cfg:     cfg,
		timeout: timeout,
	}
}

// gatherState collects gatherer results as they land. The snapshot taken when
// the race is decided is what synthesis sees; anything landing later is
// discarded in favor of the fallback values already recorded.
type gatherState struct {
	mu       sync.Mutex
	infra    scanner.InfraEvidence
	build    scanner.BuildEvidence
	buyer    scanner.BuyerEvidence
	stats    map[report.Pillar]report.PillarStats
	scanErrs report.PillarErrors
	settled  int
}

// settleMilestones are emitted in fixed order as gatherers settle. The label
// tracks settlement count, not which pillar actually finished; pillar
// completion is not individually awaited at emission time.
var settleMilestones = []ProgressEvent{
	{Stage: "infra_done", Progress: 40, Message: "Infrastructure signals collected"},
	{Stage: "build_done", Progress: 65, Message: "Build evidence collected"},
	{Stage: "buyer_done", Progress: 85, Message: "Buyer cost evidence collected"},
}

// Run executes one synchronous investigation. Evidence-gathering failures
// are recovered locally and recorded in the report's quality block; the only
// fatal error is a synthesis failure outside the per-pillar settlement.
func (c *Coordinator) Run(ctx context.Context, req target.Request, onProgress ProgressFunc) (*report.CostReport, error) {
	id := uuid.NewString()
	log := zap.L().With(
		zap.String("investigation_id", id),
		zap.String("domain", req.Domain),
	)
	log.Info("investigation started",
		zap.Bool("fast_mode", c.cfg.FastMode),
		zap.Duration("timeout", c.timeout),
	)

	emit(onProgress, ProgressEvent{Stage: "init", Progress: 5, Message: "Starting investigation"})

	opts := scanner.Options{Fast: c.cfg.FastMode}
	st := &gatherState{stats: map[report.Pillar]report.PillarStats{}}

	// The timeout stops waiting, and the context cancel propagates to any
	// still in-flight agent calls so they are not silently abandoned.
	scanCtx, cancelScan := context.WithCancel(ctx)
	defer cancelScan()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		ev, stats, err := c.infra.Scan(scanCtx, req, opts)
		st.settle(report.PillarInfra, err, onProgress, func() {
			st.infra = ev
			st.stats[report.PillarInfra] = stats
		})
	}()
	go func() {
		defer wg.Done()
		ev, stats, err := c.build.Scan(scanCtx, req, opts)
		st.settle(report.PillarBuild, err, onProgress, func() {
			st.build = ev
			st.stats[report.PillarBuild] = stats
		})
	}()
	go func() {
		defer wg.Done()
		ev, stats, err := c.buyer.Scan(scanCtx, req, opts)
		st.settle(report.PillarBuyer, err, onProgress, func() {
			st.buyer = ev
			st.stats[report.PillarBuyer] = stats
		})
	}()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	timedOut := false
	select {
	case <-done:
	case <-timer.C:
		timedOut = true
		cancelScan()
		log.Warn("investigation timeout reached, proceeding with partial evidence")
	case <-ctx.Done():
		// Caller cancellation is deliberately folded into the timeout path:
		// the snapshot below still yields a well-formed partial report, and
		// synthesis on the dead context surfaces the disconnect as a fatal
		// error before the report could reach anyone.
		timedOut = true
		cancelScan()
	}

	st.mu.Lock()
	infraEv, buildEv, buyerEv := st.infra, st.build, st.buyer
	scanErrs := st.scanErrs
	stats := make(map[report.Pillar]report.PillarStats, len(st.stats))
	for p, s := range st.stats {
		stats[p] = s
	}
	st.mu.Unlock()

	emit(onProgress, ProgressEvent{Stage: "ai", Progress: 90, Message: "Synthesizing cost model"})

	syn, err := c.synth.Synthesize(ctx, infraEv, buildEv, buyerEv, req)
	if err != nil {
		return nil, eris.Wrap(err, "investigate: synthesis")
	}

	rep := c.assemble(req, syn, scanErrs, stats, timedOut)
	log.Info("investigation complete",
		zap.Bool("partial_data", rep.Quality.PartialData),
		zap.Int("completeness_score", rep.Quality.CompletenessScore),
		zap.Strings("degraded_pillars", rep.Quality.DegradedPillars),
	)

	emit(onProgress, ProgressEvent{Stage: "complete", Progress: 100, Message: "Report ready"})
	return rep, nil
}

// settle records one gatherer's outcome and emits the next milestone. The
// emit stays inside the critical section so milestone order is deterministic;
// progress callbacks must not block.
func (st *gatherState) settle(pillar report.Pillar, err error, onProgress ProgressFunc, store func()) {
	st.mu.Lock()
	defer st.mu.Unlock()

	store()
	if err != nil {
		st.scanErrs.Set(pillar, err.Error())
	}
	if st.settled < len(settleMilestones) {
		emit(onProgress, settleMilestones[st.settled])
	}
	st.settled++
}

// assemble builds the final report envelope around the synthesized pillars.
func (c *Coordinator) assemble(req target.Request, syn *modeler.Synthesis, scanErrs report.PillarErrors, stats map[report.Pillar]report.PillarStats, timedOut bool) *report.CostReport {
	quality := report.ComputeQuality(scanErrs, syn.ModelErrors, timedOut)
	quality.Meta = report.ComputeMeta(stats, time.Now().UTC())

	return &report.CostReport{
		Target: report.Target{
			Name: req.Name,
			URL:  req.Domain,
			Logo: req.Logo(),
		},
		ScannedAt:        time.Now().UTC().Format(time.RFC3339),
		PlatformsScanned: c.cfg.PlatformsScanned,
		InfraCost:        syn.InfraCost,
		BuildCost:        syn.BuildCost,
		BuyerCost:        syn.BuyerCost,
		Quality:          quality,
	}
}

func emit(onProgress ProgressFunc, ev ProgressEvent) {
	if onProgress != nil {
		onProgress(ev)
	}
}
