package investigate

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costscan-cli/internal/config"
	"github.com/sells-group/costscan-cli/internal/modeler"
	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/scanner"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// mockAgent scripts the tinyfish client per call type.
type mockAgent struct {
	mu       sync.Mutex
	runCalls int
	run      func(req tinyfish.RunRequest) (*tinyfish.RunResult, error)
	runAsync func(req tinyfish.RunRequest) (*tinyfish.RunHandle, error)
	getRun   func(runID string) (*tinyfish.Run, error)
}

func (m *mockAgent) Run(ctx context.Context, req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
	m.mu.Lock()
	m.runCalls++
	m.mu.Unlock()
	if m.run == nil {
		return nil, eris.New("no sync runs scripted")
	}
	return m.run(req)
}

func (m *mockAgent) RunAsync(ctx context.Context, req tinyfish.RunRequest) (*tinyfish.RunHandle, error) {
	if m.runAsync == nil {
		return nil, eris.New("no async runs scripted")
	}
	return m.runAsync(req)
}

func (m *mockAgent) GetRun(ctx context.Context, runID string) (*tinyfish.Run, error) {
	if m.getRun == nil {
		return nil, eris.New("no getRun scripted")
	}
	return m.getRun(runID)
}

// mockSynth records the evidence it saw and returns a scripted synthesis.
type mockSynth struct {
	mu    sync.Mutex
	infra scanner.InfraEvidence
	syn   *modeler.Synthesis
	err   error
}

func (m *mockSynth) Synthesize(ctx context.Context, infra scanner.InfraEvidence, build scanner.BuildEvidence, buyer scanner.BuyerEvidence, tgt target.Request) (*modeler.Synthesis, error) {
	m.mu.Lock()
	m.infra = infra
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if m.syn != nil {
		return m.syn, nil
	}
	return &modeler.Synthesis{
		InfraCost: report.DefaultInfraCost(),
		BuildCost: report.DefaultBuildCost(),
		BuyerCost: report.DefaultBuyerCost(),
	}, nil
}

func testConfig() config.InvestigationConfig {
	return config.InvestigationConfig{
		TimeoutSecs:      30,
		FastMode:         true,
		PlatformsScanned: []string{"Target Site", "GitHub"},
	}
}

func testTarget() target.Request {
	return target.Request{URL: "https://example.com", Domain: "example.com", Name: "Example"}
}

func TestRun_AllGatherersFailStillReturnsReport(t *testing.T) {
	agent := &mockAgent{run: func(req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
		return nil, eris.New("connection refused")
	}}
	c := New(agent, &mockSynth{}, testConfig())

	rep, err := c.Run(context.Background(), testTarget(), nil)
	require.NoError(t, err, "gatherer failures are recovered, not propagated")

	assert.True(t, rep.Quality.PartialData)
	assert.ElementsMatch(t, []string{"infra", "build", "buyer"}, rep.Quality.DegradedPillars)
	assert.Equal(t, 0, rep.Quality.CompletenessScore)
	assert.Equal(t, report.DefaultInfraCost(), rep.InfraCost)
	assert.Equal(t, report.DefaultBuildCost(), rep.BuildCost)
	assert.Equal(t, report.DefaultBuyerCost(), rep.BuyerCost)
	require.NotNil(t, rep.Quality.ScannerErrors.Infra)
	assert.Nil(t, rep.Quality.ScannerErrors.Timeout)
}

func TestRun_SuccessEnvelope(t *testing.T) {
	agent := &mockAgent{run: func(req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
		return &tinyfish.RunResult{Result: json.RawMessage(`{"techStack":{"cdn":"cloudflare"}}`)}, nil
	}}
	synth := &mockSynth{}
	c := New(agent, synth, testConfig())

	rep, err := c.Run(context.Background(), testTarget(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Example", rep.Target.Name)
	assert.Equal(t, "example.com", rep.Target.URL)
	assert.Equal(t, "E", rep.Target.Logo)
	assert.Equal(t, []string{"Target Site", "GitHub"}, rep.PlatformsScanned)
	assert.NotEmpty(t, rep.ScannedAt)
	assert.False(t, rep.Quality.PartialData)
	assert.Equal(t, 100, rep.Quality.CompletenessScore)
	require.NotNil(t, rep.Quality.Meta)
	assert.Equal(t, 1.0, rep.Quality.Meta.Infra.Coverage)
	assert.Equal(t, "cloudflare", synth.infra.TechStack["cdn"], "gathered evidence reaches synthesis")
}

func TestRun_ProgressMilestoneOrder(t *testing.T) {
	agent := &mockAgent{run: func(req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
		return &tinyfish.RunResult{Result: json.RawMessage(`{}`)}, nil
	}}
	c := New(agent, &mockSynth{}, testConfig())

	var mu sync.Mutex
	var stages []string
	var progress []int
	_, err := c.Run(context.Background(), testTarget(), func(ev ProgressEvent) {
		mu.Lock()
		stages = append(stages, ev.Stage)
		progress = append(progress, ev.Progress)
		mu.Unlock()
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"init", "infra_done", "build_done", "buyer_done", "ai", "complete"}, stages)
	assert.IsNonDecreasing(t, progress)
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestRun_TimeoutProducesPartialReport(t *testing.T) {
	blocking := &mockAgent{run: func(req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
		time.Sleep(5 * time.Second)
		return nil, eris.New("too late")
	}}

	cfg := testConfig()
	cfg.TimeoutSecs = 1
	c := New(blocking, &mockSynth{}, cfg)

	start := time.Now()
	rep, err := c.Run(context.Background(), testTarget(), nil)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "timeout must stop the wait")

	assert.True(t, rep.Quality.PartialData)
	assert.Contains(t, rep.Quality.DegradedPillars, report.TimeoutMarker)
	require.NotNil(t, rep.Quality.ScannerErrors.Timeout)
}

func TestRun_SynthesisFailureIsFatal(t *testing.T) {
	agent := &mockAgent{run: func(req tinyfish.RunRequest) (*tinyfish.RunResult, error) {
		return &tinyfish.RunResult{Result: json.RawMessage(`{}`)}, nil
	}}
	c := New(agent, &mockSynth{err: eris.New("no client configured")}, testConfig())

	_, err := c.Run(context.Background(), testTarget(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "synthesis")
}
