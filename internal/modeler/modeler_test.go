package modeler

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/scanner"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/anthropic"
)

// mockCompletions answers CreateMessage per pillar, keyed on the system
// prompt, with an optional per-pillar attempt script.
type mockCompletions struct {
	mu       sync.Mutex
	attempts map[string]int
	respond  func(system string, attempt int) (string, error)
}

func (m *mockCompletions) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.mu.Lock()
	if m.attempts == nil {
		m.attempts = map[string]int{}
	}
	key := pillarFor(req)
	m.attempts[key]++
	attempt := m.attempts[key]
	m.mu.Unlock()

	text, err := m.respond(key, attempt)
	if err != nil {
		return nil, err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
	}, nil
}

func pillarFor(req anthropic.MessageRequest) string {
	system := req.System[0].Text
	switch {
	case strings.Contains(system, "infrastructure cost"):
		return "infra"
	case strings.Contains(system, "development cost"):
		return "build"
	default:
		return "buyer"
	}
}

func testTarget() target.Request {
	return target.Request{URL: "https://example.com", Domain: "example.com", Name: "Example"}
}

const validInfraJSON = `{"monthlyEstimate":{"low":1000,"mid":2000,"high":3000}}`

func TestSynthesize_AllPillarsSucceed(t *testing.T) {
	client := &mockCompletions{respond: func(pillar string, attempt int) (string, error) {
		switch pillar {
		case "infra":
			return validInfraJSON, nil
		case "build":
			return `{"totalEstimate":{"low":10,"mid":20,"high":30}}`, nil
		default:
			return `{"plans":[{"name":"Pro"}]}`, nil
		}
	}}

	syn, err := New(client, "claude-sonnet-4-5-20250929", 2).Synthesize(
		context.Background(), scanner.InfraEvidence{}, scanner.BuildEvidence{}, scanner.BuyerEvidence{}, testTarget())
	require.NoError(t, err)
	assert.Equal(t, report.Triad{Low: 1000, Mid: 2000, High: 3000}, syn.InfraCost.MonthlyEstimate)
	assert.Equal(t, report.Triad{Low: 10, Mid: 20, High: 30}, syn.BuildCost.TotalEstimate)
	assert.Equal(t, "Pro", syn.BuyerCost.Plans[0].Name)
	assert.Empty(t, syn.ModelErrors.Failed())
}

func TestSynthesize_NilClientIsFatal(t *testing.T) {
	_, err := New(nil, "model", 2).Synthesize(
		context.Background(), scanner.InfraEvidence{}, scanner.BuildEvidence{}, scanner.BuyerEvidence{}, testTarget())
	require.Error(t, err)
}

func TestSynthesize_OnePillarFailsAfterRetries(t *testing.T) {
	client := &mockCompletions{respond: func(pillar string, attempt int) (string, error) {
		if pillar == "build" {
			return "", eris.New("model overloaded")
		}
		if pillar == "infra" {
			return validInfraJSON, nil
		}
		return `{"plans":[{"name":"Basic"}]}`, nil
	}}

	syn, err := New(client, "claude-sonnet-4-5-20250929", 2).Synthesize(
		context.Background(), scanner.InfraEvidence{}, scanner.BuildEvidence{}, scanner.BuyerEvidence{}, testTarget())
	require.NoError(t, err, "a single pillar failure is never fatal")

	require.NotNil(t, syn.ModelErrors.Build)
	assert.Contains(t, *syn.ModelErrors.Build, "model overloaded")
	assert.Nil(t, syn.ModelErrors.Infra)
	assert.Nil(t, syn.ModelErrors.Buyer)
	assert.Equal(t, report.DefaultBuildCost(), syn.BuildCost, "failed pillar carries its defaults")
	assert.Equal(t, 3, client.attempts["build"], "two extra attempts after the first")
	assert.Equal(t, 1, client.attempts["infra"])
}

func TestSynthesize_MalformedThenValidJSON(t *testing.T) {
	client := &mockCompletions{respond: func(pillar string, attempt int) (string, error) {
		if pillar == "infra" && attempt == 1 {
			return "I think the answer is about $2000/mo", nil
		}
		if pillar == "infra" {
			return validInfraJSON, nil
		}
		return `{}`, nil
	}}

	syn, err := New(client, "claude-sonnet-4-5-20250929", 2).Synthesize(
		context.Background(), scanner.InfraEvidence{}, scanner.BuildEvidence{}, scanner.BuyerEvidence{}, testTarget())
	require.NoError(t, err)
	assert.Nil(t, syn.ModelErrors.Infra)
	assert.Equal(t, 2, client.attempts["infra"])
	assert.Equal(t, report.Triad{Low: 1000, Mid: 2000, High: 3000}, syn.InfraCost.MonthlyEstimate)
}

func TestSynthesize_EmptyContentRetries(t *testing.T) {
	client := &mockCompletions{respond: func(pillar string, attempt int) (string, error) {
		if pillar == "buyer" {
			return "   ", nil
		}
		return `{}`, nil
	}}

	syn, err := New(client, "claude-sonnet-4-5-20250929", 1).Synthesize(
		context.Background(), scanner.InfraEvidence{}, scanner.BuildEvidence{}, scanner.BuyerEvidence{}, testTarget())
	require.NoError(t, err)
	require.NotNil(t, syn.ModelErrors.Buyer)
	assert.Equal(t, 2, client.attempts["buyer"], "maxRetries 1 means two attempts total")
	assert.Equal(t, report.DefaultBuyerCost(), syn.BuyerCost)
}

func TestParseModelJSON_FencedOutput(t *testing.T) {
	v, err := parseModelJSON("```json\n{\"a\": 1}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}

func TestParseModelJSON_ProseWrappedObject(t *testing.T) {
	v, err := parseModelJSON("Here is the estimate:\n{\"a\": 1}\nLet me know if you need more.")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v)
}

func TestParseModelJSON_RepairsTrailingComma(t *testing.T) {
	v, err := parseModelJSON(`{"a": 1, "b": [1, 2,],}`)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1.0, m["a"])
}

func TestCleanJSON(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\":1}\n```": `{"a":1}`,
		"```\n{\"a\":1}\n```":     `{"a":1}`,
		"prefix {\"a\":1} suffix": `{"a":1}`,
		`{"a":1}`:                 `{"a":1}`,
	}
	for input, want := range cases {
		assert.Equal(t, want, cleanJSON(input), "input %q", input)
	}
}
