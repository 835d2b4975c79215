// Package modeler synthesizes the three pillars' raw evidence into the
// canonical cost report via the completion service.
package modeler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/scanner"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/anthropic"
)

// defaultMaxRetries is the number of extra completion attempts after a
// malformed or empty response.
const defaultMaxRetries = 2

const completionTemperature = 0.3

// CostModeler runs one completion per pillar and normalizes the results.
type CostModeler struct {
	client     anthropic.Client
	model      string
	maxRetries int
}

// New creates a CostModeler. maxRetries < 0 selects the default.
func New(client anthropic.Client, model string, maxRetries int) *CostModeler {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &CostModeler{client: client, model: model, maxRetries: maxRetries}
}

// Synthesis is the modeler's output: one normalized sub-report per pillar
// plus the per-pillar model errors. A pillar whose completion failed after
// retries carries its documented defaults.
type Synthesis struct {
	InfraCost   report.InfraCost
	BuildCost   report.BuildCost
	BuyerCost   report.BuyerCost
	ModelErrors report.PillarErrors
}

// Synthesize runs the three pillar completions concurrently. A failure in
// one pillar never cancels or fails the others; it is recorded in
// ModelErrors and the pillar falls back to defaults. The returned error is
// non-nil only when synthesis cannot run at all.
func (m *CostModeler) Synthesize(ctx context.Context, infra scanner.InfraEvidence, build scanner.BuildEvidence, buyer scanner.BuyerEvidence, tgt target.Request) (*Synthesis, error) {
	if m == nil || m.client == nil {
		return nil, eris.New("modeler: no completion client configured")
	}

	out := &Synthesis{}

	// One slot per pillar; goroutines write disjoint fields.
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		parsed, err := m.requestJSON(gCtx, report.PillarInfra, infraSystemPrompt, infraUserPrompt(infra, tgt), 2000)
		if err != nil {
			out.ModelErrors.Set(report.PillarInfra, err.Error())
			out.InfraCost = report.DefaultInfraCost()
			return nil
		}
		out.InfraCost = report.NormalizeInfraCost(parsed)
		return nil
	})
	g.Go(func() error {
		parsed, err := m.requestJSON(gCtx, report.PillarBuild, buildSystemPrompt, buildUserPrompt(build, tgt), 2500)
		if err != nil {
			out.ModelErrors.Set(report.PillarBuild, err.Error())
			out.BuildCost = report.DefaultBuildCost()
			return nil
		}
		out.BuildCost = report.NormalizeBuildCost(parsed)
		return nil
	})
	g.Go(func() error {
		parsed, err := m.requestJSON(gCtx, report.PillarBuyer, buyerSystemPrompt, buyerUserPrompt(buyer, tgt), 2000)
		if err != nil {
			out.ModelErrors.Set(report.PillarBuyer, err.Error())
			out.BuyerCost = report.DefaultBuyerCost()
			return nil
		}
		out.BuyerCost = report.NormalizeBuyerCost(parsed)
		return nil
	})
	_ = g.Wait()

	return out, nil
}

// requestJSON asks the model for a structured-JSON completion, retrying on
// empty or unparseable output. Before burning a retry on malformed JSON it
// attempts a mechanical repair of the response text.
func (m *CostModeler) requestJSON(ctx context.Context, pillar report.Pillar, system, user string, maxTokens int64) (any, error) {
	temp := completionTemperature
	req := anthropic.MessageRequest{
		Model:       m.model,
		MaxTokens:   maxTokens,
		Temperature: &temp,
		System:      []anthropic.SystemBlock{{Text: system}},
		Messages:    []anthropic.Message{{Role: "user", Content: user}},
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if ctx.Err() != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, eris.Wrap(ctx.Err(), "modeler: completion canceled")
		}

		resp, err := m.client.CreateMessage(ctx, req)
		if err != nil {
			lastErr = err
			continue
		}

		text := resp.Text()
		if strings.TrimSpace(text) == "" {
			lastErr = eris.New("model returned empty content")
			continue
		}

		parsed, err := parseModelJSON(text)
		if err != nil {
			zap.L().Warn("modeler: unparseable model output",
				zap.String("pillar", string(pillar)),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			lastErr = err
			continue
		}

		resp.Usage.LogCost(m.model, "synthesis:"+string(pillar))
		return parsed, nil
	}

	if lastErr == nil {
		lastErr = eris.New("model generation failed")
	}
	return nil, lastErr
}

// parseModelJSON decodes model output into a generic JSON value. Markdown
// fences and surrounding prose are stripped first; if strict parsing still
// fails, the text is run through jsonrepair once.
func parseModelJSON(text string) (any, error) {
	cleaned := cleanJSON(text)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return v, nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil {
		return nil, eris.Wrap(err, "repair model JSON")
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, eris.Wrap(err, "parse model JSON")
	}
	return v, nil
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

func marshalSection(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

const infraSystemPrompt = `You are an expert cloud infrastructure cost analyst. Given technical signals from a SaaS product, estimate monthly infrastructure costs.
Return strict JSON only:
{
  "monthlyEstimate": { "low": number, "mid": number, "high": number },
  "perUserEstimate": { "low": number, "mid": number, "high": number },
  "revenueEstimate": number,
  "grossMargin": { "low": number, "mid": number, "high": number },
  "breakdown": [{ "category": string, "estimate": string, "confidence": "high"|"medium"|"low", "evidence": string, "pct": number }],
  "signals": [{ "icon": string, "text": string }]
}
If data is sparse, return conservative values and explain uncertainty in evidence text.`

func infraUserPrompt(ev scanner.InfraEvidence, tgt target.Request) string {
	return fmt.Sprintf(`Analyze infrastructure costs for %s (%s):
Tech Stack: %s
Traffic Data: %s
Third-Party Services: %s
Engineering Headcount: %s`,
		tgt.Name, tgt.Domain,
		marshalSection(ev.TechStack),
		marshalSection(ev.Traffic),
		marshalSection(ev.ThirdParty),
		marshalSection(ev.Headcount),
	)
}

const buildSystemPrompt = `You are an expert software development cost estimator. Given detected features and tech stack, estimate build cost from scratch.
Return strict JSON only:
{
  "totalEstimate": { "low": number, "mid": number, "high": number },
  "timeEstimate": { "low": number, "mid": number, "high": number },
  "teamSize": { "min": number, "optimal": number, "max": number },
  "breakdown": [{ "module": string, "effort": string, "cost": string, "complexity": "extreme"|"hard"|"medium", "notes": string }],
  "techStack": [{ "layer": string, "tech": string, "detected": boolean, "confidence": "high"|"medium"|"low" }]
}
Use conservative assumptions if source data is weak.`

func buildUserPrompt(ev scanner.BuildEvidence, tgt target.Request) string {
	return fmt.Sprintf(`Estimate build cost for %s (%s):
Detected Features: %s
Open Source Components: %s
Market Salary Data: %s`,
		tgt.Name, tgt.Domain,
		marshalSection(ev.Features),
		marshalSection(ev.OpenSource),
		marshalSection(ev.Hiring),
	)
}

const buyerSystemPrompt = `You are a SaaS procurement analyst uncovering hidden costs.
Return strict JSON only:
{
  "plans": [{ "name": string, "listed": string, "actualMonthly": string, "gotchas": [string], "hiddenCosts": [{ "item": string, "cost": string, "note": string }] }],
  "tcoComparison": [{ "scenario": string, "monthlyListed": string, "monthlyActual": string, "annualDelta": string, "note": string }],
  "competitorComparison": [{ "name": string, "cost": string, "features": string }]
}
If competitor data is unavailable, still provide a reasonable comparison set with explicit uncertainty in notes.`

func buyerUserPrompt(ev scanner.BuyerEvidence, tgt target.Request) string {
	return fmt.Sprintf(`Analyze true buyer costs for %s (%s):
Pricing Data: %s
Review Insights: %s
Documented Limits: %s
Competitor Insights: %s`,
		tgt.Name, tgt.Domain,
		marshalSection(ev.Pricing),
		marshalSection(ev.ReviewInsights),
		marshalSection(ev.Limits),
		marshalSection(ev.Competitors),
	)
}
