package scanner

import (
	"context"
	"fmt"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// BuyerEvidence is the raw evidence for the "what it actually costs the
// buyer" pillar.
type BuyerEvidence struct {
	Pricing        map[string]any `json:"pricing"`
	ReviewInsights []any          `json:"reviewInsights"`
	Limits         []any          `json:"limits"`
	Competitors    []any          `json:"competitors"`
}

// BuyerScanner gathers pricing, review complaints, documented limits, and
// competitor signals.
type BuyerScanner struct {
	agent tinyfish.Client
}

// NewBuyerScanner creates a BuyerScanner using the given agent client.
func NewBuyerScanner(agent tinyfish.Client) *BuyerScanner {
	return &BuyerScanner{agent: agent}
}

// Scan runs the buyer evidence tasks. Full mode fans out to four tasks;
// fast mode extracts pricing only.
func (s *BuyerScanner) Scan(ctx context.Context, req target.Request, opts Options) (BuyerEvidence, report.PillarStats, error) {
	tasks := []task{{
		name:   "pricing",
		source: "site",
		run: func(ctx context.Context) (any, error) {
			return runGoal(ctx, s.agent, req.URL, BuyerPricingGoal)
		},
	}}
	if !opts.Fast {
		tasks = append(tasks,
			task{
				name:   "reviews",
				source: "reviews",
				run: func(ctx context.Context) (any, error) {
					return runGoal(ctx, s.agent, req.URL, fmt.Sprintf(buyerReviewsGoal, req.Name))
				},
			},
			task{
				name:   "limits",
				source: "docs",
				run: func(ctx context.Context) (any, error) {
					return runGoal(ctx, s.agent, "https://"+req.Domain, fmt.Sprintf(buyerLimitsGoal, req.Domain))
				},
			},
			task{
				name:   "competitors",
				source: "market",
				run: func(ctx context.Context) (any, error) {
					return runGoal(ctx, s.agent, "https://"+req.Domain, fmt.Sprintf(buyerCompetitorsGoal, req.Domain))
				},
			},
		)
	}

	results, stats := runTasks(ctx, report.PillarBuyer, tasks)

	ev := BuyerEvidence{
		Pricing: coerceObject(results[0]),
	}
	if !opts.Fast {
		ev.ReviewInsights = coerceArray(results[1])
		ev.Limits = coerceArray(results[2])
		ev.Competitors = coerceArray(results[3])
	}
	return ev, stats, allFailed(report.PillarBuyer, stats)
}

// BuyerPricingGoal is the pricing-page extraction. Also used for async
// background runs.
const BuyerPricingGoal = `Find and extract pricing page details including plan cards and fine print.
Return strict JSON only:
{
  "plans": [{ "name": "string", "price": "string", "features": ["string"], "limits": ["string"] }],
  "finePrint": ["string"]
}`

const buyerReviewsGoal = `Extract public complaints and reviews about %s pricing, hidden costs, and overages.
Return strict JSON only as an array:
[{ "source": "string", "text": "string" }]`

const buyerLimitsGoal = `Find help/doc limits for %s: rate limits, storage, file size, quota, fair use, overages.
Return strict JSON only as an array:
[{ "source": "string", "terms": ["string"] }]`

const buyerCompetitorsGoal = `Identify likely competitors and pricing signal snippets for %s.
Return strict JSON only as an array:
[{ "name": "string", "cost": "string", "features": "string" }]`
