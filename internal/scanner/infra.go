package scanner

import (
	"context"
	"fmt"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// InfraEvidence is the raw evidence for the "what it costs them to run"
// pillar. Sections left nil simply carry no signal into synthesis.
type InfraEvidence struct {
	TechStack  map[string]any `json:"techStack"`
	Traffic    map[string]any `json:"traffic"`
	ThirdParty []any          `json:"thirdParty"`
	Headcount  map[string]any `json:"headcount"`
}

// InfraScanner gathers infrastructure and traffic signals.
type InfraScanner struct {
	agent tinyfish.Client
}

// NewInfraScanner creates an InfraScanner using the given agent client.
func NewInfraScanner(agent tinyfish.Client) *InfraScanner {
	return &InfraScanner{agent: agent}
}

// Scan runs the infra evidence tasks. Full mode fans out to four tasks
// (tech stack, traffic, third-party services, engineering headcount); fast
// mode runs one combined pass.
func (s *InfraScanner) Scan(ctx context.Context, req target.Request, opts Options) (InfraEvidence, report.PillarStats, error) {
	if opts.Fast {
		tasks := []task{{
			name:   "combined",
			source: "site",
			run: func(ctx context.Context) (any, error) {
				return runGoal(ctx, s.agent, req.URL, FastInfraGoal(req.Domain))
			},
		}}
		results, stats := runTasks(ctx, report.PillarInfra, tasks)

		var ev InfraEvidence
		if combined := coerceObject(results[0]); combined != nil {
			ev.TechStack = coerceObject(combined["techStack"])
			ev.Traffic = coerceObject(combined["traffic"])
		}
		return ev, stats, allFailed(report.PillarInfra, stats)
	}

	tasks := []task{
		{
			name:   "tech_stack",
			source: "site",
			run: func(ctx context.Context) (any, error) {
				return runGoal(ctx, s.agent, req.URL, infraTechStackGoal)
			},
		},
		{
			name:   "traffic",
			source: "traffic-intel",
			run: func(ctx context.Context) (any, error) {
				return runGoal(ctx, s.agent, req.URL, fmt.Sprintf(infraTrafficGoal, req.Domain))
			},
		},
		{
			name:   "third_party",
			source: "site",
			run: func(ctx context.Context) (any, error) {
				return runGoal(ctx, s.agent, req.URL, infraThirdPartyGoal)
			},
		},
		{
			name:   "headcount",
			source: "linkedin",
			run: func(ctx context.Context) (any, error) {
				return runGoal(ctx, s.agent, "https://"+req.Domain, fmt.Sprintf(infraHeadcountGoal, req.Name))
			},
		},
	}
	results, stats := runTasks(ctx, report.PillarInfra, tasks)

	ev := InfraEvidence{
		TechStack:  coerceObject(results[0]),
		Traffic:    coerceObject(results[1]),
		ThirdParty: coerceArray(results[2]),
		Headcount:  coerceObject(results[3]),
	}
	return ev, stats, allFailed(report.PillarInfra, stats)
}

const infraTechStackGoal = `Fingerprint the site's technology stack from HTTP headers, script bundles, and CDN signatures.
Return strict JSON only:
{ "signals": {}, "cloudProvider": {}, "framework": "string", "cdn": "string" }`

const infraTrafficGoal = `Estimate traffic for %s from public sources such as Cloudflare Radar and SimilarWeb.
Return strict JSON only:
{ "cloudflareRadar": {}, "similarWeb": {}, "confidence": "high|medium|low", "notes": [] }`

const infraThirdPartyGoal = `List third-party services and APIs the product visibly depends on (analytics, payments, email, auth, observability).
Return strict JSON only as an array:
[{ "name": "string", "category": "string", "evidence": "string" }]`

const infraHeadcountGoal = `Estimate engineering headcount for %s from LinkedIn and public job postings.
Return strict JSON only:
{ "engineers": null, "total": null, "sources": [] }`

// FastInfraGoal is the single combined infra extraction used in fast mode
// and for async background runs.
func FastInfraGoal(domain string) string {
	return fmt.Sprintf(`Analyze %s and infer infrastructure + traffic signals in one pass. `+
		`Return strict JSON only: { "techStack": { "signals": {}, "cloudProvider": {}, "framework": "string", "cdn": "string" }, `+
		`"traffic": { "cloudflareRadar": {}, "similarWeb": {}, "confidence": "high|medium|low", "notes": [] } } `+
		`Be concise. If uncertain, use conservative values.`, domain)
}
