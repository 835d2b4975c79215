package scanner

import (
	"context"
	"fmt"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/internal/target"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// BuildEvidence is the raw evidence for the "what it would cost to rebuild"
// pillar.
type BuildEvidence struct {
	Features   map[string]any `json:"features"`
	OpenSource []any          `json:"openSource"`
	Hiring     map[string]any `json:"hiring"`
}

// BuildScanner gathers build-relevant features, open-source components, and
// hiring cost benchmarks.
type BuildScanner struct {
	agent tinyfish.Client
}

// NewBuildScanner creates a BuildScanner using the given agent client.
func NewBuildScanner(agent tinyfish.Client) *BuildScanner {
	return &BuildScanner{agent: agent}
}

// Scan runs the build evidence tasks. Full mode fans out to three tasks;
// fast mode detects features only.
func (s *BuildScanner) Scan(ctx context.Context, req target.Request, opts Options) (BuildEvidence, report.PillarStats, error) {
	tasks := []task{{
		name:   "features",
		source: "site",
		run: func(ctx context.Context) (any, error) {
			return runGoal(ctx, s.agent, req.URL, BuildFeaturesGoal)
		},
	}}
	if !opts.Fast {
		tasks = append(tasks,
			task{
				name:   "open_source",
				source: "github",
				run: func(ctx context.Context) (any, error) {
					return runGoal(ctx, s.agent, req.URL, fmt.Sprintf(buildOpenSourceGoal, req.Name))
				},
			},
			task{
				name:   "hiring",
				source: "salary",
				run: func(ctx context.Context) (any, error) {
					return runGoal(ctx, s.agent, "https://"+req.Domain, fmt.Sprintf(buildHiringGoal, req.Name))
				},
			},
		)
	}

	results, stats := runTasks(ctx, report.PillarBuild, tasks)

	ev := BuildEvidence{
		Features: coerceObject(results[0]),
	}
	if !opts.Fast {
		ev.OpenSource = coerceArray(results[1])
		ev.Hiring = coerceObject(results[2])
	}
	return ev, stats, allFailed(report.PillarBuild, stats)
}

// BuildFeaturesGoal is the feature-detection extraction. Also used for async
// background runs.
const BuildFeaturesGoal = `Analyze the product site and return detected build-relevant features.
Output strict JSON only:
{
  "detected": [{ "name": "string", "complexity": "extreme|hard|medium", "evidence": "string" }],
  "pricingPageFeatures": ["string"]
}`

const buildOpenSourceGoal = `Find likely open-source components or repositories linked to %s.
Return strict JSON only as an array:
[{ "name": "string|null", "url": "string|null" }]`

const buildHiringGoal = `Estimate hiring and compensation benchmarks for %s engineering roles.
Return strict JSON only:
{
  "levels": [{ "level": "string|null", "title": "string|null", "totalComp": "string|null" }],
  "notes": []
}`
