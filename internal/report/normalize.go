package report

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// The normalizers below are the defensive boundary between the generative
// model and the rest of the system. They accept literally any decoded JSON
// value (nil, wrong types at any depth) and always return a fully populated
// pillar struct. Missing or malformed fields fall back to documented
// defaults; triads are re-sorted so Low <= Mid <= High holds no matter what
// the model returned.

// NormalizeInfraCost maps arbitrary model output onto an InfraCost.
func NormalizeInfraCost(value any) InfraCost {
	fallback := DefaultInfraCost()
	input := asObject(value)

	out := InfraCost{
		MonthlyEstimate: normalizeTriad(input["monthlyEstimate"], Triad{Low: 200000, Mid: 450000, High: 900000}),
		PerUserEstimate: normalizeTriad(input["perUserEstimate"], Triad{Low: 0.2, Mid: 0.45, High: 0.9}),
		RevenueEstimate: asNumber(input["revenueEstimate"], 0),
		GrossMargin:     normalizeTriad(input["grossMargin"], Triad{Low: 70, Mid: 82, High: 90}),
	}

	if items, ok := input["breakdown"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			out.Breakdown = append(out.Breakdown, InfraBreakdown{
				Category:   asString(row["category"], "Unknown category"),
				Estimate:   asString(row["estimate"], "Unknown"),
				Confidence: normalizeConfidence(row["confidence"]),
				Evidence:   asString(row["evidence"], "Derived from limited public signals."),
				Pct:        asNumber(row["pct"], 0),
			})
		}
	}
	if len(out.Breakdown) == 0 {
		out.Breakdown = fallback.Breakdown
	}

	if items, ok := input["signals"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			out.Signals = append(out.Signals, Signal{
				Icon: asString(row["icon"], "•"),
				Text: asString(row["text"], "Signal data unavailable"),
			})
		}
	}
	if len(out.Signals) == 0 {
		out.Signals = fallback.Signals
	}

	return out
}

// NormalizeBuildCost maps arbitrary model output onto a BuildCost.
func NormalizeBuildCost(value any) BuildCost {
	fallback := DefaultBuildCost()
	input := asObject(value)

	out := BuildCost{
		TotalEstimate: normalizeTriad(input["totalEstimate"], Triad{Low: 1500000, Mid: 3500000, High: 7000000}),
		TimeEstimate:  normalizeTriad(input["timeEstimate"], Triad{Low: 8, Mid: 14, High: 24}),
		TeamSize:      normalizeTeamSize(input["teamSize"], fallback.TeamSize),
	}

	if items, ok := input["breakdown"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			out.Breakdown = append(out.Breakdown, BuildModule{
				Module:     asString(row["module"], "Unknown module"),
				Effort:     asString(row["effort"], "Unknown"),
				Cost:       asString(row["cost"], "Unknown"),
				Complexity: normalizeComplexity(row["complexity"]),
				Notes:      asString(row["notes"], "Evidence limited; estimate uses conservative assumptions."),
			})
		}
	}
	if len(out.Breakdown) == 0 {
		out.Breakdown = fallback.Breakdown
	}

	if items, ok := input["techStack"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			detected, _ := row["detected"].(bool)
			out.TechStack = append(out.TechStack, TechStackEntry{
				Layer:      asString(row["layer"], "Unknown layer"),
				Tech:       asString(row["tech"], "Unknown"),
				Detected:   detected,
				Confidence: normalizeConfidence(row["confidence"]),
			})
		}
	}
	if len(out.TechStack) == 0 {
		out.TechStack = fallback.TechStack
	}

	return out
}

// NormalizeBuyerCost maps arbitrary model output onto a BuyerCost.
func NormalizeBuyerCost(value any) BuyerCost {
	fallback := DefaultBuyerCost()
	input := asObject(value)

	var out BuyerCost

	if items, ok := input["plans"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			plan := Plan{
				Name:          asString(row["name"], "Unknown"),
				Listed:        asString(row["listed"], "Unknown"),
				ActualMonthly: asString(row["actualMonthly"], "Unknown"),
				Gotchas:       []string{},
				HiddenCosts:   []HiddenCost{},
			}
			if gotchas, ok := row["gotchas"].([]any); ok {
				for _, g := range gotchas {
					plan.Gotchas = append(plan.Gotchas, asString(g, "Unknown limitation"))
				}
			}
			if hidden, ok := row["hiddenCosts"].([]any); ok {
				for _, h := range hidden {
					hc := asObject(h)
					plan.HiddenCosts = append(plan.HiddenCosts, HiddenCost{
						Item: asString(hc["item"], "Unknown"),
						Cost: asString(hc["cost"], "Unknown"),
						Note: asString(hc["note"], "Estimate based on partial evidence."),
					})
				}
			}
			out.Plans = append(out.Plans, plan)
		}
	}
	if len(out.Plans) == 0 {
		out.Plans = fallback.Plans
	}

	if items, ok := input["tcoComparison"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			out.TCOComparison = append(out.TCOComparison, TCORow{
				Scenario:      asString(row["scenario"], "Unknown scenario"),
				MonthlyListed: asString(row["monthlyListed"], "Unknown"),
				MonthlyActual: asString(row["monthlyActual"], "Unknown"),
				AnnualDelta:   asString(row["annualDelta"], "Unknown"),
				Note:          asString(row["note"], "Estimate based on limited information."),
			})
		}
	}
	if len(out.TCOComparison) == 0 {
		out.TCOComparison = fallback.TCOComparison
	}

	if items, ok := input["competitorComparison"].([]any); ok {
		for _, item := range items {
			row := asObject(item)
			out.CompetitorComparison = append(out.CompetitorComparison, Competitor{
				Name:     asString(row["name"], "Unknown competitor"),
				Cost:     asString(row["cost"], "Unknown"),
				Features: asString(row["features"], "N/A"),
			})
		}
	}
	if len(out.CompetitorComparison) == 0 {
		out.CompetitorComparison = fallback.CompetitorComparison
	}

	return out
}

// DefaultInfraCost returns the documented fallback for a degraded infra pillar.
func DefaultInfraCost() InfraCost {
	return InfraCost{
		MonthlyEstimate: Triad{Low: 200000, Mid: 450000, High: 900000},
		PerUserEstimate: Triad{Low: 0.2, Mid: 0.45, High: 0.9},
		RevenueEstimate: 0,
		GrossMargin:     Triad{Low: 70, Mid: 82, High: 90},
		Breakdown: []InfraBreakdown{{
			Category:   "Infrastructure baseline",
			Estimate:   "Insufficient external evidence",
			Confidence: "low",
			Evidence:   "Public data was limited during this run.",
			Pct:        100,
		}},
		Signals: []Signal{{Icon: "•", Text: "Limited signal quality. Treat estimates as directional."}},
	}
}

// DefaultBuildCost returns the documented fallback for a degraded build pillar.
func DefaultBuildCost() BuildCost {
	return BuildCost{
		TotalEstimate: Triad{Low: 1500000, Mid: 3500000, High: 7000000},
		TimeEstimate:  Triad{Low: 8, Mid: 14, High: 24},
		TeamSize:      TeamSize{Min: 6, Optimal: 10, Max: 18},
		Breakdown: []BuildModule{{
			Module:     "Core platform",
			Effort:     "Unknown",
			Cost:       "Unknown",
			Complexity: "medium",
			Notes:      "Insufficient feature evidence to generate module-level confidence.",
		}},
		TechStack: []TechStackEntry{{Layer: "Application", Tech: "Unknown", Detected: false, Confidence: "low"}},
	}
}

// DefaultBuyerCost returns the documented fallback for a degraded buyer pillar.
func DefaultBuyerCost() BuyerCost {
	return BuyerCost{
		Plans: []Plan{{
			Name:          "Unknown",
			Listed:        "Unknown",
			ActualMonthly: "Unknown",
			Gotchas:       []string{"Pricing evidence was limited in this scan."},
			HiddenCosts:   []HiddenCost{},
		}},
		TCOComparison: []TCORow{{
			Scenario:      "Typical team",
			MonthlyListed: "Unknown",
			MonthlyActual: "Unknown",
			AnnualDelta:   "Unknown",
			Note:          "Insufficient pricing data to quantify delta.",
		}},
		CompetitorComparison: []Competitor{{Name: "Peer SaaS", Cost: "Unknown", Features: "Comparable feature set"}},
	}
}

func normalizeTriad(value any, fallback Triad) Triad {
	source := asObject(value)
	vals := []float64{
		asNumber(source["low"], fallback.Low),
		asNumber(source["mid"], fallback.Mid),
		asNumber(source["high"], fallback.High),
	}
	sort.Float64s(vals)
	return Triad{Low: vals[0], Mid: vals[1], High: vals[2]}
}

func normalizeTeamSize(value any, fallback TeamSize) TeamSize {
	source := asObject(value)
	vals := []float64{
		asNumber(source["min"], fallback.Min),
		asNumber(source["optimal"], fallback.Optimal),
		asNumber(source["max"], fallback.Max),
	}
	sort.Float64s(vals)
	return TeamSize{Min: vals[0], Optimal: vals[1], Max: vals[2]}
}

// normalizeConfidence validates against the allow-list, defaulting to the
// lowest-trust value.
func normalizeConfidence(value any) string {
	s, _ := value.(string)
	switch s {
	case "high", "medium", "low":
		return s
	}
	return "low"
}

func normalizeComplexity(value any) string {
	s, _ := value.(string)
	switch s {
	case "extreme", "hard", "medium":
		return s
	}
	return "medium"
}

// asObject returns value as a JSON object, or an empty map for anything else.
func asObject(value any) map[string]any {
	if m, ok := value.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// asNumber coerces numeric JSON values and numeric strings, rejecting
// non-finite results.
func asNumber(value any, fallback float64) float64 {
	var parsed float64
	switch n := value.(type) {
	case float64:
		parsed = n
	case int:
		parsed = float64(n)
	case int64:
		parsed = float64(n)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return fallback
		}
		parsed = f
	default:
		return fallback
	}
	if math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return fallback
	}
	return parsed
}

// asString accepts non-empty strings only; anything else falls back.
func asString(value any, fallback string) string {
	if s, ok := value.(string); ok && strings.TrimSpace(s) != "" {
		return s
	}
	return fallback
}
