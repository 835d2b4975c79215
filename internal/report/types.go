// Package report defines the canonical cost report schema, the defensive
// normalizer that maps untrusted model JSON onto it, and the quality scorer
// that describes how much of a report is trustworthy.
package report

// Pillar identifies one of the three cost dimensions analyzed per target.
type Pillar string

const (
	PillarInfra Pillar = "infra"
	PillarBuild Pillar = "build"
	PillarBuyer Pillar = "buyer"
)

// Pillars lists all pillars in canonical order.
var Pillars = []Pillar{PillarInfra, PillarBuild, PillarBuyer}

// Triad is a low/mid/high estimate range. Normalization guarantees
// Low <= Mid <= High.
type Triad struct {
	Low  float64 `json:"low"`
	Mid  float64 `json:"mid"`
	High float64 `json:"high"`
}

// TeamSize is a min/optimal/max headcount range. Normalization guarantees
// Min <= Optimal <= Max.
type TeamSize struct {
	Min     float64 `json:"min"`
	Optimal float64 `json:"optimal"`
	Max     float64 `json:"max"`
}

// InfraBreakdown is one category row in the infrastructure cost breakdown.
type InfraBreakdown struct {
	Category   string  `json:"category"`
	Estimate   string  `json:"estimate"`
	Confidence string  `json:"confidence"`
	Evidence   string  `json:"evidence"`
	Pct        float64 `json:"pct"`
}

// Signal is a short annotated observation surfaced alongside infra costs.
type Signal struct {
	Icon string `json:"icon"`
	Text string `json:"text"`
}

// InfraCost is the "what it costs them to run" pillar.
type InfraCost struct {
	MonthlyEstimate Triad            `json:"monthlyEstimate"`
	PerUserEstimate Triad            `json:"perUserEstimate"`
	RevenueEstimate float64          `json:"revenueEstimate"`
	GrossMargin     Triad            `json:"grossMargin"`
	Breakdown       []InfraBreakdown `json:"breakdown"`
	Signals         []Signal         `json:"signals"`
}

// BuildModule is one module row in the build cost breakdown.
type BuildModule struct {
	Module     string `json:"module"`
	Effort     string `json:"effort"`
	Cost       string `json:"cost"`
	Complexity string `json:"complexity"`
	Notes      string `json:"notes"`
}

// TechStackEntry describes one detected (or assumed) technology layer.
type TechStackEntry struct {
	Layer      string `json:"layer"`
	Tech       string `json:"tech"`
	Detected   bool   `json:"detected"`
	Confidence string `json:"confidence"`
}

// BuildCost is the "what it would cost to rebuild" pillar.
type BuildCost struct {
	TotalEstimate Triad            `json:"totalEstimate"`
	TimeEstimate  Triad            `json:"timeEstimate"`
	TeamSize      TeamSize         `json:"teamSize"`
	Breakdown     []BuildModule    `json:"breakdown"`
	TechStack     []TechStackEntry `json:"techStack"`
}

// HiddenCost is one hidden line item attached to a pricing plan.
type HiddenCost struct {
	Item string `json:"item"`
	Cost string `json:"cost"`
	Note string `json:"note"`
}

// Plan is one pricing plan with its real monthly cost and gotchas.
type Plan struct {
	Name          string       `json:"name"`
	Listed        string       `json:"listed"`
	ActualMonthly string       `json:"actualMonthly"`
	Gotchas       []string     `json:"gotchas"`
	HiddenCosts   []HiddenCost `json:"hiddenCosts"`
}

// TCORow compares listed vs actual monthly spend for one buyer scenario.
type TCORow struct {
	Scenario      string `json:"scenario"`
	MonthlyListed string `json:"monthlyListed"`
	MonthlyActual string `json:"monthlyActual"`
	AnnualDelta   string `json:"annualDelta"`
	Note          string `json:"note"`
}

// Competitor is one row in the competitor pricing comparison.
type Competitor struct {
	Name     string `json:"name"`
	Cost     string `json:"cost"`
	Features string `json:"features"`
}

// BuyerCost is the "what it actually costs the buyer" pillar.
type BuyerCost struct {
	Plans                []Plan       `json:"plans"`
	TCOComparison        []TCORow     `json:"tcoComparison"`
	CompetitorComparison []Competitor `json:"competitorComparison"`
}

// Target identifies the investigated property in the report envelope.
type Target struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Logo string `json:"logo"`
}

// CostReport is the canonical three-pillar output of one investigation.
// Immutable after emission.
type CostReport struct {
	Target           Target    `json:"target"`
	ScannedAt        string    `json:"scannedAt"`
	PlatformsScanned []string  `json:"platformsScanned"`
	InfraCost        InfraCost `json:"infraCost"`
	BuildCost        BuildCost `json:"buildCost"`
	BuyerCost        BuyerCost `json:"buyerCost"`
	Quality          Quality   `json:"quality"`
}
