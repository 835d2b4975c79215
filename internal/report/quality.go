package report

import (
	"math"
	"time"
)

// TimeoutMarker is appended to the degraded list when the global
// investigation deadline fired before all gatherers settled.
const TimeoutMarker = "timeout"

const timeoutMessage = "Investigation time limit reached; partial report."

// PillarErrors records one recovered failure message per pillar. A nil entry
// means the pillar settled cleanly. This is the typed form of the
// "recover locally, record centrally" policy: gatherer and model failures
// land here instead of propagating.
type PillarErrors struct {
	Infra *string `json:"infra"`
	Build *string `json:"build"`
	Buyer *string `json:"buyer"`
}

// Set records a failure message for p. Empty messages are normalized to a
// generic one so a recorded failure is never invisible.
func (e *PillarErrors) Set(p Pillar, msg string) {
	if msg == "" {
		msg = "unknown error"
	}
	switch p {
	case PillarInfra:
		e.Infra = &msg
	case PillarBuild:
		e.Build = &msg
	case PillarBuyer:
		e.Buyer = &msg
	}
}

// Get returns the recorded message for p, or nil.
func (e PillarErrors) Get(p Pillar) *string {
	switch p {
	case PillarInfra:
		return e.Infra
	case PillarBuild:
		return e.Build
	case PillarBuyer:
		return e.Buyer
	}
	return nil
}

// Failed returns the pillars with a recorded failure, in canonical order.
func (e PillarErrors) Failed() []Pillar {
	var out []Pillar
	for _, p := range Pillars {
		if e.Get(p) != nil {
			out = append(out, p)
		}
	}
	return out
}

// ScannerErrors is PillarErrors plus the synthetic timeout entry.
type ScannerErrors struct {
	PillarErrors
	Timeout *string `json:"timeout,omitempty"`
}

// Quality describes how much of the report is trustworthy.
// Invariants: PartialData == (len(DegradedPillars) > 0) and
// CompletenessScore == max(0, round((3-len(DegradedPillars))/3*100)).
type Quality struct {
	PartialData       bool          `json:"partialData"`
	DegradedPillars   []string      `json:"degradedPillars"`
	ScannerErrors     ScannerErrors `json:"scannerErrors"`
	ModelErrors       PillarErrors  `json:"modelErrors"`
	CompletenessScore int           `json:"completenessScore"`
	Meta              *QualityMeta  `json:"qualityMeta,omitempty"`
}

// ComputeQuality merges gatherer-level and model-level failures into the
// final quality block. A pillar degraded by both layers counts once. The
// timeout marker is its own degraded entry, which can push the score to the
// zero clamp.
func ComputeQuality(scanErrs PillarErrors, modelErrs PillarErrors, timedOut bool) Quality {
	degraded := []string{}
	seen := map[string]bool{}
	for _, p := range scanErrs.Failed() {
		if !seen[string(p)] {
			seen[string(p)] = true
			degraded = append(degraded, string(p))
		}
	}
	if timedOut {
		degraded = append(degraded, TimeoutMarker)
	}
	for _, p := range modelErrs.Failed() {
		if !seen[string(p)] {
			seen[string(p)] = true
			degraded = append(degraded, string(p))
		}
	}

	scanner := ScannerErrors{PillarErrors: scanErrs}
	if timedOut {
		msg := timeoutMessage
		scanner.Timeout = &msg
	}

	score := int(math.Round(float64(3-len(degraded)) / 3 * 100))
	if score < 0 {
		score = 0
	}

	return Quality{
		PartialData:       len(degraded) > 0,
		DegradedPillars:   degraded,
		ScannerErrors:     scanner,
		ModelErrors:       modelErrs,
		CompletenessScore: score,
	}
}

// PillarStats captures how an evidence gatherer fared, for the extended
// quality metadata. Produced by internal/scanner.
type PillarStats struct {
	TasksExpected  int
	TasksSucceeded int
	Sources        []string
	ExtractedAt    time.Time
	Warnings       []string
}

// PillarMeta is per-pillar coverage/freshness/confidence metadata. Derived
// for presentation only; nothing downstream branches on it.
type PillarMeta struct {
	Coverage       float64 `json:"coverage"`
	SourceFamilies int     `json:"sourceFamilies"`
	Freshness      string  `json:"freshness"`
	Confidence     string  `json:"confidence"`
}

// QualityMeta extends Quality with per-pillar metadata.
type QualityMeta struct {
	Infra PillarMeta `json:"infra"`
	Build PillarMeta `json:"build"`
	Buyer PillarMeta `json:"buyer"`
}

// ComputeMeta derives the extended per-pillar metadata from gatherer stats.
// now is injected so freshness bucketing is testable.
func ComputeMeta(stats map[Pillar]PillarStats, now time.Time) *QualityMeta {
	return &QualityMeta{
		Infra: computePillarMeta(stats[PillarInfra], now),
		Build: computePillarMeta(stats[PillarBuild], now),
		Buyer: computePillarMeta(stats[PillarBuyer], now),
	}
}

func computePillarMeta(s PillarStats, now time.Time) PillarMeta {
	coverage := 0.0
	if s.TasksExpected > 0 {
		coverage = float64(s.TasksSucceeded) / float64(s.TasksExpected)
	}

	families := map[string]bool{}
	for _, src := range s.Sources {
		if src != "" {
			families[src] = true
		}
	}

	freshness := "stale"
	if !s.ExtractedAt.IsZero() {
		age := now.Sub(s.ExtractedAt)
		switch {
		case age <= 5*time.Minute:
			freshness = "fresh"
		case age <= time.Hour:
			freshness = "recent"
		}
	}

	// Blend coverage with source reliability, then penalize warnings.
	// The resulting level is a UI affordance, not a control-flow input.
	blended := coverage*0.7 + reliability(len(families))*0.3
	blended -= 0.1 * float64(len(s.Warnings))
	confidence := "low"
	switch {
	case blended >= 0.75:
		confidence = "high"
	case blended >= 0.45:
		confidence = "medium"
	}

	return PillarMeta{
		Coverage:       round2(coverage),
		SourceFamilies: len(families),
		Freshness:      freshness,
		Confidence:     confidence,
	}
}

func reliability(families int) float64 {
	switch {
	case families >= 3:
		return 1.0
	case families == 2:
		return 0.7
	case families == 1:
		return 0.4
	}
	return 0
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
