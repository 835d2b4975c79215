package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeQuality_Clean(t *testing.T) {
	q := ComputeQuality(PillarErrors{}, PillarErrors{}, false)
	assert.False(t, q.PartialData)
	assert.Empty(t, q.DegradedPillars)
	assert.Equal(t, 100, q.CompletenessScore)
	assert.Nil(t, q.ScannerErrors.Timeout)
}

func TestComputeQuality_ScoreSteps(t *testing.T) {
	// Scores for 0/1/2/3 degraded pillars are 100/67/33/0.
	cases := []struct {
		degraded []Pillar
		score    int
	}{
		{nil, 100},
		{[]Pillar{PillarInfra}, 67},
		{[]Pillar{PillarInfra, PillarBuild}, 33},
		{[]Pillar{PillarInfra, PillarBuild, PillarBuyer}, 0},
	}
	for _, tc := range cases {
		var scanErrs PillarErrors
		for _, p := range tc.degraded {
			scanErrs.Set(p, "agent unreachable")
		}
		q := ComputeQuality(scanErrs, PillarErrors{}, false)
		assert.Equal(t, tc.score, q.CompletenessScore)
		assert.Equal(t, len(tc.degraded) > 0, q.PartialData)
		assert.Len(t, q.DegradedPillars, len(tc.degraded))
	}
}

func TestComputeQuality_PillarDegradedByBothLayersCountsOnce(t *testing.T) {
	var scanErrs, modelErrs PillarErrors
	scanErrs.Set(PillarBuild, "scan failed")
	modelErrs.Set(PillarBuild, "completion failed")

	q := ComputeQuality(scanErrs, modelErrs, false)
	assert.Equal(t, []string{"build"}, q.DegradedPillars)
	assert.Equal(t, 67, q.CompletenessScore)
	require.NotNil(t, q.ScannerErrors.Build)
	require.NotNil(t, q.ModelErrors.Build)
}

func TestComputeQuality_ModelErrorOnly(t *testing.T) {
	var modelErrs PillarErrors
	modelErrs.Set(PillarInfra, "parse failure after retries")

	q := ComputeQuality(PillarErrors{}, modelErrs, false)
	assert.Equal(t, []string{"infra"}, q.DegradedPillars)
	assert.Nil(t, q.ScannerErrors.Infra)
	require.NotNil(t, q.ModelErrors.Infra)
}

func TestComputeQuality_TimeoutMarker(t *testing.T) {
	q := ComputeQuality(PillarErrors{}, PillarErrors{}, true)
	assert.Equal(t, []string{TimeoutMarker}, q.DegradedPillars)
	assert.True(t, q.PartialData)
	assert.Equal(t, 67, q.CompletenessScore)
	require.NotNil(t, q.ScannerErrors.Timeout)
}

func TestComputeQuality_ScoreClampedAtZero(t *testing.T) {
	var scanErrs PillarErrors
	for _, p := range Pillars {
		scanErrs.Set(p, "down")
	}
	q := ComputeQuality(scanErrs, PillarErrors{}, true)
	assert.Len(t, q.DegradedPillars, 4, "three pillars plus the timeout marker")
	assert.Equal(t, 0, q.CompletenessScore)
}

func TestPillarErrors_SetEmptyMessage(t *testing.T) {
	var e PillarErrors
	e.Set(PillarBuyer, "")
	require.NotNil(t, e.Buyer)
	assert.Equal(t, "unknown error", *e.Buyer)
}

func TestComputeMeta_FullCoverage(t *testing.T) {
	now := time.Now()
	stats := map[Pillar]PillarStats{
		PillarInfra: {
			TasksExpected:  4,
			TasksSucceeded: 4,
			Sources:        []string{"site", "traffic-intel", "site", "linkedin"},
			ExtractedAt:    now.Add(-time.Minute),
		},
	}
	meta := ComputeMeta(stats, now)
	require.NotNil(t, meta)
	assert.Equal(t, 1.0, meta.Infra.Coverage)
	assert.Equal(t, 3, meta.Infra.SourceFamilies)
	assert.Equal(t, "fresh", meta.Infra.Freshness)
	assert.Equal(t, "high", meta.Infra.Confidence)

	// Pillars without stats bottom out rather than erroring.
	assert.Equal(t, 0.0, meta.Build.Coverage)
	assert.Equal(t, "stale", meta.Build.Freshness)
	assert.Equal(t, "low", meta.Build.Confidence)
}

func TestComputeMeta_WarningsLowerConfidence(t *testing.T) {
	now := time.Now()
	clean := computePillarMeta(PillarStats{
		TasksExpected:  4,
		TasksSucceeded: 3,
		Sources:        []string{"site", "github"},
		ExtractedAt:    now.Add(-30 * time.Minute),
	}, now)
	noisy := computePillarMeta(PillarStats{
		TasksExpected:  4,
		TasksSucceeded: 3,
		Sources:        []string{"site", "github"},
		ExtractedAt:    now.Add(-30 * time.Minute),
		Warnings:       []string{"a", "b", "c"},
	}, now)

	assert.Equal(t, "recent", clean.Freshness)
	assert.Equal(t, "medium", clean.Confidence)
	assert.Equal(t, "low", noisy.Confidence)
}
