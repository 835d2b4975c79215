// Package scanner implements the three evidence gatherers. Each scanner
// issues one or more extraction tasks to the web-automation agent for its
// pillar, tolerating per-task failure: a failed task zeroes its evidence
// section, and only a scan with zero surviving tasks is reported as a
// pillar-level failure.
package scanner

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/costscan-cli/internal/report"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// Options controls how much evidence a scan gathers. Fast mode collapses a
// pillar to a single combined extraction task so a scan fits a shorter
// deadline.
type Options struct {
	Fast bool
}

// task is one unit of evidence gathering. Tasks are settled exactly once and
// never retried at this layer.
type task struct {
	name   string
	source string
	run    func(ctx context.Context) (any, error)
}

// runTasks executes tasks concurrently with all-settled semantics: one
// failure never aborts siblings. The returned slice is aligned with tasks;
// failed slots are nil.
func runTasks(ctx context.Context, pillar report.Pillar, tasks []task) ([]any, report.PillarStats) {
	results := make([]any, len(tasks))
	failures := make([]string, len(tasks))

	g, gCtx := errgroup.WithContext(ctx)
	for i, t := range tasks {
		g.Go(func() error {
			v, err := t.run(gCtx)
			if err != nil {
				failures[i] = t.name + ": " + err.Error()
				zap.L().Warn("scanner task failed",
					zap.String("pillar", string(pillar)),
					zap.String("task", t.name),
					zap.Error(err),
				)
				return nil // Don't fail the group on individual tasks.
			}
			results[i] = v
			return nil
		})
	}
	_ = g.Wait()

	stats := report.PillarStats{
		TasksExpected: len(tasks),
		ExtractedAt:   time.Now().UTC(),
	}
	for i, t := range tasks {
		if results[i] != nil {
			stats.TasksSucceeded++
			stats.Sources = append(stats.Sources, t.source)
		} else if failures[i] != "" {
			stats.Warnings = append(stats.Warnings, failures[i])
		}
	}
	return results, stats
}

// allFailed builds the pillar-level error for a scan where nothing survived.
func allFailed(pillar report.Pillar, stats report.PillarStats) error {
	if stats.TasksSucceeded > 0 {
		return nil
	}
	return eris.Errorf("%s scanner: all %d extraction tasks failed", pillar, stats.TasksExpected)
}

// runGoal sends one extraction goal to the agent and decodes its result.
// The agent's output is untrusted; callers coerce the decoded value.
func runGoal(ctx context.Context, agent tinyfish.Client, url, goal string) (any, error) {
	res, err := agent.Run(ctx, tinyfish.RunRequest{URL: url, Goal: goal})
	if err != nil {
		return nil, err
	}
	if len(res.Result) == 0 {
		return nil, eris.New("empty agent result")
	}
	var v any
	if err := json.Unmarshal(res.Result, &v); err != nil {
		return nil, eris.Wrap(err, "decode agent result")
	}
	if v == nil {
		return nil, eris.New("null agent result")
	}
	return v, nil
}

// coerceObject keeps JSON objects only.
func coerceObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

// coerceArray keeps JSON arrays only.
func coerceArray(v any) []any {
	if a, ok := v.([]any); ok {
		return a
	}
	return nil
}
