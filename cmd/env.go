package main

import (
	"github.com/sells-group/costscan-cli/internal/investigate"
	"github.com/sells-group/costscan-cli/internal/modeler"
	"github.com/sells-group/costscan-cli/pkg/anthropic"
	"github.com/sells-group/costscan-cli/pkg/tinyfish"
)

// env holds the process-wide collaborator clients and the coordinator built
// on them. Clients are constructed once per process and injected, never
// instantiated per request.
type env struct {
	agent       tinyfish.Client
	coordinator *investigate.Coordinator
}

func newEnv() *env {
	agent := tinyfish.NewClient(cfg.Tinyfish.Key,
		tinyfish.WithBaseURL(cfg.Tinyfish.BaseURL),
		tinyfish.WithRateLimit(cfg.Tinyfish.RatePerSec, cfg.Tinyfish.RateBurst),
	)

	synth := modeler.New(
		anthropic.NewClient(cfg.Anthropic.Key),
		cfg.Anthropic.Model,
		cfg.Anthropic.MaxRetries,
	)

	return &env{
		agent:       agent,
		coordinator: investigate.New(agent, synth, cfg.Investigation),
	}
}
