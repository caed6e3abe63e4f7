package main

import (
	"log/slog"

	"github.com/rendis/scenecraft/internal/agent"
	"github.com/rendis/scenecraft/internal/diagram"
	"github.com/rendis/scenecraft/internal/jobs"
	"github.com/rendis/scenecraft/internal/llm"
	"github.com/rendis/scenecraft/internal/metrics"
	"github.com/rendis/scenecraft/internal/scene"
	"github.com/rendis/scenecraft/pkg/schema"
)

// app is the wired core shared by the serve and mcp commands.
type app struct {
	metrics *metrics.Metrics
	client  llm.Client
	runner  *agent.Runner
	manager *jobs.Manager
	sweeper *jobs.Sweeper
}

// newApp wires the job manager to the agent graph. A nil client selects the
// OpenAI-compatible upstream from cfg.
func newApp(cfg Config, client llm.Client, logger *slog.Logger) (*app, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	m := metrics.New(nil)

	if client == nil {
		if cfg.LLMAPIKey == "" {
			logger.Warn("no model API key configured, upstream calls will be rejected")
		}
		client = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:   cfg.LLMAPIKey,
			BaseURL:  cfg.LLMBaseURL,
			Timeout:  cfg.LLMTimeout.Std(),
			Retry:    llm.DefaultRetryPolicy(),
			Breaker:  llm.DefaultBreakerConfig(),
			Logger:   logger,
			Recorder: m,
		})
	}

	inspector, err := scene.NewInspector(nil)
	if err != nil {
		return nil, err
	}
	runner, err := agent.NewRunner(agent.Deps{
		Client:    client,
		Inspector: inspector,
		Edits:     m,
		Logger:    logger,
	}, m)
	if err != nil {
		return nil, err
	}

	registry := jobs.NewRegistry(
		jobs.WithLogger(logger),
		jobs.WithRecorder(m),
		jobs.WithTransitionHook(func(id string, from, to schema.JobStatus) {
			logger.Debug("job transition", slog.String("job_id", id), slog.String("from", string(from)), slog.String("to", string(to)))
		}),
	)
	manager := jobs.NewManager(registry, runner, inspector.Validator(), jobs.Config{
		PoolSize:     cfg.PoolSize,
		JobTimeout:   cfg.JobTimeout.Std(),
		DefaultModel: cfg.DefaultModel,
	}, logger)

	sweeper, err := jobs.NewSweeper(registry, cfg.SweepSchedule, cfg.JobMaxIdle.Std(), logger)
	if err != nil {
		return nil, err
	}

	return &app{metrics: m, client: client, runner: runner, manager: manager, sweeper: sweeper}, nil
}

// workflow returns a diagram of the assistant workflow graph.
func (a *app) workflow() *diagram.Model {
	g := a.runner.Graph()
	return diagram.FromWorkflow(g.Start(), g.Transitions())
}
