// Package hypatia assembles the research assistant's core for library
// consumers: one call builds the LLM gateway, the experiment store and the
// agent loops from a Config.
//
// Usage:
//
//	cfg := config.MustLoad("")
//	app, err := hypatia.New(cfg, logger)
//	defer app.Close()
//
//	state := agents.NewRunState(app.Guard.Begin(), experiment.NumSteps)
//	err = app.Sequencer.Run(ctx, experimentID, 1, state)
package hypatia

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/hypatia-sci/hypatia/agents"
	"github.com/hypatia-sci/hypatia/config"
	"github.com/hypatia-sci/hypatia/experiment"
	"github.com/hypatia-sci/hypatia/internal/metrics"
	"github.com/hypatia-sci/hypatia/llm"
	"github.com/hypatia-sci/hypatia/llm/gemini"
	"github.com/hypatia-sci/hypatia/llm/retry"
	"github.com/hypatia-sci/hypatia/llm/tokenizer"
	"github.com/hypatia-sci/hypatia/sandbox"
)

// Version is the release tag, overridable at build time.
var Version = "0.1.0"

// App is the assembled core. Fields are exported so callers can reach each
// component directly; the zero value is not usable, always go through New.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Gateway   *llm.Gateway
	Store     experiment.Store
	Guard     *agents.RunGuard
	Sequencer *agents.Sequencer
	Builder   *agents.ContextBuilder
	Collector *metrics.Collector
}

// Option adjusts assembly.
type Option func(*options)

type options struct {
	provider llm.Provider
}

// WithProvider injects a custom LLM provider instead of the configured one;
// required when cfg.LLM.Provider is "mock".
func WithProvider(p llm.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New builds the core from cfg. The caller owns Close.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("hypatia: nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	collector := metrics.NewCollector("hypatia", logger)

	provider := o.provider
	if provider == nil {
		switch cfg.LLM.Provider {
		case "gemini", "":
			provider = gemini.NewProvider(gemini.Config{
				APIKey:  cfg.LLM.APIKey,
				Model:   cfg.LLM.Model,
				BaseURL: cfg.LLM.BaseURL,
				Timeout: cfg.LLM.Timeout,
			}, logger)
		case "mock":
			return nil, fmt.Errorf("hypatia: provider %q requires WithProvider", cfg.LLM.Provider)
		default:
			return nil, fmt.Errorf("hypatia: unknown llm provider %q", cfg.LLM.Provider)
		}
	}

	gateway := llm.NewGateway(provider, &llm.GatewayConfig{
		Model: cfg.LLM.Model,
		RetryPolicy: &retry.Policy{
			MaxAttempts: cfg.LLM.Retry.MaxAttempts,
			BaseDelay:   cfg.LLM.Retry.BaseDelay,
			MaxDelay:    cfg.LLM.Retry.MaxDelay,
			Multiplier:  cfg.LLM.Retry.Multiplier,
			Jitter:      cfg.LLM.Retry.Jitter,
		},
	}, collector, logger)

	store, err := experiment.NewStore(storeConfig(cfg.Store), logger)
	if err != nil {
		return nil, fmt.Errorf("hypatia: build store: %w", err)
	}

	builder := agents.NewContextBuilder(tokenCounter(logger))
	guard := &agents.RunGuard{}
	sequencer := agents.NewSequencer(gateway, store, guard, builder, sequencerConfig(cfg), logger)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Gateway:   gateway,
		Store:     store,
		Guard:     guard,
		Sequencer: sequencer,
		Builder:   builder,
		Collector: collector,
	}, nil
}

// Close releases the store's backend resources.
func (a *App) Close() error {
	return a.Store.Close()
}

// tokenCounter prefers a real BPE count; the heuristic estimator is the
// offline fallback.
func tokenCounter(logger *zap.Logger) tokenizer.Counter {
	counter, err := tokenizer.NewTiktokenCounter("")
	if err != nil {
		logger.Warn("tiktoken unavailable, using heuristic token estimates", zap.Error(err))
		return tokenizer.NewEstimator()
	}
	return counter
}

func storeConfig(cfg config.StoreConfig) experiment.StoreConfig {
	return experiment.StoreConfig{
		Type:    experiment.StoreType(cfg.Type),
		BaseDir: cfg.Dir,
		SQL: experiment.SQLConfig{
			Driver: cfg.Database.Driver,
			DSN:    cfg.Database.DSN(),
		},
		Redis: experiment.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		},
		Mongo: experiment.MongoConfig{
			URI:      cfg.Mongo.URI,
			Database: cfg.Mongo.Database,
		},
	}
}

func sequencerConfig(cfg *config.Config) agents.SequencerConfig {
	return agents.SequencerConfig{
		Simulation: agents.SimulationConfig{
			MaxIterations:  cfg.Agents.SimulationMaxIterations,
			IterationDelay: cfg.Agents.SimulationDelay,
			UseSimplifier:  cfg.Agents.UseSimplifier,
		},
		Analysis: agents.AnalysisConfig{
			PerChartAttempts: cfg.Agents.PerChartAttempts,
			MaxCharts:        cfg.Agents.MaxCharts,
		},
		Draft: agents.DraftConfig{
			MaxIterations: cfg.Agents.DraftMaxIterations,
		},
		Sandbox:        sandboxConfig(cfg.Sandbox),
		StepsPerSecond: cfg.Agents.StepsPerSecond,
	}
}

func sandboxConfig(cfg config.SandboxConfig) sandbox.Config {
	return sandbox.Config{
		Timeout:     cfg.Timeout,
		MaxSteps:    cfg.MaxSteps,
		MaxLogLines: cfg.MaxLogLines,
	}
}
