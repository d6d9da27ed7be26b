package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/harunnryd/toko/pkg/agent"
	"github.com/harunnryd/toko/pkg/logging"
	"github.com/harunnryd/toko/pkg/metrics"
	"github.com/harunnryd/toko/pkg/redact"
	"github.com/harunnryd/toko/pkg/runner"
	"github.com/harunnryd/toko/pkg/store"
	"github.com/harunnryd/toko/pkg/toko"
)

func applyAgentProfile(base string, cfg toko.AgentConfig) string {
	base = strings.TrimSpace(base)
	var parts []string
	if base != "" {
		parts = append(parts, base)
	}
	if p := strings.TrimSpace(cfg.Persona); p != "" {
		parts = append(parts, "Persona: "+p)
	}
	if s := strings.TrimSpace(cfg.Style); s != "" {
		parts = append(parts, "Style: "+s)
	}
	return strings.Join(parts, "\n")
}

// buildObserver assembles the metrics sink: a JSONL file behind an async
// buffer, optionally sampled. With no metrics path configured everything is
// discarded. The returned closer drains and syncs the file.
func buildObserver(cfg toko.ObservabilityConfig) (metrics.Observer, func() error, error) {
	if cfg.MetricsPath == "" {
		return metrics.NoopObserver{}, func() error { return nil }, nil
	}
	file, err := metrics.NewFileObserver(cfg.MetricsPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open metrics file: %w", err)
	}
	async := metrics.NewAsyncObserver(file, 256)
	var obs metrics.Observer = async
	if cfg.SampleRate > 0 && cfg.SampleRate < 1 {
		obs = metrics.NewSamplingObserver(async, cfg.SampleRate)
	}
	closer := func() error {
		if err := async.Close(); err != nil {
			return err
		}
		return file.Close()
	}
	return obs, closer, nil
}

type appDrainer struct {
	log          *slog.Logger
	closeMetrics func() error
	store        *store.Store
}

func (d *appDrainer) Drain() error {
	if err := d.closeMetrics(); err != nil {
		d.log.Warn("metrics_close_failed", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.log.Warn("store_close_failed", "error", err)
		return err
	}
	return nil
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := toko.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	log := logging.Init(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	obs, closeMetrics, err := buildObserver(cfg.Observability)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(ctx, store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: time.Duration(cfg.Database.BusyTimeoutMS) * time.Millisecond,
	})
	if err != nil {
		return err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return err
	}
	if cfg.Database.Seed {
		n, err := st.Seed(ctx)
		if err != nil {
			st.Close()
			return err
		}
		if n > 0 {
			log.Info("catalog_seeded", "products", n)
		}
	}

	providers := toko.NewProviderRegistry()
	toko.RegisterDefaultProviders(providers, obs)
	adapter, err := providers.BuildLLM(cfg.Vendors.LLM.Provider, cfg)
	if err != nil {
		st.Close()
		return err
	}
	log.Info("llm_ready", "provider", adapter.Name())

	tools := agent.NewInventoryTools(st, logging.NewComponentLogger(log, "tools"))
	ag := agent.New(agent.Options{
		Adapter:       adapter,
		Tools:         tools,
		Observer:      obs,
		Logger:        logging.NewComponentLogger(log, "agent"),
		BasePrompt:    applyAgentProfile(cfg.Agent.BasePrompt, cfg.Agent),
		MaxToolRounds: cfg.Agent.MaxToolRounds,
		MaxHistory:    cfg.Agent.MaxHistory,
	})
	sess := toko.NewSession(toko.SessionOptions{
		Agent:  ag,
		Input:  os.Stdin,
		Output: os.Stdout,
		Logger: logging.NewComponentLogger(log, "session"),
	})

	drainer := &appDrainer{log: log, closeMetrics: closeMetrics, store: st}
	lifecycle := runner.NewLifecycleRunner(drainer, runner.Hooks{
		OnStart: func() { log.Info("toko_started", "environment", cfg.Environment, "db", cfg.Database.Path) },
		OnStop:  func() { log.Info("toko_stopped") },
	}, 10*time.Second)

	return lifecycle.Run(ctx, sess.Run)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "toko:", err)
		os.Exit(1)
	}
}
