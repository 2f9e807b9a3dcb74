package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/kalambet/dailyfortune/internal/aggregate"
	"github.com/kalambet/dailyfortune/internal/api"
	"github.com/kalambet/dailyfortune/internal/config"
	"github.com/kalambet/dailyfortune/internal/content"
	"github.com/kalambet/dailyfortune/internal/daily"
	"github.com/kalambet/dailyfortune/internal/fortune"
	"github.com/kalambet/dailyfortune/internal/gemini"
	"github.com/kalambet/dailyfortune/internal/metrics"
	"github.com/kalambet/dailyfortune/internal/ollama"
	"github.com/kalambet/dailyfortune/internal/openai"
	"github.com/kalambet/dailyfortune/internal/scheduler"
	"github.com/kalambet/dailyfortune/internal/storage"
	"github.com/kalambet/dailyfortune/internal/store"
	"github.com/kalambet/dailyfortune/internal/tmpl"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fortune server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "fortune.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// app is the wired server: storage, the fortune service and its collaborators.
type app struct {
	medium   storage.Medium
	store    *store.Store
	service  *daily.Service
	pipeline *content.Pipeline
	registry *prometheus.Registry
	maint    *scheduler.Maintenance
	location *time.Location
}

func (a *app) Close() error {
	return a.medium.Close()
}

// buildApp wires every component from cfg. It does not start anything.
func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	profile, err := config.LoadProfile(cfg.Fortune.ProfilePath)
	if err != nil {
		return nil, err
	}

	bands, err := profile.BandingTable()
	if err != nil {
		return nil, fmt.Errorf("banding table: %w", err)
	}
	for _, w := range bands.Validate(cfg.Fortune.RangeMin, cfg.Fortune.RangeMax) {
		slog.Warn("banding table", "problem", w)
	}

	strategy, ok := fortune.ParseStrategy(cfg.Fortune.Strategy)
	if !ok {
		slog.Warn("unknown fortune strategy, using uniform", "strategy", cfg.Fortune.Strategy)
	}
	gen, err := fortune.NewGenerator(fortune.Options{
		Strategy:           strategy,
		Min:                cfg.Fortune.RangeMin,
		Max:                cfg.Fortune.RangeMax,
		StdDev:             cfg.Fortune.NormalStdDev,
		ExtremeProbability: &cfg.Fortune.ExtremeProbability,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	pipeline, err := buildPipeline(ctx, cfg, profile, collector)
	if err != nil {
		return nil, err
	}

	resultTmpl, err := parseTemplate(profile.ResultTemplate, daily.ResultKeys)
	if err != nil {
		return nil, fmt.Errorf("result template: %w", err)
	}

	medium, err := storage.OpenMedium(ctx, cfg.Storage.Medium, cfg.Storage.DataDir, cfg.Storage.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	st, err := store.Open(ctx, medium)
	if err != nil {
		medium.Close()
		return nil, err
	}

	svc, err := daily.New(daily.Options{
		Store:          st,
		Generator:      gen,
		Bands:          bands,
		Content:        pipeline,
		ResultTemplate: resultTmpl,
		Aggregate:      aggregate.New(st, aggregate.WithMedals(cfg.Display.Medals)),
		Location:       loc,
		Medals:         cfg.Display.Medals,
		HistoryDisplay: cfg.Display.HistoryDisplay,
		HistoryLimit:   cfg.Display.HistoryLimit,
		Recorder:       collector,
	})
	if err != nil {
		medium.Close()
		return nil, err
	}

	maint := scheduler.New(st, nil, loc, cfg.Maintenance.RetentionDays)
	if err := maint.Register(cfg.Maintenance.Cron); err != nil {
		medium.Close()
		return nil, err
	}

	return &app{
		medium:   medium,
		store:    st,
		service:  svc,
		pipeline: pipeline,
		registry: reg,
		maint:    maint,
		location: loc,
	}, nil
}

// parseTemplate returns nil for empty text so callers fall back to their default.
func parseTemplate(text string, keys []string) (*tmpl.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return tmpl.Parse(text, keys)
}

func buildPipeline(ctx context.Context, cfg config.Config, profile config.Profile, obs content.Observer) (*content.Pipeline, error) {
	backends := []content.Backend{
		ollama.NewBackend(ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.Model),
	}
	if cfg.Gemini.APIKey != "" {
		g, err := gemini.New(ctx, cfg.Gemini.APIKey, cfg.Gemini.Model)
		if err != nil {
			return nil, fmt.Errorf("gemini backend: %w", err)
		}
		backends = append(backends, g)
	}
	registry := content.NewRegistry(backends...)

	var httpBackend content.Backend
	if cfg.Content.API.URL != "" {
		httpBackend = openai.New(openai.Options{
			URL:           cfg.Content.API.URL,
			APIKey:        cfg.Content.API.Key,
			Model:         cfg.Content.API.Model,
			RatePerMinute: cfg.Content.API.RatePerMinute,
		})
	}
	if cfg.Content.Provider != "" {
		if _, ok := registry.Lookup(cfg.Content.Provider); !ok {
			slog.Warn("content provider not configured, skipping tier", "provider", cfg.Content.Provider)
		}
	}

	var persona string
	if cfg.Content.Persona != "" {
		text, ok := profile.Persona(cfg.Content.Persona)
		if !ok {
			slog.Warn("persona not found in profile, using none", "persona", cfg.Content.Persona)
		}
		persona = text
	}

	process, err := parseTemplate(profile.Prompts.Process, content.PromptKeys)
	if err != nil {
		return nil, fmt.Errorf("process prompt: %w", err)
	}
	advice, err := parseTemplate(profile.Prompts.Advice, content.PromptKeys)
	if err != nil {
		return nil, fmt.Errorf("advice prompt: %w", err)
	}

	return content.New(content.Config{
		Enabled:        cfg.Content.Enabled,
		Tiers:          registry.Tiers(cfg.Content.Provider, httpBackend, cfg.Content.DefaultProvider),
		Timeout:        cfg.Content.Timeout,
		MaxLength:      cfg.Content.MaxLength,
		Persona:        persona,
		ProcessPrompt:  process,
		AdvicePrompt:   advice,
		DefaultProcess: profile.Defaults.Process,
		DefaultAdvice:  profile.Defaults.Advice,
		Observer:       obs,
	}), nil
}

func usesOllama(c config.ContentConfig) bool {
	return c.Provider == ollama.BackendName || c.DefaultProvider == ollama.BackendName
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// With MCP on stdio, stdout belongs to the protocol.
	slog.SetDefault(newLogger(os.Stderr, cfg.Log))
	fmt.Fprintf(os.Stderr, "fortune version %s\n", version)

	token, err := config.EnsureAPIToken(&cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	if resp, err := (&http.Client{Timeout: 2 * time.Second}).Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("fortune is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	a.maint.Start()
	defer a.maint.Stop()

	if cfg.Content.Enabled && usesOllama(cfg.Content) {
		if err := ollama.CheckReady(ctx, ollama.New(cfg.Ollama.BaseURL), cfg.Ollama.Model); err != nil {
			slog.Warn("ollama backend not ready, fortunes fall back to default texts", "error", err)
		}
	}

	gate := api.NewScopeGate(cfg.AllowedScopes())
	handler := api.NewHandler(api.Deps{
		Service: a.service,
		Health:  a.pipeline,
		Metrics: metrics.Handler(a.registry),
		Gate:    gate,
		Token:   token,
		TopN:    cfg.Display.TopN,
	})

	if cfg.Server.MCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Service: a.service, Gate: gate, TopN: cfg.Display.TopN})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("fortune listening", "addr", addr, "medium", cfg.Storage.Medium, "tiers", len(a.pipeline.Tiers()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
