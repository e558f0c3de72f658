// Command scribefix corrects speech-recognition transcripts block by block
// with a language model, checkpointing every block so an interrupted run can
// be resumed.
//
// Usage:
//
//	scribefix -config scribefix.yaml -segments meeting.json -audio meeting.wav
//	scribefix -config scribefix.yaml -file-id 3f0c... -results
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/checkpoint/postgres"
	"github.com/MrWong99/scribefix/internal/checkpoint/sqlite"
	"github.com/MrWong99/scribefix/internal/config"
	"github.com/MrWong99/scribefix/internal/health"
	"github.com/MrWong99/scribefix/internal/observe"
	"github.com/MrWong99/scribefix/internal/resilience"
	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/tools/asralt"
	"github.com/MrWong99/scribefix/internal/tools/cache"
	"github.com/MrWong99/scribefix/internal/tools/mcphost"
	"github.com/MrWong99/scribefix/internal/tools/phonetic"
	"github.com/MrWong99/scribefix/internal/tools/signalquality"
	"github.com/MrWong99/scribefix/internal/tools/websearch"
	"github.com/MrWong99/scribefix/internal/transcript"
	"github.com/MrWong99/scribefix/internal/transcript/agent"
	"github.com/MrWong99/scribefix/internal/transcript/apply"
	"github.com/MrWong99/scribefix/internal/transcript/pipeline"
	"github.com/MrWong99/scribefix/pkg/provider/llm"
	"github.com/MrWong99/scribefix/pkg/provider/llm/anyllm"
	"github.com/MrWong99/scribefix/pkg/provider/llm/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

// Exit codes.
const (
	exitOK      = 0
	exitError   = 1
	exitPartial = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "scribefix.yaml", "path to the YAML configuration file")
	segmentsPath := flag.String("segments", "", "path to the JSON segment file to correct")
	audioPath := flag.String("audio", "", "path to the source recording (WAV), enables signal measurement")
	fileID := flag.String("file-id", "", "checkpoint identifier of the file; defaults to the segment file's fileId")
	language := flag.String("language", "", "transcript language, overrides pipeline.language")
	outputPath := flag.String("output", "", "write the JSON result here instead of stdout")
	showResults := flag.Bool("results", false, "print stored checkpoints for -file-id and exit")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scribefix: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scribefix: %v\n", err)
		}
		return exitError
	}
	if *language != "" {
		cfg.Pipeline.Language = *language
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	runID := uuid.NewString()
	slog.Info("scribefix starting",
		"version", version,
		"run_id", runID,
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = observe.WithRunID(ctx, runID)

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownOTel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		RunID:          runID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return exitError
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Checkpoint store ──────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Checkpoint)
	if err != nil {
		slog.Error("failed to open checkpoint store", "backend", cfg.Checkpoint.Backend, "err", err)
		return exitError
	}
	defer closeStore()

	if *showResults {
		if *fileID == "" {
			fmt.Fprintln(os.Stderr, "scribefix: -results requires -file-id")
			return exitError
		}
		recs, err := pipeline.NewFile(nil, store).Results(ctx, *fileID)
		if err != nil {
			slog.Error("failed to list checkpoints", "file_id", *fileID, "err", err)
			return exitError
		}
		if err := writeJSON(*outputPath, recs); err != nil {
			slog.Error("failed to write results", "err", err)
			return exitError
		}
		return exitOK
	}

	// ── Input ─────────────────────────────────────────────────────────────────
	if *segmentsPath == "" {
		fmt.Fprintln(os.Stderr, "scribefix: -segments is required")
		flag.Usage()
		return exitError
	}
	inputID, segments, err := transcript.LoadSegmentsFile(*segmentsPath)
	if err != nil {
		slog.Error("failed to load segments", "path", *segmentsPath, "err", err)
		return exitError
	}
	id := *fileID
	if id == "" {
		id = inputID
	}
	if id == "" {
		fmt.Fprintln(os.Stderr, "scribefix: the segment file has no fileId; pass -file-id")
		return exitError
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildLLM(cfg.Providers, reg, metrics)
	if err != nil {
		slog.Error("failed to build LLM provider", "err", err)
		return exitError
	}

	// ── Tools ─────────────────────────────────────────────────────────────────
	dispatcher, scorer, closeTools, err := buildTools(ctx, cfg, metrics)
	if err != nil {
		slog.Error("failed to set up tools", "err", err)
		return exitError
	}
	defer closeTools()

	// ── Pipeline ──────────────────────────────────────────────────────────────
	providerName := cfg.Providers.LLM.Name
	loop := agent.New(provider,
		agent.WithTools(dispatcher),
		agent.WithScorer(scorer),
		agent.WithMetrics(metrics),
		agent.WithProviderName(providerName),
		agent.WithMaxIterations(cfg.Pipeline.MaxIterations),
		agent.WithRepairAttempts(*cfg.Pipeline.RepairAttempts),
		agent.WithTemperature(*cfg.Pipeline.Temperature),
		agent.WithMaxTokens(cfg.Pipeline.MaxTokens),
	)
	applier := apply.New(provider,
		apply.WithMetrics(metrics),
		apply.WithProviderName(providerName),
	)
	opts := []pipeline.Option{
		pipeline.WithProber(dispatcher),
		pipeline.WithMetrics(metrics),
		pipeline.WithSummary(cfg.Pipeline.Summary),
		pipeline.WithBlockSize(cfg.Pipeline.BlockSize),
	}
	file := pipeline.NewFile(pipeline.NewBlock(loop, applier, opts...), store, opts...)

	printStartupSummary(cfg, id, len(segments), dispatcher.Specs())

	// ── Run ───────────────────────────────────────────────────────────────────
	if cfg.Server.MetricsAddr != "" {
		hh := health.New(readinessChecks(store), health.WithStatus(func() any {
			return runStatus(ctx, store, runID, id, len(segments), cfg.Pipeline.BlockSize, dispatcher)
		}))
		stop, err := startMetricsServer(cfg.Server.MetricsAddr, metricsHandler(metrics, hh))
		if err != nil {
			slog.Warn("metrics endpoint disabled", "addr", cfg.Server.MetricsAddr, "err", err)
		} else {
			defer stop()
		}
	}

	result, runErr := file.Process(ctx, pipeline.FileInput{
		FileID:    id,
		Segments:  segments,
		AudioPath: *audioPath,
		Language:  cfg.Pipeline.Language,
	})

	printRunSummary(result, dispatcher.Stats())
	if err := writeJSON(*outputPath, result); err != nil {
		slog.Error("failed to write result", "err", err)
		return exitError
	}

	switch {
	case runErr != nil:
		slog.Warn("run interrupted; rerun the same command to resume", "file_id", id, "err", runErr)
		return exitError
	case len(result.Failures) > 0:
		slog.Warn("some blocks failed; rerun to retry them", "file_id", id, "failed", len(result.Failures))
		return exitPartial
	}
	slog.Info("done", "file_id", id, "blocks", result.TotalBlocks)
	return exitOK
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in LLM factories into reg.
//
// "openai" uses the official SDK so OpenAI-compatible gateways and JSON mode
// are available; every other name goes through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []openai.Option
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, openai.WithOrganization(org))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil && d > 0 {
			opts = append(opts, openai.WithTimeout(d))
		}
		if optBool(entry.Options, "json_mode") {
			opts = append(opts, openai.WithJSONMode())
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return openai.New(apiKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile all
	// share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})
}

// buildLLM creates the primary provider and, when configured, a fallback,
// each behind its own circuit breaker.
func buildLLM(pc config.ProvidersConfig, reg *config.Registry, metrics *observe.Metrics) (llm.Provider, error) {
	primary, err := reg.CreateLLM(pc.LLM)
	if err != nil {
		return nil, fmt.Errorf("providers.llm: %w", err)
	}
	fbCfg := resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, from, to resilience.State) {
				slog.Warn("llm circuit breaker state change", "backend", name, "from", from, "to", to)
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}
	fb := resilience.NewLLMFallback(primary, pc.LLM.Name, fbCfg)
	if pc.FallbackLLM.Name != "" {
		secondary, err := reg.CreateLLM(pc.FallbackLLM)
		if err != nil {
			return nil, fmt.Errorf("providers.fallback_llm: %w", err)
		}
		fb.AddFallback(pc.FallbackLLM.Name, secondary)
	}
	slog.Info("llm backends ready", "order", fb.Backends())
	return fb, nil
}

// buildTools registers the enabled built-in tools and every MCP server's tools
// with one dispatcher. The phonetic analyzer doubles as the confidence scorer.
func buildTools(ctx context.Context, cfg *config.Config, metrics *observe.Metrics) (*tools.Dispatcher, agent.Scorer, func(), error) {
	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			if err := c.Close(); err != nil {
				slog.Warn("tool shutdown error", "err", err)
			}
		}
	}

	dopts := []tools.Option{tools.WithMetrics(metrics)}
	if cc := cfg.Tools.Cache; cc.RedisAddr != "" {
		var copts []cache.Option
		if cc.Password != "" {
			copts = append(copts, cache.WithPassword(cc.Password))
		}
		if cc.DB != 0 {
			copts = append(copts, cache.WithDB(cc.DB))
		}
		rc, err := cache.New(ctx, cc.RedisAddr, copts...)
		if err != nil {
			// The cache only saves repeated lookups; run without it.
			slog.Warn("tool cache unavailable, continuing without it", "addr", cc.RedisAddr, "err", err)
		} else {
			closers = append(closers, rc)
			dopts = append(dopts, tools.WithCache(rc), tools.WithCachePrefix(cc.Prefix))
		}
	}
	d := tools.NewDispatcher(dopts...)

	scorer := phonetic.New()
	builtin := []struct {
		name string
		tool tools.Tool
	}{
		{config.ToolPhonetic, scorer},
		{config.ToolSignalQuality, signalquality.New()},
		{config.ToolWebSearch, newSearcher(cfg.Tools.WebSearch)},
		{config.ToolASRAlternative, asralt.New(asralt.DefaultLimit)},
	}
	for _, b := range builtin {
		if !cfg.Tools.IsEnabled(b.name) {
			continue
		}
		if err := d.Register(b.tool); err != nil {
			closeAll()
			return nil, nil, nil, fmt.Errorf("register %s: %w", b.name, err)
		}
	}

	if len(cfg.MCP.Servers) > 0 {
		host := mcphost.New()
		closers = append(closers, host)
		hostCfgs := make([]mcphost.ServerConfig, len(cfg.MCP.Servers))
		for i, s := range cfg.MCP.Servers {
			hostCfgs[i] = s.HostConfig()
		}
		if err := host.ConnectAll(ctx, hostCfgs); err != nil {
			slog.Warn("some MCP servers could not be connected", "err", err)
		}
		for _, t := range host.Tools() {
			if err := d.Register(t); err != nil {
				slog.Warn("skipping MCP tool", "tool", t.Spec().Name, "err", err)
			}
		}
	}

	return d, scorer, closeAll, nil
}

func newSearcher(wc config.WebSearchConfig) *websearch.Searcher {
	var opts []websearch.Option
	if wc.Endpoint != "" {
		opts = append(opts, websearch.WithEndpoint(wc.Endpoint))
	}
	if wc.MaxResults > 0 {
		opts = append(opts, websearch.WithMaxResults(wc.MaxResults))
	}
	if wc.Timeout > 0 {
		opts = append(opts, websearch.WithTimeout(wc.Timeout))
	}
	opts = append(opts, websearch.WithUserAgent("scribefix/"+version))
	return websearch.New(opts...)
}

// openStore opens the configured checkpoint backend. The returned func
// releases it.
func openStore(ctx context.Context, cc config.CheckpointConfig) (checkpoint.Store, func(), error) {
	switch cc.Backend {
	case config.CheckpointPostgres:
		s, err := postgres.NewStore(ctx, cc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case config.CheckpointSQLite:
		s, err := sqlite.Open(cc.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			if err := s.Close(); err != nil {
				slog.Warn("checkpoint store close error", "err", err)
			}
		}, nil
	default:
		slog.Warn("using in-memory checkpoints; an interrupted run cannot be resumed")
		return checkpoint.NewMemoryStore(), func() {}, nil
	}
}

// serveMetrics exposes /metrics and the health endpoints on addr until ctx
// is done.
func metricsHandler(metrics *observe.Metrics, hh *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	hh.Register(mux)
	return observe.Middleware(metrics)(mux)
}

// startMetricsServer binds addr and serves h in the background. A failure to
// bind is returned; later serve errors are only logged so the run carries on
// without its metrics endpoint. stop shuts the server down.
func startMetricsServer(addr string, h http.Handler) (stop func(), err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		slog.Info("metrics endpoint listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "err", err)
		}
		<-done
	}, nil
}

// readinessChecks pings the checkpoint backend when it supports it.
func readinessChecks(store checkpoint.Store) []health.Checker {
	p, ok := store.(interface{ Ping(context.Context) error })
	if !ok {
		return nil
	}
	return []health.Checker{{Name: "checkpoints", Check: p.Ping}}
}

type status struct {
	RunID           string        `json:"runId"`
	FileID          string        `json:"fileId"`
	TotalBlocks     int           `json:"totalBlocks"`
	CompletedBlocks int           `json:"completedBlocks"`
	FailedBlocks    int           `json:"failedBlocks"`
	Tools           []tools.Stats `json:"tools"`
	Error           string        `json:"error,omitempty"`
}

// runStatus reports progress from the checkpoint store, so blocks finished
// by earlier runs are counted too.
func runStatus(ctx context.Context, store checkpoint.Store, runID, fileID string, segments, blockSize int, d *tools.Dispatcher) status {
	st := status{
		RunID:       runID,
		FileID:      fileID,
		TotalBlocks: max(1, transcript.BlockCount(segments, blockSize)),
		Tools:       d.Stats(),
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	recs, err := store.ListBlocks(lctx, fileID)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	for i := range recs {
		if recs[i].Completed() {
			st.CompletedBlocks++
		} else {
			st.FailedBlocks++
		}
	}
	return st
}

// ── Output ────────────────────────────────────────────────────────────────────

func writeJSON(path string, v any) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStartupSummary(cfg *config.Config, fileID string, segments int, specs []tools.Spec) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         scribefix run summary         ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printRow(w, "LLM", providerLabel(cfg.Providers.LLM))
	printRow(w, "Fallback", providerLabel(cfg.Providers.FallbackLLM))
	printRow(w, "Checkpoints", string(cfg.Checkpoint.Backend))
	printRow(w, "File", fileID)
	printRow(w, "Segments", fmt.Sprint(segments))
	printRow(w, "Block size", fmt.Sprint(cfg.Pipeline.BlockSize))
	printRow(w, "Language", cfg.Pipeline.Language)
	printRow(w, "Tools", fmt.Sprint(len(specs)))
	printRow(w, "MCP servers", fmt.Sprint(len(cfg.MCP.Servers)))
	if cfg.Server.MetricsAddr != "" {
		printRow(w, "Metrics", cfg.Server.MetricsAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printRunSummary(res transcript.FileResult, stats []tools.Stats) {
	w := os.Stderr
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	printRow(w, "Blocks", fmt.Sprintf("%d/%d done", res.CompletedBlocks, res.TotalBlocks))
	printRow(w, "Skipped", fmt.Sprint(res.SkippedBlocks))
	printRow(w, "Failed", fmt.Sprint(len(res.Failures)))
	var applied, conflicted int
	for _, r := range res.Results {
		applied += len(r.Corrections)
		conflicted += len(r.Conflicted)
	}
	printRow(w, "Corrections", fmt.Sprint(applied))
	printRow(w, "Conflicted", fmt.Sprint(conflicted))
	for _, s := range stats {
		if s.Calls == 0 {
			continue
		}
		printRow(w, s.Name, fmt.Sprintf("%d calls p50 %dms", s.Calls, s.P50Ms))
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func printRow(w io.Writer, key, value string) {
	if value == "" {
		value = "(not configured)"
	}
	key = truncate(key, 15)
	value = truncate(value, 19)
	fmt.Fprintf(w, "║  %-15s : %-19s ║\n", key, value)
}

func providerLabel(e config.ProviderEntry) string {
	if e.Name == "" || e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}

// optBool extracts a bool value from a provider Options map[string]any.
func optBool(opts map[string]any, key string) bool {
	if opts == nil {
		return false
	}
	b, _ := opts[key].(bool)
	return b
}
