package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/scribefix/internal/tools/mcphost"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists the LLM provider names registered by the CLI.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{
	"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and validates
// the result. Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields with their defaults. Explicit values,
// including an explicit repair_attempts of 0, are left untouched.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	p := &cfg.Pipeline
	if p.BlockSize == 0 {
		p.BlockSize = DefaultBlockSize
	}
	if p.MaxIterations == 0 {
		p.MaxIterations = DefaultMaxIterations
	}
	if p.RepairAttempts == nil {
		n := DefaultRepairAttempts
		p.RepairAttempts = &n
	}
	if p.Temperature == nil {
		t := DefaultTemperature
		p.Temperature = &t
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = DefaultMaxTokens
	}
	if p.Language == "" {
		p.Language = DefaultLanguage
	}
	if cfg.Checkpoint.Backend == "" {
		cfg.Checkpoint.Backend = CheckpointMemory
	}
	if cfg.Tools.Cache.Prefix == "" {
		cfg.Tools.Cache.Prefix = DefaultCachePrefix
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("fallback_llm", cfg.Providers.FallbackLLM.Name)

	// Pipeline
	p := cfg.Pipeline
	if p.BlockSize < 0 {
		errs = append(errs, fmt.Errorf("pipeline.block_size %d must be positive", p.BlockSize))
	}
	if p.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_iterations %d must be positive", p.MaxIterations))
	}
	if p.RepairAttempts != nil && *p.RepairAttempts < 0 {
		errs = append(errs, fmt.Errorf("pipeline.repair_attempts %d must not be negative", *p.RepairAttempts))
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		errs = append(errs, fmt.Errorf("pipeline.temperature %.2f is out of range [0, 2]", *p.Temperature))
	}
	if p.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("pipeline.max_tokens %d must be positive", p.MaxTokens))
	}

	// Checkpoint
	switch cb := cfg.Checkpoint; {
	case cb.Backend != "" && !cb.Backend.IsValid():
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is invalid; valid values: memory, postgres, sqlite", cb.Backend))
	case cb.Backend == CheckpointPostgres && cb.PostgresDSN == "":
		errs = append(errs, errors.New("checkpoint.postgres_dsn is required when backend is postgres"))
	case cb.Backend == CheckpointSQLite && cb.SQLitePath == "":
		errs = append(errs, errors.New("checkpoint.sqlite_path is required when backend is sqlite"))
	}

	// Tools
	for i, name := range cfg.Tools.Enabled {
		if !slices.Contains(BuiltinTools, name) {
			errs = append(errs, fmt.Errorf("tools.enabled[%d] %q is not a built-in tool; valid values: %v", i, name, BuiltinTools))
		}
	}
	if cfg.Tools.WebSearch.MaxResults < 0 {
		errs = append(errs, fmt.Errorf("tools.web_search.max_results %d must not be negative", cfg.Tools.WebSearch.MaxResults))
	}
	if cfg.Tools.WebSearch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("tools.web_search.timeout %s must not be negative", cfg.Tools.WebSearch.Timeout))
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		} else {
			if prev, ok := seen[srv.Name]; ok {
				errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of mcp.servers[%d]", prefix, srv.Name, prev))
			}
			seen[srv.Name] = i
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == mcphost.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == mcphost.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// [ValidProviderNames].
func validateProviderName(field, name string) {
	if name == "" || slices.Contains(ValidProviderNames, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"field", "providers."+field,
		"name", name,
		"known", ValidProviderNames,
	)
}
