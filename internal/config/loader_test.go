package config_test

import (
	"strings"
	"testing"

	"github.com/MrWong99/scribefix/internal/config"
)

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr []string
	}{
		{
			name:    "missing llm",
			yaml:    "pipeline:\n  block_size: 10\n",
			wantErr: []string{"providers.llm.name is required"},
		},
		{
			name:    "bad log level",
			yaml:    "server:\n  log_level: loud\nproviders:\n  llm:\n    name: openai\n",
			wantErr: []string{"server.log_level"},
		},
		{
			name:    "negative pipeline values",
			yaml:    "providers:\n  llm:\n    name: openai\npipeline:\n  block_size: -1\n  repair_attempts: -2\n  temperature: 3\n",
			wantErr: []string{"pipeline.block_size", "pipeline.repair_attempts", "pipeline.temperature"},
		},
		{
			name:    "bad backend",
			yaml:    "providers:\n  llm:\n    name: openai\ncheckpoint:\n  backend: etcd\n",
			wantErr: []string{"checkpoint.backend"},
		},
		{
			name:    "postgres without dsn",
			yaml:    "providers:\n  llm:\n    name: openai\ncheckpoint:\n  backend: postgres\n",
			wantErr: []string{"checkpoint.postgres_dsn is required"},
		},
		{
			name:    "sqlite without path",
			yaml:    "providers:\n  llm:\n    name: openai\ncheckpoint:\n  backend: sqlite\n",
			wantErr: []string{"checkpoint.sqlite_path is required"},
		},
		{
			name:    "unknown tool",
			yaml:    "providers:\n  llm:\n    name: openai\ntools:\n  enabled: [spellcheck]\n",
			wantErr: []string{`tools.enabled[0] "spellcheck"`},
		},
		{
			name: "mcp servers",
			yaml: `
providers:
  llm:
    name: openai
mcp:
  servers:
    - name: a
      transport: stdio
    - name: a
      transport: streamable-http
    - transport: carrier-pigeon
`,
			wantErr: []string{
				"mcp.servers[0].command is required",
				"mcp.servers[1].name \"a\" is a duplicate",
				"mcp.servers[1].url is required",
				"mcp.servers[2].name is required",
				"mcp.servers[2].transport",
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			for _, want := range tc.wantErr {
				if !strings.Contains(err.Error(), want) {
					t.Errorf("error should contain %q, got: %v", want, err)
				}
			}
		})
	}
}

func TestValidate_UnknownProviderNameIsOnlyAWarning(t *testing.T) {
	t.Parallel()

	yaml := "providers:\n  llm:\n    name: my-gateway\n"
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider name should not fail validation: %v", err)
	}
}

func TestApplyDefaults_KeepsExplicitValues(t *testing.T) {
	t.Parallel()

	zero := 0
	temp := 0.0
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{
			BlockSize:      5,
			RepairAttempts: &zero,
			Temperature:    &temp,
			Language:       "en",
		},
		Checkpoint: config.CheckpointConfig{Backend: config.CheckpointPostgres},
	}
	config.ApplyDefaults(cfg)

	if cfg.Pipeline.BlockSize != 5 {
		t.Errorf("block_size = %d, want 5", cfg.Pipeline.BlockSize)
	}
	if *cfg.Pipeline.RepairAttempts != 0 {
		t.Errorf("repair_attempts = %d, want 0", *cfg.Pipeline.RepairAttempts)
	}
	if *cfg.Pipeline.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", *cfg.Pipeline.Temperature)
	}
	if cfg.Pipeline.Language != "en" {
		t.Errorf("language = %q, want en", cfg.Pipeline.Language)
	}
	if cfg.Checkpoint.Backend != config.CheckpointPostgres {
		t.Errorf("backend = %q, want postgres", cfg.Checkpoint.Backend)
	}
}
