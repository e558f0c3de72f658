package mcphost

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/scribefix/internal/tools"
)

func TestRegisterServer_Validation(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	tests := []struct {
		name string
		cfg  ServerConfig
	}{
		{"empty name", ServerConfig{Transport: TransportStdio, Command: "lexicon"}},
		{"bad transport", ServerConfig{Name: "x", Transport: "sse"}},
		{"stdio without command", ServerConfig{Name: "x", Transport: TransportStdio, Command: "  "}},
		{"http without url", ServerConfig{Name: "x", Transport: TransportStreamableHTTP}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := h.RegisterServer(context.Background(), tc.cfg); err == nil {
				t.Errorf("RegisterServer(%+v): expected error", tc.cfg)
			}
		})
	}
	if got := len(h.Tools()); got != 0 {
		t.Errorf("Tools = %d, want 0", got)
	}
}

func TestConnectAll_PropagatesError(t *testing.T) {
	t.Parallel()
	h := New()
	defer h.Close()

	err := h.ConnectAll(context.Background(), []ServerConfig{{Name: "broken", Transport: "carrier-pigeon"}})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := h.ConnectAll(context.Background(), nil); err != nil {
		t.Errorf("ConnectAll(nil) = %v, want nil", err)
	}
}

func TestBuildSpec(t *testing.T) {
	t.Parallel()

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"term":     map[string]any{"type": "string", "description": "word to look up"},
			"limit":    map[string]any{"type": "integer"},
			"language": map[string]any{"type": "string"},
			"_metadata": map[string]any{
				"max_duration_ms": float64(2500),
			},
		},
		"required": []any{"term", "language"},
	}
	spec := buildSpec("lexiconLookup", "Looks up a term in the domain lexicon.", schema)

	if spec.Name != "lexiconLookup" {
		t.Errorf("Name = %q", spec.Name)
	}
	if got, want := spec.Signature(), "lexiconLookup{language,term,limit}"; got != want {
		t.Errorf("Signature = %q, want %q", got, want)
	}
	if spec.Params[1].Description != "word to look up" {
		t.Errorf("Params[1] = %+v", spec.Params[1])
	}
	if spec.MaxDuration != 2500*time.Millisecond {
		t.Errorf("MaxDuration = %v, want 2.5s", spec.MaxDuration)
	}
}

func TestBuildSpec_DescriptionHint(t *testing.T) {
	t.Parallel()

	spec := buildSpec("slow", `Queries the archive. {"max_duration_ms": 40000}`, map[string]any{"type": "object"})
	if spec.MaxDuration != 40*time.Second {
		t.Errorf("MaxDuration = %v, want 40s", spec.MaxDuration)
	}
	if spec.Description != "Queries the archive." {
		t.Errorf("Description = %q", spec.Description)
	}
	if len(spec.Params) != 0 {
		t.Errorf("Params = %v, want none", spec.Params)
	}

	plain := buildSpec("fast", "No hints here.", nil)
	if plain.MaxDuration != defaultMaxDuration {
		t.Errorf("MaxDuration = %v, want default", plain.MaxDuration)
	}
}

func TestSchemaToMap(t *testing.T) {
	t.Parallel()

	if m := schemaToMap(nil); m["type"] != "object" {
		t.Errorf("schemaToMap(nil) = %v", m)
	}
	type schema struct {
		Type string `json:"type"`
	}
	if m := schemaToMap(schema{Type: "object"}); m["type"] != "object" {
		t.Errorf("schemaToMap(struct) = %v", m)
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	exe, args := splitCommand("/usr/bin/lexicon --db /tmp/terms.db")
	if exe != "/usr/bin/lexicon" || len(args) != 2 || args[1] != "/tmp/terms.db" {
		t.Errorf("splitCommand = %q, %q", exe, args)
	}
	if exe, _ := splitCommand(""); exe != "" {
		t.Errorf("splitCommand(\"\") = %q", exe)
	}
}

func TestCall_DisconnectedServer(t *testing.T) {
	t.Parallel()
	h := New()

	a := &toolAdapter{host: h, remote: remoteTool{spec: tools.Spec{Name: "gone"}, serverName: "offline"}}
	_, err := a.Execute(context.Background(), nil, tools.Context{})
	if !errors.Is(err, tools.ErrUnavailable) {
		t.Errorf("Execute err = %v, want ErrUnavailable", err)
	}
}

func TestTransportIsValid(t *testing.T) {
	t.Parallel()
	for tr, want := range map[Transport]bool{
		TransportStdio:          true,
		TransportStreamableHTTP: true,
		"http":                  false,
		"":                      false,
	} {
		if got := tr.IsValid(); got != want {
			t.Errorf("%q.IsValid() = %v, want %v", tr, got, want)
		}
	}
}
