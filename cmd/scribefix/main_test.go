package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/scribefix/internal/checkpoint"
	"github.com/MrWong99/scribefix/internal/checkpoint/mock"
	"github.com/MrWong99/scribefix/internal/config"
	"github.com/MrWong99/scribefix/internal/tools"
	"github.com/MrWong99/scribefix/internal/transcript"
	"github.com/MrWong99/scribefix/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribefix/pkg/provider/llm/mock"
)

func TestBuildLLM_FallsBackOnEmptyResponse(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  "}}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: `{"corrections": []}`}}

	reg := config.NewRegistry()
	reg.RegisterLLM("primary", func(config.ProviderEntry) (llm.Provider, error) { return primary, nil })
	reg.RegisterLLM("secondary", func(config.ProviderEntry) (llm.Provider, error) { return secondary, nil })

	p, err := buildLLM(config.ProvidersConfig{
		LLM:         config.ProviderEntry{Name: "primary"},
		FallbackLLM: config.ProviderEntry{Name: "secondary"},
	}, reg, nil)
	if err != nil {
		t.Fatalf("buildLLM: %v", err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{Messages: []llm.Message{llm.UserMessage("hi")}})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"corrections": []}` {
		t.Errorf("content = %q, want the fallback's reply", resp.Content)
	}
	if primary.Calls() != 1 || secondary.Calls() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.Calls(), secondary.Calls())
	}
}

func TestBuildLLM_UnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := buildLLM(config.ProvidersConfig{LLM: config.ProviderEntry{Name: "nope"}}, config.NewRegistry(), nil)
	if !errors.Is(err, config.ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegisterBuiltinProviders(t *testing.T) {
	t.Parallel()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	got := reg.LLMNames()
	for _, want := range config.ValidProviderNames {
		found := false
		for _, n := range got {
			if n == want {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("provider %q not registered", want)
		}
	}

	if _, err := reg.CreateLLM(config.ProviderEntry{
		Name:    "openai",
		APIKey:  "sk-test",
		Model:   "gpt-4o",
		Options: map[string]any{"json_mode": true, "timeout": "30s"},
	}); err != nil {
		t.Errorf("CreateLLM(openai): %v", err)
	}
}

func TestRunStatus(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	_ = store.UpsertBlock(ctx, "f1", 0, transcript.BlockResult{BlockIndex: 0}, checkpoint.StatusCompleted, "")
	_ = store.UpsertBlock(ctx, "f1", 1, transcript.BlockResult{BlockIndex: 1}, checkpoint.StatusError, "boom")

	st := runStatus(ctx, store, "run-1", "f1", 45, 20, tools.NewDispatcher())
	if st.TotalBlocks != 3 {
		t.Errorf("TotalBlocks = %d, want 3", st.TotalBlocks)
	}
	if st.CompletedBlocks != 1 || st.FailedBlocks != 1 {
		t.Errorf("completed/failed = %d/%d, want 1/1", st.CompletedBlocks, st.FailedBlocks)
	}
	if st.RunID != "run-1" || st.Error != "" {
		t.Errorf("status = %+v", st)
	}

	failing := &mock.Store{ListErr: errors.New("db down")}
	if st := runStatus(ctx, failing, "run-1", "f1", 0, 20, tools.NewDispatcher()); st.Error != "db down" || st.TotalBlocks != 1 {
		t.Errorf("status with failing store = %+v", st)
	}
}

func TestReadinessChecks(t *testing.T) {
	t.Parallel()

	if got := readinessChecks(checkpoint.NewMemoryStore()); len(got) != 0 {
		t.Errorf("memory store checks = %d, want 0", len(got))
	}
}

func TestOptHelpers(t *testing.T) {
	t.Parallel()

	opts := map[string]any{"organization": "org-1", "json_mode": true, "timeout": 5}
	if got := optString(opts, "organization"); got != "org-1" {
		t.Errorf("optString = %q, want org-1", got)
	}
	if got := optString(opts, "timeout"); got != "" {
		t.Errorf("optString(non-string) = %q, want empty", got)
	}
	if !optBool(opts, "json_mode") || optBool(nil, "json_mode") {
		t.Error("optBool mismatch")
	}
}

func TestStartMetricsServer(t *testing.T) {
	t.Parallel()

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	t.Run("serves", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		addr := ln.Addr().String()
		_ = ln.Close()

		stop, err := startMetricsServer(addr, h)
		if err != nil {
			t.Fatalf("startMetricsServer: %v", err)
		}
		defer stop()

		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		if string(body) != "ok" {
			t.Errorf("body = %q, want %q", body, "ok")
		}
	})

	t.Run("port in use", func(t *testing.T) {
		t.Parallel()
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer ln.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		stop, err := startMetricsServer(ln.Addr().String(), h)
		if err == nil {
			stop()
			t.Fatal("expected a bind error for an occupied port")
		}
		if !strings.Contains(err.Error(), "metrics server") {
			t.Errorf("error = %v, want it wrapped as a metrics server error", err)
		}
		if ctx.Err() != nil {
			t.Errorf("run context cancelled by the bind failure: %v", ctx.Err())
		}
	})
}

func TestPrintRow_Truncates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		key, value string
		wantValue  string
	}{
		{name: "short", key: "Model", value: "gpt-4o", wantValue: "gpt-4o"},
		{name: "empty", key: "Fallback", value: "", wantValue: "(not configured)"},
		{name: "ascii", key: "File", value: "abcdefghijklmnopqrstuvwxyz", wantValue: "abcdefghijklmnopqr…"},
		{name: "multibyte", key: "Fail", value: strings.Repeat("ä", 22), wantValue: strings.Repeat("ä", 18) + "…"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			printRow(&buf, tc.key, tc.value)
			got := buf.String()
			if !utf8.ValidString(got) {
				t.Fatalf("row is not valid UTF-8: %q", got)
			}
			if !strings.Contains(got, tc.wantValue) {
				t.Errorf("row = %q, want it to contain %q", got, tc.wantValue)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "abc", n: 3, want: "abc"},
		{in: "abcd", n: 3, want: "ab…"},
		{in: "žžžž", n: 3, want: "žž…"},
		{in: "日本語テキスト", n: 4, want: "日本語…"},
	}
	for _, tc := range tests {
		if got := truncate(tc.in, tc.n); got != tc.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
		}
		if got := utf8.RuneCountInString(truncate(tc.in, tc.n)); got > tc.n {
			t.Errorf("truncate(%q, %d) has %d runes", tc.in, tc.n, got)
		}
	}
}
