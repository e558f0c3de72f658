package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/scribefix/pkg/provider/llm"
	llmmock "github.com/MrWong99/scribefix/pkg/provider/llm/mock"
)

func newTestLLMFallback(primary, secondary llm.Provider) *LLMFallback {
	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func TestLLMFallback_Complete(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		primary       *llmmock.Provider
		wantContent   string
		wantSecondary int
	}{
		{
			name:        "primary succeeds",
			primary:     &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}},
			wantContent: "from primary",
		},
		{
			name:          "primary errors",
			primary:       &llmmock.Provider{CompleteErr: errors.New("primary down")},
			wantContent:   "from secondary",
			wantSecondary: 1,
		},
		{
			name:          "primary empty",
			primary:       &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "  \n"}},
			wantContent:   "from secondary",
			wantSecondary: 1,
		},
		{
			name:          "primary nil response",
			primary:       &llmmock.Provider{},
			wantContent:   "from secondary",
			wantSecondary: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			secondary := &llmmock.Provider{
				CompleteResponse: &llm.CompletionResponse{Content: "from secondary"},
			}
			fb := newTestLLMFallback(tc.primary, secondary)

			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{llm.UserMessage("hi")},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if resp.Content != tc.wantContent {
				t.Errorf("content = %q, want %q", resp.Content, tc.wantContent)
			}
			if tc.primary.Calls() != 1 {
				t.Errorf("primary called %d times, want 1", tc.primary.Calls())
			}
			if secondary.Calls() != tc.wantSecondary {
				t.Errorf("secondary called %d times, want %d", secondary.Calls(), tc.wantSecondary)
			}
		})
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{}}
	fb := newTestLLMFallback(primary, secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want it to wrap the last failure (ErrEmptyResponse)", err)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	t.Parallel()

	primary := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{ContextWindow: 128000, SupportsJSONMode: true},
	}
	fb := newTestLLMFallback(primary, &llmmock.Provider{})

	caps := fb.Capabilities()
	if caps.ContextWindow != 128000 {
		t.Fatalf("ContextWindow = %d, want 128000", caps.ContextWindow)
	}
	if !caps.SupportsJSONMode {
		t.Fatal("SupportsJSONMode should be true")
	}
	if got := fb.Backends(); len(got) != 2 || got[0] != "primary" {
		t.Errorf("Backends() = %v", got)
	}
}
