package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/scribefix/pkg/provider/llm"
)

// ErrEmptyResponse is recorded against a backend that answered with no content.
// It counts as a failure for the backend's circuit breaker and moves the call
// on to the next fallback.
var ErrEmptyResponse = errors.New("empty completion")

// LLMFallback implements [llm.Provider] with failover across multiple LLM
// backends. A backend is skipped when it errors, returns an empty completion,
// or its circuit breaker is open.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM provider as a fallback.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// Complete sends the request to the first healthy backend that produces a
// non-empty completion.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		resp, err := p.Complete(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp == nil || strings.TrimSpace(resp.Content) == "" {
			return nil, ErrEmptyResponse
		}
		return resp, nil
	})
}

// Capabilities returns the primary's capabilities. Capabilities are static
// metadata and do not participate in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
