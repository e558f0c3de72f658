// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests the correction
// pipeline sends and to feed controlled responses without a live LLM backend.
// Responses can be fixed (CompleteResponse) or scripted per call (Script), which
// is how multi-iteration agent loops are exercised.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Reply{
//	        {Content: `{"needsMoreAnalysis": true, "toolRequests": [...]}`},
//	        {Content: `{"corrections": [...]}`},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/scribefix/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Reply is one scripted outcome of Complete.
type Reply struct {
	Content string
	Err     error
}

// Provider is a mock implementation of llm.Provider.
//
// Complete consumes Script in order. Once the script is exhausted the last
// entry is repeated. When Script is empty, CompleteResponse and CompleteErr
// are returned.
type Provider struct {
	mu sync.Mutex

	// Script is the ordered list of replies returned by Complete.
	Script []Reply

	// CompleteResponse is returned by Complete when Script is empty. May be nil.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned when Script is empty.
	CompleteErr error

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall
}

// Complete records the call and returns the next scripted reply.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.CompleteCalls)
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})

	if len(p.Script) == 0 {
		return p.CompleteResponse, p.CompleteErr
	}
	r := p.Script[min(n, len(p.Script)-1)]
	if r.Err != nil {
		return nil, r.Err
	}
	return &llm.CompletionResponse{Content: r.Content}, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return p.ModelCapabilities
}

// Calls returns the number of Complete invocations so far. Thread-safe.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}

// Prompts returns the last user message of every recorded request.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.CompleteCalls))
	for _, c := range p.CompleteCalls {
		if n := len(c.Req.Messages); n > 0 {
			out = append(out, c.Req.Messages[n-1].Content)
		}
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
}

var _ llm.Provider = (*Provider)(nil)
