// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify that the adjudicator sends correct
// prompts and to feed controlled responses without a live LLM backend.
// All fields are safe to set before calling any method; mutating them during a
// test while calls are in flight requires external synchronisation beyond the
// built-in call recording.
package mock

import (
	"context"
	"sync"

	"github.com/greenledger/esgmap/pkg/provider/llm"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// Req is the request passed to Generate.
	Req llm.Request
}

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// GenerateResult is returned by Generate when GenerateFunc is nil.
	GenerateResult *llm.Response

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// GenerateFunc, if non-nil, overrides GenerateResult/GenerateErr and is
	// invoked per call with the call index (0-based). Useful for scripting
	// fail-then-succeed retry scenarios.
	GenerateFunc func(call int, req llm.Request) (*llm.Response, error)

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns the configured response.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	call := len(p.GenerateCalls)
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, Req: req})
	fn := p.GenerateFunc
	result, errOut := p.GenerateResult, p.GenerateErr
	p.mu.Unlock()

	if fn != nil {
		return fn(call, req)
	}
	if errOut != nil {
		return nil, errOut
	}
	if result != nil {
		return result, nil
	}
	return &llm.Response{FinishReason: llm.FinishStop}, nil
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// CallCount returns the number of Generate invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.GenerateCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
