package core

import "context"

// Executor performs the actual backend call for a request descriptor.
// Implementations must fail with a *GatewayError carrying one of the closed
// ErrorType kinds; callers dispatch on the kind only, never on message text.
type Executor interface {
	Execute(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Execute calls f(ctx, req).
func (f ExecutorFunc) Execute(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return f(ctx, req)
}
