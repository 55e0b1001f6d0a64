// Package backends abstracts the model services a consensus run fans out
// to. A backend takes a prompt and returns text; latency and failure are
// unpredictable. Concrete implementations may call HTTP APIs, in-process
// SDKs, or anything else.
package backends

import "context"

// ModelBackend produces one completion for a prompt on behalf of the given
// model identifier. Implementations honor ctx cancellation and deadlines; a
// deadline that elapses surfaces as an ordinary error, which the caller
// treats as a failed attempt rather than a crash.
type ModelBackend interface {
	Invoke(ctx context.Context, modelID, prompt string) (string, error)
}

// Func adapts a plain function to the ModelBackend interface.
type Func func(ctx context.Context, modelID, prompt string) (string, error)

func (f Func) Invoke(ctx context.Context, modelID, prompt string) (string, error) {
	return f(ctx, modelID, prompt)
}
