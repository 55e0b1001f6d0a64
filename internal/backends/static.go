package backends

import (
	"context"
	"fmt"
)

// StaticBackend returns canned responses per model. Deterministic; used by
// tests.
type StaticBackend struct {
	// Responses maps a model ID to its fixed output. Models absent from
	// the map fail with an unknown-model error.
	Responses map[string]string
}

func (s *StaticBackend) Invoke(_ context.Context, modelID, _ string) (string, error) {
	text, ok := s.Responses[modelID]
	if !ok {
		return "", fmt.Errorf("static backend: no response configured for model %q", modelID)
	}
	return text, nil
}
