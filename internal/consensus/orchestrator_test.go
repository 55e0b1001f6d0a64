package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/concordlab/concord/internal/backends"
	"github.com/concordlab/concord/internal/fusion"
	"github.com/concordlab/concord/internal/judge"
)

// scriptedBackend returns scripted outcomes per model and call number.
type scriptedBackend struct {
	mu     sync.Mutex
	calls  map[string]int
	script func(modelID string, call int, prompt string) (string, error)
}

func newScripted(script func(modelID string, call int, prompt string) (string, error)) *scriptedBackend {
	return &scriptedBackend{calls: make(map[string]int), script: script}
}

func (s *scriptedBackend) Invoke(_ context.Context, modelID, prompt string) (string, error) {
	s.mu.Lock()
	call := s.calls[modelID]
	s.calls[modelID]++
	s.mu.Unlock()
	return s.script(modelID, call, prompt)
}

func fixedSeed() Option {
	return WithTimeSeed(func() int64 { return 42 })
}

func TestRunConvergesWhenFusedOutputRepeats(t *testing.T) {
	// Every model answers "X" on every round; round 1's fused text equals
	// round 0's, so the run converges on round index 1.
	backend := newScripted(func(string, int, string) (string, error) { return "X", nil })
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{
		Prompt:    "question",
		ModelPool: []string{"A", "B", "C"},
		MaxRounds: 5,
	})
	require.NoError(t, err)

	assert.True(t, res.Converged)
	assert.False(t, res.TotalFailure)
	assert.Equal(t, 2, res.RoundsExecuted)
	assert.Equal(t, "X"+fusion.Delimiter+"X"+fusion.Delimiter+"X", res.FinalText)

	require.Len(t, res.RankedCandidates, 3)
	// Identical texts tie; ties keep pool order.
	assert.Equal(t, "A", res.RankedCandidates[0].ModelID)
	assert.Equal(t, "B", res.RankedCandidates[1].ModelID)
	assert.Equal(t, "C", res.RankedCandidates[2].ModelID)
}

func TestRunToleratesPartialFailure(t *testing.T) {
	backend := newScripted(func(modelID string, _ int, _ string) (string, error) {
		if modelID == "flaky" {
			return "", errors.New("connection refused")
		}
		return "answer from " + modelID, nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{
		Prompt:    "q",
		ModelPool: []string{"good-1", "flaky", "good-2"},
		MaxRounds: 2,
	})
	require.NoError(t, err, "a single backend failure must not abort the run")

	assert.True(t, res.Converged, "the two survivors repeat, so the run converges")
	require.Len(t, res.RankedCandidates, 2)
	parts := strings.Split(res.FinalText, fusion.Delimiter)
	assert.Equal(t, []string{"answer from good-1", "answer from good-2"}, parts)
}

func TestRunTotalFailureReturnsSentinel(t *testing.T) {
	backend := newScripted(func(string, int, string) (string, error) {
		return "", errors.New("backend down")
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{
		Prompt:    "q",
		ModelPool: []string{"A"},
		MaxRounds: 4,
	})
	require.NoError(t, err, "total failure is a terminal result, not an error")

	assert.False(t, res.Converged)
	assert.True(t, res.TotalFailure)
	assert.Equal(t, 4, res.RoundsExecuted, "an all-failed round still consumes budget")
	assert.Equal(t, TotalFailureText, res.FinalText)
	assert.Empty(t, res.RankedCandidates)
}

func TestRunAllFailedRoundsNeverConverge(t *testing.T) {
	// Two consecutive empty fused rounds must not count as convergence.
	backend := newScripted(func(string, int, string) (string, error) {
		return "", errors.New("down")
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"A", "B"}, MaxRounds: 3})
	require.NoError(t, err)
	assert.False(t, res.Converged)
	assert.Equal(t, 3, res.RoundsExecuted)
}

func TestRunExhaustsBudgetWithoutConvergence(t *testing.T) {
	// A different answer every call: never converges, runs all rounds.
	backend := newScripted(func(modelID string, call int, _ string) (string, error) {
		return fmt.Sprintf("%s-%d", modelID, call), nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"A", "B"}, MaxRounds: 3})
	require.NoError(t, err)

	assert.False(t, res.Converged)
	assert.False(t, res.TotalFailure)
	assert.Equal(t, 3, res.RoundsExecuted)
	parts := strings.Split(res.FinalText, fusion.Delimiter)
	assert.Equal(t, []string{"A-2", "B-2"}, parts)
}

func TestRunProvenanceRules(t *testing.T) {
	prompt := "prompt of some length"
	seed := int64(7)

	t.Run("divergent rounds decrement score", func(t *testing.T) {
		backend := newScripted(func(modelID string, call int, _ string) (string, error) {
			return fmt.Sprintf("%s-%d", modelID, call), nil
		})
		orch := New(backend, zap.NewNop(), WithTimeSeed(func() int64 { return seed }))

		res, err := orch.Run(context.Background(), Request{Prompt: prompt, ModelPool: []string{"A"}, MaxRounds: 3})
		require.NoError(t, err)

		wantScore := int64(len(prompt)%128)<<2 - 3
		assert.Equal(t, wantScore, res.Provenance.ScoreIndex)
		assert.Equal(t, int64(len(prompt)), res.Provenance.CycleIndex, "no convergence, cycle untouched")
	})

	t.Run("convergent round advances cycle and spares score", func(t *testing.T) {
		backend := newScripted(func(string, int, string) (string, error) { return "stable", nil })
		orch := New(backend, zap.NewNop(), WithTimeSeed(func() int64 { return seed }))

		res, err := orch.Run(context.Background(), Request{Prompt: prompt, ModelPool: []string{"A"}, MaxRounds: 5})
		require.NoError(t, err)

		require.True(t, res.Converged)
		require.Equal(t, 2, res.RoundsExecuted)
		// Round 0 diverged (-1), round 1 converged (cycle +1, score unchanged).
		assert.Equal(t, int64(len(prompt)%128)<<2-1, res.Provenance.ScoreIndex)
		assert.Equal(t, int64(len(prompt))+1, res.Provenance.CycleIndex)
	})
}

func TestRunDeterministicWithFixedSeed(t *testing.T) {
	script := func(modelID string, call int, _ string) (string, error) {
		if modelID == "B" && call == 0 {
			return "", errors.New("warming up")
		}
		return "reply from " + modelID, nil
	}
	req := Request{Prompt: "same request", ModelPool: []string{"A", "B", "C"}, MaxRounds: 4}

	run := func() *Result {
		orch := New(newScripted(script), zap.NewNop(), fixedSeed())
		res, err := orch.Run(context.Background(), req)
		require.NoError(t, err)
		res.RunID = ""
		return res
	}

	require.Equal(t, run(), run(), "identical requests and deterministic backends must yield bit-identical results")
}

func TestRunOutcomeOrderIsPoolOrder(t *testing.T) {
	// Completion order is reversed via staggered delays; fused order must
	// still follow the declared pool order.
	delays := map[string]time.Duration{"first": 30 * time.Millisecond, "second": 15 * time.Millisecond, "third": 0}
	backend := backends.Func(func(_ context.Context, modelID, _ string) (string, error) {
		time.Sleep(delays[modelID])
		return modelID, nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"first", "second", "third"}, MaxRounds: 2})
	require.NoError(t, err)

	parts := strings.Split(res.FinalText, fusion.Delimiter)
	assert.Equal(t, []string{"first", "second", "third"}, parts)
}

func TestRunAppendsFusedContext(t *testing.T) {
	var mu sync.Mutex
	prompts := make([]string, 0, 3)
	backend := newScripted(func(modelID string, call int, prompt string) (string, error) {
		mu.Lock()
		if modelID == "A" {
			prompts = append(prompts, prompt)
		}
		mu.Unlock()
		return fmt.Sprintf("out-%d", call), nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	_, err := orch.Run(context.Background(), Request{Prompt: "base", ModelPool: []string{"A"}, MaxRounds: 3})
	require.NoError(t, err)

	require.Len(t, prompts, 3)
	assert.Equal(t, "base", prompts[0])
	assert.Equal(t, "base\n\nout-0", prompts[1])
	assert.Equal(t, "base\n\nout-0\n\nout-1", prompts[2])
}

func TestRunInvalidRequests(t *testing.T) {
	orch := New(&backends.StaticBackend{}, zap.NewNop())

	tests := []struct {
		name string
		req  Request
		want error
	}{
		{"empty prompt", Request{Prompt: "  ", ModelPool: []string{"A"}}, ErrEmptyPrompt},
		{"empty pool", Request{Prompt: "q"}, ErrEmptyPool},
		{"blank model", Request{Prompt: "q", ModelPool: []string{"A", " "}}, ErrBlankModel},
		{"negative rounds", Request{Prompt: "q", ModelPool: []string{"A"}, MaxRounds: -1}, ErrNegativeRounds},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := orch.Run(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRunDefaultsMaxRounds(t *testing.T) {
	backend := newScripted(func(modelID string, call int, _ string) (string, error) {
		return fmt.Sprintf("%d", call), nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"A"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxRounds, res.RoundsExecuted)
}

func TestRunSingleModelPoolIsTolerated(t *testing.T) {
	backend := newScripted(func(string, int, string) (string, error) { return "solo", nil })
	orch := New(backend, zap.NewNop(), fixedSeed())

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"only"}, MaxRounds: 3})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, "solo", res.FinalText)
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	var mu sync.Mutex
	var types []string
	emitter := EmitterFunc(func(_ context.Context, ev Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})

	backend := newScripted(func(string, int, string) (string, error) { return "X", nil })
	orch := New(backend, zap.NewNop(), fixedSeed(), WithEmitter(emitter))

	_, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"A"}, MaxRounds: 2})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, EventRunStarted, types[0])
	assert.Equal(t, EventRunCompleted, types[len(types)-1])
	counts := map[string]int{}
	for _, typ := range types {
		counts[typ]++
	}
	assert.Equal(t, 2, counts[EventRoundFused])
	assert.Equal(t, 2, counts[EventRoundJudged])
	assert.Equal(t, 2, counts[EventBackendResult])
}

func TestRunWithLevenshteinJudge(t *testing.T) {
	// Outputs drift by one character per round; a soft threshold accepts
	// the near-repeat where the exact judge would not.
	backend := newScripted(func(_ string, call int, _ string) (string, error) {
		return "answer v" + fmt.Sprint(call), nil
	})
	orch := New(backend, zap.NewNop(), fixedSeed(), WithJudge(judge.Levenshtein{Threshold: 0.8}))

	res, err := orch.Run(context.Background(), Request{Prompt: "q", ModelPool: []string{"A"}, MaxRounds: 5})
	require.NoError(t, err)
	assert.True(t, res.Converged)
	assert.Equal(t, 2, res.RoundsExecuted)
}
