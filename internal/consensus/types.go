// Package consensus implements the iterative multi-model consensus
// orchestrator: fan a prompt out to a pool of model backends, fuse the
// responses, judge convergence across rounds, and produce an auditable
// final record.
package consensus

import (
	"errors"
	"strings"

	"github.com/concordlab/concord/internal/fusion"
	"github.com/concordlab/concord/internal/provenance"
)

// DefaultMaxRounds is used when a request leaves MaxRounds at zero.
const DefaultMaxRounds = 3

// TotalFailureText is the sentinel final text of a run in which every round
// ended with zero successful backends. Callers distinguish it from a
// successful empty result by the TotalFailure flag.
const TotalFailureText = "[no consensus: all model backends failed in every round]"

// Request is one consensus invocation. Immutable once submitted.
type Request struct {
	Prompt    string   `json:"prompt"`
	ModelPool []string `json:"models"`
	// MaxRounds bounds the round loop. Zero means DefaultMaxRounds;
	// negative values are invalid.
	MaxRounds int `json:"max_rounds,omitempty"`
}

// Validation errors. These indicate caller misuse and are the only errors
// Run returns; backend failures are data, not errors.
var (
	ErrEmptyPrompt    = errors.New("consensus: prompt must not be empty")
	ErrEmptyPool      = errors.New("consensus: model pool must not be empty")
	ErrBlankModel     = errors.New("consensus: model pool contains a blank identifier")
	ErrNegativeRounds = errors.New("consensus: max rounds must not be negative")
)

// Validate fails fast on malformed requests, before any dispatch.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	if len(r.ModelPool) == 0 {
		return ErrEmptyPool
	}
	for _, m := range r.ModelPool {
		if strings.TrimSpace(m) == "" {
			return ErrBlankModel
		}
	}
	if r.MaxRounds < 0 {
		return ErrNegativeRounds
	}
	return nil
}

// maxRounds resolves the effective round budget.
func (r Request) maxRounds() int {
	if r.MaxRounds == 0 {
		return DefaultMaxRounds
	}
	return r.MaxRounds
}

// RoundAttempt is one backend dispatch outcome within a round. Err empty
// means success.
type RoundAttempt struct {
	ModelID string `json:"model_id"`
	Text    string `json:"text,omitempty"`
	Err     string `json:"error,omitempty"`
}

// Failed reports whether the attempt ended in a backend failure.
func (a RoundAttempt) Failed() bool { return a.Err != "" }

// Result is the terminal artifact of a run. JSON-serializable plain data.
type Result struct {
	RunID            string            `json:"run_id"`
	FinalText        string            `json:"final_text"`
	Converged        bool              `json:"converged"`
	TotalFailure     bool              `json:"total_failure"`
	RoundsExecuted   int               `json:"rounds_executed"`
	RankedCandidates []fusion.Ranked   `json:"ranked_candidates"`
	Provenance       provenance.State  `json:"provenance"`
}
