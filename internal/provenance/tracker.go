package provenance

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// State holds the bookkeeping numbers for one orchestration run. The values
// are deterministic derivations used for auditing how consensus was reached;
// they are not cryptographic material.
type State struct {
	CycleIndex         int64   `json:"cycle_index"`
	ScoreIndex         int64   `json:"score_index"`
	EntropyAccumulator float64 `json:"entropy_accumulator"`
}

// entropyScale keeps the accumulator a small float.
const entropyScale = 1000.0

// fingerprintMod bounds the per-round fingerprint contribution.
const fingerprintMod = 1_000_000

// Tracker owns the provenance state of a single run. It is not safe for
// concurrent use; each run must create its own tracker.
type Tracker struct {
	state  State
	rounds int
}

// NewTracker seeds the state from the initial prompt length and a
// caller-supplied time seed. Seeding is deterministic given both inputs, so
// callers that need reproducible runs fix the seed.
func NewTracker(promptLength int, timeSeed int64) *Tracker {
	return &Tracker{
		state: State{
			CycleIndex:         int64(promptLength),
			ScoreIndex:         int64(promptLength%128) << 2,
			EntropyAccumulator: float64(int64(promptLength)^timeSeed) / entropyScale,
		},
	}
}

// RecordRound applies one round's outcome: a convergent round advances the
// cycle index, a divergent round decrements the score index (unbounded), and
// every round folds the fused text's fingerprint into the entropy
// accumulator. No field is ever reset mid-run.
func (t *Tracker) RecordRound(converged bool, fusedText string) {
	if converged {
		t.state.CycleIndex++
	} else {
		t.state.ScoreIndex--
	}
	t.state.EntropyAccumulator += Fingerprint(fusedText)
	t.rounds++
}

// Rounds reports how many rounds have been recorded.
func (t *Tracker) Rounds() int { return t.rounds }

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() State { return t.state }

// Fingerprint maps text to a small deterministic float via xxhash64 of the
// trimmed input. Stable across runs and platforms; a fingerprint-of-history,
// not a security primitive.
func Fingerprint(text string) float64 {
	sum := xxhash.Sum64String(strings.TrimSpace(text))
	return float64(sum%fingerprintMod) / entropyScale
}
