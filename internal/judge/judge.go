// Package judge decides whether two consecutive fused outputs have
// converged. Judges are pure comparisons with no I/O.
package judge

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// Verdict is the outcome of comparing consecutive fused outputs.
type Verdict struct {
	Converged  bool    `json:"converged"`
	Similarity float64 `json:"similarity"`
}

// Judge compares the previous round's fused text with the current one.
// An empty previous text (round 0, or a round that fused nothing) never
// converges. Identical non-empty trimmed text must always converge; every
// implementation preserves that contract.
type Judge interface {
	Judge(previousFused, currentFused string) Verdict
}

// Exact converges only on trimmed string equality.
type Exact struct{}

func (Exact) Judge(previousFused, currentFused string) Verdict {
	prev := strings.TrimSpace(previousFused)
	cur := strings.TrimSpace(currentFused)
	if prev != "" && prev == cur {
		return Verdict{Converged: true, Similarity: 1.0}
	}
	return Verdict{Converged: false, Similarity: 0.0}
}

// Levenshtein converges when edit-distance similarity reaches Threshold.
// Threshold 1 (or unset) behaves like Exact while still reporting the
// graded similarity.
type Levenshtein struct {
	// Threshold in (0,1]; values outside the range are treated as 1.
	Threshold float64
}

func (j Levenshtein) Judge(previousFused, currentFused string) Verdict {
	prev := strings.TrimSpace(previousFused)
	cur := strings.TrimSpace(currentFused)
	if prev == "" {
		return Verdict{}
	}
	if prev == cur {
		return Verdict{Converged: true, Similarity: 1.0}
	}
	sim := similarity(prev, cur)
	th := j.Threshold
	if th <= 0 || th > 1 {
		th = 1
	}
	return Verdict{Converged: sim >= th, Similarity: sim}
}

// similarity is 1 minus the normalized Levenshtein distance over runes.
func similarity(a, b string) float64 {
	longest := len([]rune(a))
	if n := len([]rune(b)); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}
