// Package fusion combines the successful outputs of one consensus round into
// a single text block and ranks the individual candidates. Both operations
// are pure: no I/O, no model calls, deterministic for identical input.
package fusion

import (
	"sort"
	"strings"
)

// Delimiter separates candidates inside a fused block. It is fixed and
// visually distinct so downstream consumers can split the block back out.
const Delimiter = "\n\n----- [candidate] -----\n\n"

// Candidate is one model's successful output for a round.
type Candidate struct {
	ModelID string `json:"model_id"`
	Text    string `json:"text"`
}

// Ranked is a candidate with its proxy score attached.
type Ranked struct {
	ModelID string  `json:"model_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// FusedRound is the merged output of one round.
type FusedRound struct {
	RoundIndex     int    `json:"round_index"`
	FusedText      string `json:"fused_text"`
	CandidateCount int    `json:"candidate_count"`
}

// Fuse concatenates the candidates in the order given (pool order), each
// trimmed of surrounding whitespace, joined with Delimiter. Lossless
// concatenation, not summarization. Candidates that trim to nothing are
// dropped and not counted, so FusedText is empty only when CandidateCount
// is zero.
func Fuse(roundIndex int, candidates []Candidate) FusedRound {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if trimmed := strings.TrimSpace(c.Text); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return FusedRound{
		RoundIndex:     roundIndex,
		FusedText:      strings.Join(parts, Delimiter),
		CandidateCount: len(parts),
	}
}

// Rank scores every candidate and returns them sorted descending by score.
// The sort is stable, so ties keep the original pool order. Scoring is a
// cheap deterministic proxy: trimmed length, plus a lexical-diversity
// fraction in [0,1) that only matters between candidates of equal length.
func Rank(candidates []Candidate) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{
			ModelID: c.ModelID,
			Text:    c.Text,
			Score:   Score(c.Text),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// Score computes the ranking proxy for a single output.
func Score(text string) float64 {
	trimmed := strings.TrimSpace(text)
	return float64(len(trimmed)) + lexicalDiversity(trimmed)
}

// lexicalDiversity is unique tokens over total tokens, 0 for empty input.
// Strictly below 1 so it never outweighs a one-byte length difference.
func lexicalDiversity(text string) float64 {
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0
	}
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	d := float64(len(seen)) / float64(len(words))
	if d >= 1 {
		// Cap just under 1 so length stays the primary signal.
		d = 0.999
	}
	return d
}
