package fusion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuseJoinsTrimmedCandidatesInOrder(t *testing.T) {
	fused := Fuse(2, []Candidate{
		{ModelID: "a", Text: "  first  "},
		{ModelID: "b", Text: "second\n"},
		{ModelID: "c", Text: "third"},
	})

	assert.Equal(t, 2, fused.RoundIndex)
	assert.Equal(t, 3, fused.CandidateCount)
	assert.Equal(t, "first"+Delimiter+"second"+Delimiter+"third", fused.FusedText)

	// The delimiter must allow splitting the block back out.
	parts := strings.Split(fused.FusedText, Delimiter)
	require.Len(t, parts, 3)
	assert.Equal(t, []string{"first", "second", "third"}, parts)
}

func TestFuseEmptyInput(t *testing.T) {
	fused := Fuse(0, nil)
	assert.Equal(t, 0, fused.CandidateCount)
	assert.Empty(t, fused.FusedText)
}

func TestFuseDropsWhitespaceOnlyCandidates(t *testing.T) {
	fused := Fuse(0, []Candidate{{ModelID: "a", Text: "   \n\t "}})
	assert.Equal(t, 0, fused.CandidateCount, "a blank output is not a candidate")
	assert.Empty(t, fused.FusedText)

	fused = Fuse(0, []Candidate{
		{ModelID: "a", Text: "kept"},
		{ModelID: "b", Text: "  "},
		{ModelID: "c", Text: "also kept"},
	})
	assert.Equal(t, 2, fused.CandidateCount)
	assert.Equal(t, "kept"+Delimiter+"also kept", fused.FusedText)
}

func TestFuseSingleCandidateHasNoDelimiter(t *testing.T) {
	fused := Fuse(0, []Candidate{{ModelID: "solo", Text: "only"}})
	assert.Equal(t, "only", fused.FusedText)
	assert.Equal(t, 1, fused.CandidateCount)
}

func TestRankSortsByDescendingLength(t *testing.T) {
	ranked := Rank([]Candidate{
		{ModelID: "short", Text: "ab"},
		{ModelID: "long", Text: "abcdefghij"},
		{ModelID: "mid", Text: "abcde"},
	})

	require.Len(t, ranked, 3)
	assert.Equal(t, "long", ranked[0].ModelID)
	assert.Equal(t, "mid", ranked[1].ModelID)
	assert.Equal(t, "short", ranked[2].ModelID)
	assert.Greater(t, ranked[0].Score, ranked[1].Score)
	assert.Greater(t, ranked[1].Score, ranked[2].Score)
}

func TestRankTiesKeepPoolOrder(t *testing.T) {
	// Identical texts score identically; stable sort keeps pool order.
	ranked := Rank([]Candidate{
		{ModelID: "b", Text: "same text"},
		{ModelID: "a", Text: "same text"},
	})
	require.Len(t, ranked, 2)
	assert.Equal(t, "b", ranked[0].ModelID)
	assert.Equal(t, "a", ranked[1].ModelID)
}

func TestRankDeterministic(t *testing.T) {
	in := []Candidate{
		{ModelID: "x", Text: "lorem ipsum dolor"},
		{ModelID: "y", Text: "lorem lorem lorem"},
	}
	first := Rank(in)
	second := Rank(in)
	assert.Equal(t, first, second)
}

func TestScoreLengthDominatesDiversity(t *testing.T) {
	// One extra byte of length must outweigh any diversity difference.
	repetitive := strings.Repeat("a ", 50) + "ab" // low diversity, longer
	diverse := "the quick brown fox jumps over it"  // high diversity, shorter
	assert.Greater(t, Score(repetitive), Score(diverse))
}
