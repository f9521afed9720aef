package scheme

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/config"
)

func TestExactMatchAwardsFullMarks(t *testing.T) {
	res := Score("A\nB\nC", "A\nB\nC", 3, config.SchemeExact, nil, config.FeedbackAuto, 0)
	assert.Equal(t, uint32(3), res.Earned)
	assert.Empty(t, res.Feedback)
}

func TestExactNormalizesLineEndingsAndTrailingSpace(t *testing.T) {
	res := Score("A\nB", "A  \r\nB\t", 2, config.SchemeExact, nil, config.FeedbackAuto, 0)
	assert.Equal(t, uint32(2), res.Earned)
}

func TestExactMismatchScoresZeroWithDiff(t *testing.T) {
	res := Score("A\nB", "A\nX", 2, config.SchemeExact, nil, config.FeedbackAuto, 0)
	assert.Equal(t, uint32(0), res.Earned)
	assert.Equal(t, `line 2: expected "B", got "X"`, res.Feedback)
}

func TestPercentagePositionalRounding(t *testing.T) {
	memo := "A\nB\nC\nD"
	student := "A\nB\nX\nD"
	res := Score(memo, student, 4, config.SchemePercentage, nil, config.FeedbackAuto, 0)
	// round(4 * 3/4) = 3
	assert.Equal(t, uint32(3), res.Earned)
}

func TestPercentageExtraStudentLinesIgnored(t *testing.T) {
	res := Score("A\nB", "A\nB\nC\nD", 2, config.SchemePercentage, nil, config.FeedbackManual, 0)
	assert.Equal(t, uint32(2), res.Earned)
	assert.Empty(t, res.Feedback)
}

func TestPercentageMissingStudentLinesMismatch(t *testing.T) {
	res := Score("A\nB\nC\nD", "A", 4, config.SchemePercentage, nil, config.FeedbackManual, 0)
	assert.Equal(t, uint32(1), res.Earned)
}

func TestRegexFullStringMatch(t *testing.T) {
	re, err := CompileRegex(`sum=\d+`)
	require.NoError(t, err)

	res := Score("", "sum=42", 5, config.SchemeRegex, re, config.FeedbackManual, 0)
	assert.Equal(t, uint32(5), res.Earned)

	// Substring matches are not enough.
	res = Score("", "the sum=42 here", 5, config.SchemeRegex, re, config.FeedbackManual, 0)
	assert.Equal(t, uint32(0), res.Earned)
}

func TestRegexNilFallsBackToExact(t *testing.T) {
	res := Score("same", "same", 2, config.SchemeRegex, nil, config.FeedbackManual, 0)
	assert.Equal(t, uint32(2), res.Earned)
}

func TestAIFeedbackFlagsResult(t *testing.T) {
	res := Score("A", "B", 1, config.SchemeExact, nil, config.FeedbackAI, 0)
	assert.True(t, res.FlagAI)
	assert.NotEmpty(t, res.Feedback)
}

func TestDiffCapsAtLimit(t *testing.T) {
	memo := "a\na\na\na\na\na\na\na\na\na\na\na"
	student := "b\nb\nb\nb\nb\nb\nb\nb\nb\nb\nb\nb"
	res := Score(memo, student, 1, config.SchemeExact, nil, config.FeedbackAuto, 0)
	assert.Len(t, splitLines(res.Feedback), DefaultDiffLines)
}

func TestDiffCapIsConfigurable(t *testing.T) {
	memo := "a\na\na\na\na"
	student := "b\nb\nb\nb\nb"
	res := Score(memo, student, 1, config.SchemeExact, nil, config.FeedbackAuto, 2)
	assert.Len(t, splitLines(res.Feedback), 2)
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	return append(out, s[start:])
}
