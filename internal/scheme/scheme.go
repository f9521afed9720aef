// Package scheme scores a student subsection body against the memo body
// under the assignment's marking scheme and feedback mode.
package scheme

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/fitchfork/grader/internal/config"
)

// DefaultDiffLines caps how many mismatching lines auto feedback reports.
const DefaultDiffLines = 10

// Result of scoring one subsection.
type Result struct {
	Earned   uint32
	Feedback string
	// FlagAI marks the result for asynchronous feedback enrichment.
	FlagAI bool
}

// Score evaluates a student body against the memo body. possible is the
// subsection's allocator weight. re is the precompiled pattern for the regex
// scheme; nil falls back to exact matching. diffLines caps the auto-feedback
// diff; zero means DefaultDiffLines.
func Score(memo, student string, possible uint32, sch config.Scheme, re *regexp.Regexp, fb config.Feedback, diffLines uint32) Result {
	memoLines := normalize(memo)
	studentLines := normalize(student)

	var earned uint32
	switch sch {
	case config.SchemePercentage:
		matching := 0
		for i, want := range memoLines {
			if i < len(studentLines) && studentLines[i] == want {
				matching++
			}
		}
		denom := len(memoLines)
		if denom < 1 {
			denom = 1
		}
		earned = uint32(math.Round(float64(possible) * float64(matching) / float64(denom)))
	case config.SchemeRegex:
		if re == nil {
			// Missing or invalid pattern: exact matching applies.
			earned = exact(memoLines, studentLines, possible)
		} else if re.MatchString(student) {
			earned = possible
		}
	default:
		earned = exact(memoLines, studentLines, possible)
	}

	limit := int(diffLines)
	if limit <= 0 {
		limit = DefaultDiffLines
	}

	res := Result{Earned: earned}
	switch fb {
	case config.FeedbackManual:
		// Placeholder, filled in externally.
	case config.FeedbackAI:
		res.Feedback = diff(memoLines, studentLines, limit)
		res.FlagAI = true
	default:
		res.Feedback = diff(memoLines, studentLines, limit)
	}
	return res
}

// CompileRegex compiles an allocator pattern with full-string semantics.
func CompileRegex(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(`\A(?:` + pattern + `)\z`)
}

func exact(memoLines, studentLines []string, possible uint32) uint32 {
	if len(memoLines) != len(studentLines) {
		return 0
	}
	for i := range memoLines {
		if memoLines[i] != studentLines[i] {
			return 0
		}
	}
	return possible
}

// normalize converts a body to LF line endings with per-line trailing
// whitespace stripped.
func normalize(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t\r")
	}
	return lines
}

func diff(memoLines, studentLines []string, limit int) string {
	var b strings.Builder
	count := 0
	n := len(memoLines)
	if len(studentLines) > n {
		n = len(studentLines)
	}
	for i := 0; i < n && count < limit; i++ {
		var want, got string
		if i < len(memoLines) {
			want = memoLines[i]
		}
		if i < len(studentLines) {
			got = studentLines[i]
		}
		if want == got {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "line %d: expected %q, got %q", i+1, want, got)
		count++
	}
	return b.String()
}
