// Package coverage validates coverage sidecar reports and scales a task's
// raw mark by the measured line coverage. It can also convert raw gcov text
// into the canonical report shape, since instrumented C++ runs emit text.
package coverage

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/fitchfork/grader/internal/faults"
)

type Summary struct {
	TotalFiles      uint64  `json:"total_files"`
	TotalLines      uint64  `json:"total_lines"`
	CoveredLines    uint64  `json:"covered_lines"`
	CoveragePercent float64 `json:"coverage_percent"`
}

type File struct {
	Path            string  `json:"path"`
	TotalLines      uint64  `json:"total_lines"`
	CoveredLines    uint64  `json:"covered_lines"`
	CoveragePercent float64 `json:"coverage_percent"`
}

type Report struct {
	GeneratedAt string  `json:"generated_at,omitempty"`
	Summary     Summary `json:"summary"`
	Files       []File  `json:"files"`
}

// Parse decodes and validates a coverage sidecar.
func Parse(data []byte) (*Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, faults.Wrap(faults.SidecarMalformed, err, "parsing coverage report")
	}
	if err := checkPercent(rep.Summary.CoveragePercent); err != nil {
		return nil, err
	}
	for _, f := range rep.Files {
		if err := checkPercent(f.CoveragePercent); err != nil {
			return nil, err
		}
	}
	return &rep, nil
}

func checkPercent(p float64) error {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 || p > 100 {
		return faults.New(faults.SidecarMalformed, "coverage_percent %v outside [0,100]", p)
	}
	return nil
}

// Apply scales a raw earned mark by the report's coverage percentage,
// flooring to an integer.
func Apply(earned uint32, rep *Report) uint32 {
	return uint32(math.Floor(float64(earned) * rep.Summary.CoveragePercent / 100.0))
}

var (
	reGcovFile  = regexp.MustCompile(`File '([^']+)'`)
	reGcovLines = regexp.MustCompile(`Lines executed:([0-9.]+)% of (\d+)`)
)

// ParseGcovText converts raw gcov output into a canonical report. Lines
// before the first File record are skipped.
func ParseGcovText(text string) *Report {
	var files []File
	var totalLines, totalCovered uint64
	var current string

	for _, line := range strings.Split(text, "\n") {
		if m := reGcovFile.FindStringSubmatch(line); m != nil {
			current = m[1]
			continue
		}
		m := reGcovLines.FindStringSubmatch(line)
		if m == nil || current == "" {
			continue
		}
		percent, _ := strconv.ParseFloat(m[1], 64)
		lines, _ := strconv.ParseUint(m[2], 10, 64)
		covered := uint64(math.Round(percent / 100.0 * float64(lines)))

		totalLines += lines
		totalCovered += covered
		files = append(files, File{
			Path:            current,
			TotalLines:      lines,
			CoveredLines:    covered,
			CoveragePercent: percent,
		})
		current = ""
	}

	summary := Summary{
		TotalFiles:   uint64(len(files)),
		TotalLines:   totalLines,
		CoveredLines: totalCovered,
	}
	if totalLines > 0 {
		summary.CoveragePercent = float64(totalCovered) / float64(totalLines) * 100.0
	}
	return &Report{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Summary:     summary,
		Files:       files,
	}
}
