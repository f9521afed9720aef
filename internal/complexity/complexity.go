// Package complexity validates complexity sidecar reports and derives
// resource-usage flags. Flags annotate a task result; they never change the
// mark directly. Valgrind leak records in task stderr are a second source.
package complexity

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/fitchfork/grader/internal/faults"
)

type ResourceMetrics struct {
	UserTimeS   float64 `json:"user_time_s"`
	SystemTimeS float64 `json:"system_time_s"`
	WallTimeS   float64 `json:"wall_time_s"`
	MaxRssKb    float64 `json:"max_rss_kb"`
}

type Report struct {
	GeneratedAt     string          `json:"generated_at"`
	ResourceMetrics ResourceMetrics `json:"resource_metrics"`
}

// Thresholds above which a run is flagged. Zero disables the check.
type Thresholds struct {
	MaxWallTimeS float64
	MaxRssKb     float64
}

const (
	FlagExcessiveWallTime = "excessive_wall_time"
	FlagExcessiveRss      = "excessive_rss"
	FlagMemoryLeak        = "memory_leak"
)

// Parse decodes and validates a complexity sidecar.
func Parse(data []byte) (*Report, error) {
	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, faults.Wrap(faults.SidecarMalformed, err, "parsing complexity report")
	}
	if rep.GeneratedAt == "" {
		return nil, faults.New(faults.SidecarMalformed, "complexity report missing generated_at")
	}
	for name, v := range map[string]float64{
		"user_time_s":   rep.ResourceMetrics.UserTimeS,
		"system_time_s": rep.ResourceMetrics.SystemTimeS,
		"wall_time_s":   rep.ResourceMetrics.WallTimeS,
		"max_rss_kb":    rep.ResourceMetrics.MaxRssKb,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, faults.New(faults.SidecarMalformed, "%s must be a finite non-negative number", name)
		}
	}
	return &rep, nil
}

// Flags compares the report against thresholds.
func Flags(rep *Report, th Thresholds) []string {
	var flags []string
	if th.MaxWallTimeS > 0 && rep.ResourceMetrics.WallTimeS > th.MaxWallTimeS {
		flags = append(flags, FlagExcessiveWallTime)
	}
	if th.MaxRssKb > 0 && rep.ResourceMetrics.MaxRssKb > th.MaxRssKb {
		flags = append(flags, FlagExcessiveRss)
	}
	return flags
}

var reDefinitelyLost = regexp.MustCompile(`definitely lost:\s*([0-9,]+)\s*bytes`)

// ScanLeaks extracts the leaked byte count from valgrind output in stderr.
// The first "definitely lost" record wins. Returns 0 when valgrind did not
// run or reported no leaks.
func ScanLeaks(stderr string) uint64 {
	m := reDefinitelyLost.FindStringSubmatch(stderr)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseUint(strings.ReplaceAll(m[1], ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// LeakFlag renders the memory_leak flag with the leaked byte count.
func LeakFlag(bytesLeaked uint64) string {
	return fmt.Sprintf("%s:%d", FlagMemoryLeak, bytesLeaked)
}
