package complexity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/faults"
)

func TestParseValid(t *testing.T) {
	doc := `{"generated_at":"2025-01-01T00:00:00Z",
	         "resource_metrics":{"user_time_s":0.5,"system_time_s":0.1,"wall_time_s":1.2,"max_rss_kb":20480}}`
	rep, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 1.2, rep.ResourceMetrics.WallTimeS)
}

func TestParseRejections(t *testing.T) {
	for _, doc := range []string{
		`{"resource_metrics":{"wall_time_s":1}}`, // missing generated_at
		`{"generated_at":"x","resource_metrics":{"wall_time_s":-1}}`,
		`garbage`,
	} {
		_, err := Parse([]byte(doc))
		require.Error(t, err)
		assert.Equal(t, faults.SidecarMalformed, faults.KindOf(err))
	}
}

func TestFlags(t *testing.T) {
	rep := &Report{ResourceMetrics: ResourceMetrics{WallTimeS: 5, MaxRssKb: 1 << 20}}

	flags := Flags(rep, Thresholds{MaxWallTimeS: 2, MaxRssKb: 1 << 19})
	assert.ElementsMatch(t, []string{FlagExcessiveWallTime, FlagExcessiveRss}, flags)

	assert.Empty(t, Flags(rep, Thresholds{MaxWallTimeS: 10, MaxRssKb: 1 << 21}))
	// Zero thresholds disable the checks.
	assert.Empty(t, Flags(rep, Thresholds{}))
}

const valgrindLeaky = `==22== HEAP SUMMARY:
==22==     in use at exit: 100 bytes in 1 blocks
==22==   total heap usage: 13 allocs, 12 frees, 79,320 bytes allocated
==22== LEAK SUMMARY:
==22==    definitely lost: 1,100 bytes in 1 blocks
==22==    indirectly lost: 0 bytes in 0 blocks
`

func TestScanLeaks(t *testing.T) {
	assert.Equal(t, uint64(1100), ScanLeaks(valgrindLeaky))
	assert.Equal(t, uint64(0), ScanLeaks("All heap blocks were freed -- no leaks are possible"))
	assert.Equal(t, uint64(0), ScanLeaks(""))
}

func TestLeakFlag(t *testing.T) {
	assert.Equal(t, "memory_leak:1100", LeakFlag(1100))
}
