package coverage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/faults"
)

func TestParseValidReport(t *testing.T) {
	doc := `{"summary":{"total_files":1,"total_lines":100,"covered_lines":80,"coverage_percent":80},
	         "files":[{"path":"Main.cpp","total_lines":100,"covered_lines":80,"coverage_percent":80}]}`
	rep, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, 80.0, rep.Summary.CoveragePercent)
}

func TestParseRejectsBadPercent(t *testing.T) {
	for _, doc := range []string{
		`{"summary":{"coverage_percent":120},"files":[]}`,
		`{"summary":{"coverage_percent":-1},"files":[]}`,
		`{"summary":{"coverage_percent":50},"files":[{"coverage_percent":101}]}`,
		`not json`,
	} {
		_, err := Parse([]byte(doc))
		require.Error(t, err)
		assert.Equal(t, faults.SidecarMalformed, faults.KindOf(err))
	}
}

func TestApplyFloors(t *testing.T) {
	rep := &Report{Summary: Summary{CoveragePercent: 80}}
	assert.Equal(t, uint32(8), Apply(10, rep))

	rep.Summary.CoveragePercent = 99.9
	assert.Equal(t, uint32(9), Apply(10, rep))

	rep.Summary.CoveragePercent = 0
	assert.Equal(t, uint32(0), Apply(10, rep))
}

const gcovSample = `File 'Main.cpp'
Lines executed:90.00% of 50
Creating 'Main.cpp.gcov'

File 'HelperOne.cpp'
Lines executed:50.00% of 10
Creating 'HelperOne.cpp.gcov'
`

func TestParseGcovText(t *testing.T) {
	rep := ParseGcovText(gcovSample)

	require.Len(t, rep.Files, 2)
	assert.Equal(t, "Main.cpp", rep.Files[0].Path)
	assert.Equal(t, uint64(45), rep.Files[0].CoveredLines)
	assert.Equal(t, uint64(5), rep.Files[1].CoveredLines)
	assert.Equal(t, uint64(60), rep.Summary.TotalLines)
	assert.Equal(t, uint64(50), rep.Summary.CoveredLines)
	assert.InDelta(t, 83.33, rep.Summary.CoveragePercent, 0.01)
	assert.NotEmpty(t, rep.GeneratedAt)
}

func TestParseGcovTextEmpty(t *testing.T) {
	rep := ParseGcovText("no coverage markers here")
	assert.Empty(t, rep.Files)
	assert.Equal(t, 0.0, rep.Summary.CoveragePercent)
}
