package allocator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitchfork/grader/internal/faults"
)

const delim = "&-=-&"

func memoOutputs() []MemoOutput {
	return []MemoOutput{
		{TaskNumber: 1, Name: "Task 1", Stdout: delim + "Part1\nA\n" + delim + "Part2\nB\n"},
		{TaskNumber: 2, Name: "Task 2", Stdout: delim + "Part1\nC\n" + delim + "Part2\nD\n"},
	}
}

func TestBuildFromMemoDefaults(t *testing.T) {
	alloc := BuildFromMemo(memoOutputs(), delim)

	require.Len(t, alloc.Tasks, 2)
	assert.Equal(t, uint32(4), alloc.TotalWeight)
	assert.NotEmpty(t, alloc.GeneratedAt)
	for _, task := range alloc.Tasks {
		assert.Equal(t, uint32(2), task.Weight)
		require.Len(t, task.Criteria, 2)
		assert.Equal(t, "Part1", task.Criteria[0].Name)
		assert.Equal(t, DefaultMarksPerSubsection, task.Criteria[0].Weight)
	}
	require.NoError(t, alloc.Validate())
}

func TestBuildFromMemoEmptyOutputYieldsNoCriteria(t *testing.T) {
	alloc := BuildFromMemo([]MemoOutput{{TaskNumber: 1, Name: "compile only", Stdout: ""}}, delim)
	require.Len(t, alloc.Tasks, 1)
	assert.Empty(t, alloc.Tasks[0].Criteria)
	assert.Equal(t, uint32(0), alloc.TotalWeight)
	require.NoError(t, alloc.Validate())
}

func TestMergePreservesStoredWeights(t *testing.T) {
	stored := BuildFromMemo(memoOutputs(), delim)
	stored.Tasks[0].Criteria[0].Weight = 5
	stored.Tasks[0].Criteria[0].Regex = `ok.*`

	// Re-derive against a memo where task 1 gained Part3 and lost Part2.
	fresh := []MemoOutput{
		{TaskNumber: 1, Name: "Task 1", Stdout: delim + "Part1\nA\n" + delim + "Part3\nZ\n"},
		{TaskNumber: 2, Name: "Task 2", Stdout: delim + "Part1\nC\n" + delim + "Part2\nD\n"},
	}
	merged := Merge(stored, fresh, delim)

	task1, ok := merged.Task(1)
	require.True(t, ok)
	require.Len(t, task1.Criteria, 2)
	assert.Equal(t, "Part1", task1.Criteria[0].Name)
	assert.Equal(t, uint32(5), task1.Criteria[0].Weight)
	assert.Equal(t, `ok.*`, task1.Criteria[0].Regex)
	assert.Equal(t, "Part3", task1.Criteria[1].Name)
	assert.Equal(t, DefaultMarksPerSubsection, task1.Criteria[1].Weight)
	assert.Equal(t, uint32(6), task1.Weight)
	assert.Equal(t, uint32(8), merged.TotalWeight)
}

func TestValidateRejectsDuplicates(t *testing.T) {
	alloc := &Allocator{Tasks: []TaskEntry{
		{TaskNumber: 1, Criteria: []Criterion{{Name: "A", Weight: 1}, {Name: "A", Weight: 1}}},
	}, TotalWeight: 2}
	err := alloc.Validate()
	require.Error(t, err)
	assert.Equal(t, faults.AllocatorInvalid, faults.KindOf(err))

	alloc = &Allocator{Tasks: []TaskEntry{
		{TaskNumber: 1}, {TaskNumber: 1},
	}}
	assert.Error(t, alloc.Validate())
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allocator.json")

	alloc := BuildFromMemo(memoOutputs(), delim)
	alloc.Tasks[0].Criteria[0].Regex = `sum=\d+`
	require.NoError(t, Save(alloc, path))

	loaded, warnings, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, alloc.TotalWeight, loaded.TotalWeight)

	task1, ok := loaded.Task(1)
	require.True(t, ok)
	require.NotNil(t, task1.Criteria[0].Compiled())
	assert.True(t, task1.Criteria[0].Compiled().MatchString("sum=42"))
	assert.False(t, task1.Criteria[0].Compiled().MatchString("the sum=42 here"))
}

func TestLoadInvalidRegexWarnsAndFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "allocator.json")
	doc := `{"tasks":[{"task_number":1,"name":"t","criteria":[{"name":"A","weight":1,"regex":"["}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	loaded, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "invalid regex")
	task1, _ := loaded.Task(1)
	assert.Nil(t, task1.Criteria[0].Compiled())
	// Task weight defaulted to the criteria sum.
	assert.Equal(t, uint32(1), task1.Weight)
	assert.Equal(t, uint32(1), loaded.TotalWeight)
}

func TestLoadMissingFile(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.Equal(t, faults.AllocatorInvalid, faults.KindOf(err))
}
