package storage

import (
	"fmt"
	"path/filepath"
)

// The blob store's only filesystem contract is this layout:
//
//	<root>/module_{M}/assignment_{A}/
//	  config/{file_id}.json
//	  spec/{file_id}.zip
//	  memo/{file_id}.zip
//	  main/{file_id}.zip
//	  makefile/{file_id}.zip
//	  interpreter/{file_id}.zip
//	  overwrite_files/task_{N}/*
//	  mark_allocator/allocator.json
//	  memo_output/*.txt
//	  assignment_submissions/user_{U}/attempt_{K}/
//	    {submission_id}[.ext]
//	    submission_report.json
//	    submission_output/

func (s *Store) ModuleDir(moduleID int64) string {
	return filepath.Join(s.root, fmt.Sprintf("module_%d", moduleID))
}

func (s *Store) AssignmentDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.ModuleDir(moduleID), fmt.Sprintf("assignment_%d", assignmentID))
}

func (s *Store) ConfigDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "config")
}

func (s *Store) SpecDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "spec")
}

func (s *Store) MemoDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "memo")
}

func (s *Store) MainDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "main")
}

func (s *Store) MakefileDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "makefile")
}

func (s *Store) InterpreterDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "interpreter")
}

func (s *Store) OverwriteDir(moduleID, assignmentID int64, taskNumber int) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID),
		"overwrite_files", fmt.Sprintf("task_%d", taskNumber))
}

func (s *Store) AllocatorPath(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "mark_allocator", "allocator.json")
}

func (s *Store) MemoOutputDir(moduleID, assignmentID int64) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID), "memo_output")
}

func (s *Store) MemoOutputPath(moduleID, assignmentID int64, taskNumber int) string {
	return filepath.Join(s.MemoOutputDir(moduleID, assignmentID), fmt.Sprintf("task_%d.txt", taskNumber))
}

func (s *Store) AttemptDir(moduleID, assignmentID, userID int64, attempt int) string {
	return filepath.Join(s.AssignmentDir(moduleID, assignmentID),
		"assignment_submissions",
		fmt.Sprintf("user_%d", userID),
		fmt.Sprintf("attempt_%d", attempt))
}

func (s *Store) ReportPath(moduleID, assignmentID, userID int64, attempt int) string {
	return filepath.Join(s.AttemptDir(moduleID, assignmentID, userID, attempt), "submission_report.json")
}

func (s *Store) SubmissionOutputDir(moduleID, assignmentID, userID int64, attempt int) string {
	return filepath.Join(s.AttemptDir(moduleID, assignmentID, userID, attempt), "submission_output")
}

func (s *Store) SubmissionOutputPath(moduleID, assignmentID, userID int64, attempt, taskNumber int) string {
	return filepath.Join(s.SubmissionOutputDir(moduleID, assignmentID, userID, attempt),
		fmt.Sprintf("task_%d.txt", taskNumber))
}
