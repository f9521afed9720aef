// Package storage reads and writes the assignment blob-store layout on the
// local filesystem and can mirror blobs down from S3.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root: root}
}

func (s *Store) Root() string { return s.root }

var archiveExts = []string{".zip", ".tar", ".tgz", ".gz"}

// FindArchive returns the lexicographically first archive file in dir.
// Returns "" when the directory is absent or holds no archive, since most
// archive kinds (main, makefile, interpreter) are optional.
func (s *Store) FindArchive(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		for _, want := range archiveExts {
			if ext == want {
				names = append(names, e.Name())
				break
			}
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return filepath.Join(dir, names[0])
}

// SubmissionArchive locates the student archive inside an attempt dir: the
// first archive that is not a report or output artifact.
func (s *Store) SubmissionArchive(moduleID, assignmentID, userID int64, attempt int) (string, error) {
	dir := s.AttemptDir(moduleID, assignmentID, userID, attempt)
	path := s.FindArchive(dir)
	if path == "" {
		return "", fmt.Errorf("no submission archive in %s", dir)
	}
	return path, nil
}

// MemoOutputs reads all memo_output/task_{N}.txt files, sorted by task
// number. Missing directory yields an empty slice.
func (s *Store) MemoOutputs(moduleID, assignmentID int64) (map[int]string, error) {
	dir := s.MemoOutputDir(moduleID, assignmentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[int]string{}, nil
		}
		return nil, err
	}
	out := make(map[int]string, len(entries))
	for _, e := range entries {
		var n int
		if _, err := fmt.Sscanf(e.Name(), "task_%d.txt", &n); err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[n] = string(data)
	}
	return out, nil
}

// WriteFileAtomic writes data to path via a temp file and rename, creating
// parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}
