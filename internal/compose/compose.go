// Package compose builds the per-task scratch directory the sandbox runs in.
// Instructor and student archives are extracted in a fixed precedence order,
// later layers overwriting earlier ones, with a cumulative uncompressed-size
// cap and strict path hygiene. It also scans submission archives for
// disallowed code before anything reaches the sandbox.
package compose

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fitchfork/grader/internal/faults"
	"github.com/fitchfork/grader/internal/langs"
)

// Inputs names the archives composing one task's scratch tree. Empty paths
// skip their layer; only Submission is required.
type Inputs struct {
	Memo        string
	Main        string
	Submission  string
	Makefile    string
	Interpreter string
	// OverwriteDir is a plain directory of per-task override files, not an
	// archive. It wins over every archive layer.
	OverwriteDir string
}

type Composer struct {
	Lang            langs.Language
	MaxUncompressed uint64
}

// Compose extracts all layers into dst. Students may not replace the main
// driver, the makefile or the interpreter, hence those come after the
// submission; overwrite files win over everything. Memo runs pass no
// submission; student runs must.
func (c *Composer) Compose(dst string, in Inputs) error {
	if in.Submission == "" && in.Memo == "" {
		return faults.New(faults.ArchiveMalformed, "no archive to compose")
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}

	b := newBudget(c.MaxUncompressed)
	layers := []struct {
		path string
		// The file-type allow-list binds student uploads only; instructor
		// archives may ship whatever the assignment needs.
		restricted bool
	}{
		{in.Memo, false},
		{in.Main, false},
		{in.Submission, true},
		{in.Makefile, false},
		{in.Interpreter, false},
	}
	for _, layer := range layers {
		if layer.path == "" {
			continue
		}
		if err := c.extract(dst, layer.path, layer.restricted, b); err != nil {
			return err
		}
	}
	if in.OverwriteDir != "" {
		if err := copyDir(in.OverwriteDir, dst); err != nil {
			return err
		}
	}
	return nil
}

// junk entries archive tools sprinkle around; skipped, not rejected.
func isJunkEntry(rel string) bool {
	base := filepath.Base(rel)
	return strings.HasPrefix(rel, "__MACOSX/") || base == ".DS_Store" || base == "Thumbs.db"
}

func (c *Composer) extract(dst, archivePath string, restricted bool, b *budget) error {
	return walkArchive(archivePath, func(e entry) error {
		rel, err := safeRelPath(e.Name)
		if err != nil {
			return err
		}
		if rel == "." || isJunkEntry(rel) {
			return nil
		}
		target := filepath.Join(dst, filepath.FromSlash(rel))

		if e.IsDir {
			return os.MkdirAll(target, 0o755)
		}
		if e.Link != "" {
			if err := safeLinkTarget(rel, e.Link); err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			os.Remove(target)
			return os.Symlink(e.Link, target)
		}

		if restricted {
			base := filepath.Base(rel)
			if !langs.Allowed(c.Lang, base, filepath.Ext(base)) {
				return faults.New(faults.UnsupportedFileType, "entry %q is not allowed for language %s", rel, c.Lang)
			}
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		f, err := os.Create(target)
		if err != nil {
			return err
		}
		if err := b.copyCounted(f, e.Reader); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	})
}

// ScanDisallowed walks a submission archive looking for any of the literal
// substrings. Returns the first literal found, or "".
func ScanDisallowed(archivePath string, literals []string) (string, error) {
	if len(literals) == 0 {
		return "", nil
	}
	var found string
	err := walkArchive(archivePath, func(e entry) error {
		if e.IsDir || e.Reader == nil {
			return nil
		}
		// Source files are small; a bound keeps a crafted huge entry from
		// exhausting memory during the scan.
		data, err := io.ReadAll(io.LimitReader(e.Reader, 10<<20))
		if err != nil {
			return faults.Wrap(faults.ArchiveMalformed, err, "reading entry %q", e.Name)
		}
		content := string(data)
		for _, lit := range literals {
			if lit != "" && strings.Contains(content, lit) {
				found = lit
				return errStopWalk
			}
		}
		return nil
	})
	if err != nil && err != errStopWalk {
		return "", err
	}
	return found, nil
}

// copyDir recursively copies the contents of src into dst, overwriting
// existing files.
func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		from := filepath.Join(src, e.Name())
		to := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := os.MkdirAll(to, 0o755); err != nil {
				return err
			}
			if err := copyDir(from, to); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(from, to); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(from, to string) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(to)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
