package compose

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/fitchfork/grader/internal/faults"
)

// entry is one archive member handed to the walk callback. Reader is nil
// for directories and symlinks.
type entry struct {
	Name   string // slash-separated relative path as stored in the archive
	IsDir  bool
	Link   string // symlink target, "" for regular files
	Reader io.Reader
}

var errStopWalk = errors.New("stop walk")

// walkArchive streams the entries of a .zip, .tar, .tgz, .tar.gz or .gz
// archive through fn. Entries are never buffered whole; fn must consume the
// reader before returning.
func walkArchive(archivePath string, fn func(e entry) error) error {
	name := strings.ToLower(archivePath)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return walkZip(archivePath, fn)
	case strings.HasSuffix(name, ".tar"):
		return walkTarFile(archivePath, false, fn)
	case strings.HasSuffix(name, ".tgz"), strings.HasSuffix(name, ".tar.gz"):
		return walkTarFile(archivePath, true, fn)
	case strings.HasSuffix(name, ".gz"):
		return walkGzipFile(archivePath, fn)
	default:
		return faults.New(faults.UnsupportedFileType, "unsupported archive type %q", filepath.Ext(archivePath))
	}
}

func walkZip(archivePath string, fn func(e entry) error) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return faults.Wrap(faults.ArchiveMalformed, err, "opening zip")
	}
	defer r.Close()

	for _, f := range r.File {
		e := entry{Name: f.Name, IsDir: f.FileInfo().IsDir()}
		if f.Mode()&os.ModeSymlink != 0 {
			rc, err := f.Open()
			if err != nil {
				return faults.Wrap(faults.ArchiveMalformed, err, "reading zip symlink %q", f.Name)
			}
			target, err := io.ReadAll(io.LimitReader(rc, 4096))
			rc.Close()
			if err != nil {
				return faults.Wrap(faults.ArchiveMalformed, err, "reading zip symlink %q", f.Name)
			}
			e.Link = string(target)
			if err := fn(e); err != nil {
				return err
			}
			continue
		}
		if e.IsDir {
			if err := fn(e); err != nil {
				return err
			}
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return faults.Wrap(faults.ArchiveMalformed, err, "opening zip entry %q", f.Name)
		}
		e.Reader = rc
		err = fn(e)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func walkTarFile(archivePath string, gzipped bool, fn func(e entry) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return faults.Wrap(faults.ArchiveMalformed, err, "opening tar")
	}
	defer f.Close()

	var src io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return faults.Wrap(faults.ArchiveMalformed, err, "opening gzip stream")
		}
		defer gz.Close()
		src = gz
	}

	tr := tar.NewReader(src)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return faults.Wrap(faults.ArchiveMalformed, err, "reading tar header")
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := fn(entry{Name: hdr.Name, IsDir: true}); err != nil {
				return err
			}
		case tar.TypeSymlink, tar.TypeLink:
			if err := fn(entry{Name: hdr.Name, Link: hdr.Linkname}); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := fn(entry{Name: hdr.Name, Reader: tr}); err != nil {
				return err
			}
		}
	}
}

// walkGzipFile treats a bare .gz as a single compressed file named after the
// archive without the suffix.
func walkGzipFile(archivePath string, fn func(e entry) error) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return faults.Wrap(faults.ArchiveMalformed, err, "opening gzip file")
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return faults.Wrap(faults.ArchiveMalformed, err, "opening gzip stream")
	}
	defer gz.Close()

	name := strings.TrimSuffix(filepath.Base(archivePath), ".gz")
	return fn(entry{Name: name, Reader: gz})
}

// safeRelPath normalizes an archive entry path and rejects anything that
// could land outside the scratch root.
func safeRelPath(name string) (string, error) {
	if strings.Contains(name, `\`) {
		return "", faults.New(faults.PathEscape, "entry %q contains a backslash", name)
	}
	if path.IsAbs(name) {
		return "", faults.New(faults.PathEscape, "entry %q is an absolute path", name)
	}
	clean := path.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", faults.New(faults.PathEscape, "entry %q escapes the scratch root", name)
	}
	return clean, nil
}

// safeLinkTarget checks that a symlink at relPath cannot resolve outside the
// scratch root.
func safeLinkTarget(relPath, target string) error {
	if path.IsAbs(target) || strings.HasPrefix(target, `\`) {
		return faults.New(faults.PathEscape, "symlink %q targets absolute path %q", relPath, target)
	}
	resolved := path.Clean(path.Join(path.Dir(relPath), target))
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return faults.New(faults.PathEscape, "symlink %q escapes the scratch root", relPath)
	}
	return nil
}

// budget tracks the cumulative uncompressed bytes across all layers of one
// composition and aborts once the cap is crossed.
type budget struct {
	remaining int64
}

func newBudget(maxUncompressed uint64) *budget {
	return &budget{remaining: int64(maxUncompressed)}
}

// copyCounted copies r to w, debiting the budget incrementally so a zip bomb
// is stopped mid-stream instead of after inflation.
func (b *budget) copyCounted(w io.Writer, r io.Reader) error {
	for {
		if b.remaining == 0 {
			// Budget exhausted: any further byte crosses the cap.
			n, err := io.Copy(io.Discard, io.LimitReader(r, 1))
			if n > 0 {
				return faults.New(faults.ArchiveTooLarge, "uncompressed size exceeds the configured cap")
			}
			return err
		}
		n, err := io.CopyN(w, r, min64(b.remaining, 1<<20))
		b.remaining -= n
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("copying entry: %w", err)
		}
	}
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
