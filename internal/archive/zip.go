package archive

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrExtraction is matched by every error returned from Extract.
	ErrExtraction = errors.New("bundle extraction failed")

	// ErrUnsafePath means an entry would land outside the target directory.
	ErrUnsafePath = errors.New("entry escapes target directory")

	// ErrExists means an entry collides with an existing file and overwrite
	// was not requested.
	ErrExists = errors.New("entry already exists")
)

// ExtractionError wraps any failure while materializing a bundle.
type ExtractionError struct {
	Bundle string
	Entry  string
	Err    error
}

func (e *ExtractionError) Error() string {
	if e.Entry != "" {
		return fmt.Sprintf("extracting %s (entry %q): %v", e.Bundle, e.Entry, e.Err)
	}
	return fmt.Sprintf("extracting %s: %v", e.Bundle, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

func (e *ExtractionError) Is(target error) bool { return target == ErrExtraction }

// Extract writes every entry of the zip bundle under targetDir. A missing
// or empty bundle path is a no-op. All entry paths are validated before
// anything is written, so an unsafe bundle leaves targetDir untouched.
func Extract(ctx context.Context, bundle, targetDir string, overwrite bool) error {
	if bundle == "" {
		return nil
	}
	if _, err := os.Stat(bundle); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return &ExtractionError{Bundle: bundle, Err: err}
	}

	zr, err := zip.OpenReader(bundle)
	if errors.Is(err, zip.ErrInsecurePath) {
		zr.Close()
		return &ExtractionError{Bundle: bundle, Err: ErrUnsafePath}
	}
	if err != nil {
		return &ExtractionError{Bundle: bundle, Err: err}
	}
	defer zr.Close()

	root, err := filepath.Abs(targetDir)
	if err != nil {
		return &ExtractionError{Bundle: bundle, Err: err}
	}

	targets := make([]string, len(zr.File))
	for i, f := range zr.File {
		dest, err := resolve(root, f)
		if err != nil {
			return &ExtractionError{Bundle: bundle, Entry: f.Name, Err: err}
		}
		targets[i] = dest
	}

	for i, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return &ExtractionError{Bundle: bundle, Err: err}
		}
		if err := writeEntry(f, targets[i], overwrite); err != nil {
			return &ExtractionError{Bundle: bundle, Entry: f.Name, Err: err}
		}
	}
	return nil
}

// resolve maps an entry name to an absolute path under root.
func resolve(root string, f *zip.File) (string, error) {
	if f.Mode()&fs.ModeSymlink != 0 {
		return "", fmt.Errorf("symlink entry: %w", ErrUnsafePath)
	}

	name := strings.ReplaceAll(f.Name, `\`, "/")
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", ErrUnsafePath
	}

	dest := filepath.Join(root, filepath.FromSlash(name))
	rel, err := filepath.Rel(root, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrUnsafePath
	}
	return dest, nil
}

func writeEntry(f *zip.File, dest string, overwrite bool) error {
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	perm := fs.FileMode(0o644)
	if f.Mode().Perm()&0o111 != 0 {
		perm = 0o755
	}

	if overwrite {
		// Replace rather than truncate so a pre-existing symlink at dest is
		// not followed.
		if info, err := os.Lstat(dest); err == nil && !info.Mode().IsRegular() {
			if err := os.RemoveAll(dest); err != nil {
				return err
			}
		}
	}

	out, err := os.OpenFile(dest, flags, perm)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrExists
		}
		return err
	}

	rc, err := f.Open()
	if err != nil {
		out.Close()
		return err
	}
	_, copyErr := io.Copy(out, rc)
	rc.Close()
	if closeErr := out.Close(); copyErr == nil {
		copyErr = closeErr
	}
	return copyErr
}
