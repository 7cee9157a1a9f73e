// Package fsys adapts an afero filesystem to the file operations the
// recording lifecycle needs.
package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

// FileSystem is the file gateway used by the session, controller and trash manager.
type FileSystem interface {
	Exists(ctx context.Context, path string) (bool, error)
	Size(ctx context.Context, path string) (int64, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	MkdirAll(ctx context.Context, path string) error
	CurrentDocumentsRoot() string
}

// Afero implements FileSystem on top of an afero.Fs.
type Afero struct {
	fs   afero.Fs
	root string
}

// NewOS returns a FileSystem backed by the real disk with the given documents root.
func NewOS(documentsRoot string) *Afero {
	return New(afero.NewOsFs(), documentsRoot)
}

// New wraps any afero.Fs; tests pass afero.NewMemMapFs().
func New(fs afero.Fs, documentsRoot string) *Afero {
	return &Afero{fs: fs, root: filepath.Clean(documentsRoot)}
}

// Fs exposes the underlying afero filesystem.
func (a *Afero) Fs() afero.Fs {
	return a.fs
}

func (a *Afero) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return afero.Exists(a.fs, path)
}

func (a *Afero) Size(ctx context.Context, path string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	info, err := a.fs.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func (a *Afero) Copy(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := a.fs.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	if err := a.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}
	out, err := a.fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s to %s: %w", src, dst, err)
	}
	return out.Close()
}

// Delete removes path. A missing file is not an error.
func (a *Afero) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := a.fs.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (a *Afero) MkdirAll(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.fs.MkdirAll(path, 0o755)
}

func (a *Afero) CurrentDocumentsRoot() string {
	return a.root
}
