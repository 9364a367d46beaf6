// Package fileops moves dropped files into folder portals.
package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"
)

// Layer is one strategy for moving src to dst.
type Layer struct {
	Name string
	Move func(ctx context.Context, src, dst string) error
}

// Mover tries each layer in order. Only the last layer's error is returned.
type Mover struct {
	Layers []Layer
}

// DefaultMover uses the desktop's native move (gio on Linux), then
// os.Rename, then copy followed by a best-effort delete.
func DefaultMover() *Mover {
	var layers []Layer
	if runtime.GOOS == "linux" {
		if _, err := exec.LookPath("gio"); err == nil {
			layers = append(layers, Layer{Name: "gio", Move: gioMove})
		}
	}
	layers = append(layers,
		Layer{Name: "rename", Move: renameMove},
		Layer{Name: "copy", Move: copyMove},
	)
	return &Mover{Layers: layers}
}

// Move moves src into the directory dstDir and returns the new path.
func (m *Mover) Move(ctx context.Context, src, dstDir string) (string, error) {
	if len(m.Layers) == 0 {
		return "", errors.New("no move strategies configured")
	}
	info, err := os.Stat(dstDir)
	if err != nil {
		return "", fmt.Errorf("failed to stat destination: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("destination %s is not a directory", dstDir)
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("destination %s already exists", dst)
	}

	var lastErr error
	for _, layer := range m.Layers {
		if err := layer.Move(ctx, src, dst); err != nil {
			lastErr = fmt.Errorf("%s: %w", layer.Name, err)
			continue
		}
		return dst, nil
	}
	return "", lastErr
}

// MoveAll moves every path into dstDir and reports how many succeeded.
// Failures are collected with errors.Join.
func (m *Mover) MoveAll(ctx context.Context, paths []string, dstDir string) (int, error) {
	var errs []error
	moved := 0
	for _, p := range paths {
		if _, err := m.Move(ctx, p, dstDir); err != nil {
			errs = append(errs, fmt.Errorf("failed to move %s: %w", p, err))
			continue
		}
		moved++
	}
	return moved, errors.Join(errs...)
}

func gioMove(ctx context.Context, src, dst string) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "gio", "move", src, dst).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, out)
	}
	return nil
}

func renameMove(_ context.Context, src, dst string) error {
	return os.Rename(src, dst)
}

func copyMove(ctx context.Context, src, dst string) error {
	if err := copyTree(ctx, src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return err
	}
	// The copy succeeded; a source that cannot be removed is left behind.
	_ = os.RemoveAll(src)
	return nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, perm fs.FileMode) (err error) {
	sf, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sf.Close()
	df, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := df.Close(); err == nil {
			err = cerr
		}
	}()
	_, err = io.Copy(df, sf)
	return err
}
