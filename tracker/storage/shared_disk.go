package storage

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// SharedDisk serves attachments and project exports from a directory that is
// shared between server instances, typically an nfs mount.
type SharedDisk struct {
	root string
}

func NewSharedDisk(root string) Storage {
	slog.Info("using shared disk storage", "root", root)
	return &SharedDisk{root: root}
}

func (s *SharedDisk) resolve(path string) string {
	return filepath.Join(s.root, path)
}

func (s *SharedDisk) Read(path string) (io.ReadCloser, error) {
	file, err := os.Open(s.resolve(path))
	if err != nil {
		slog.Error("shared disk read failed", "path", path, "error", err)
		return nil, fmt.Errorf("unable to read %v: %w", path, err)
	}
	return file, nil
}

func (s *SharedDisk) Write(path string, data io.Reader) error {
	dest := s.resolve(path)

	if err := os.MkdirAll(filepath.Dir(dest), 0777); err != nil {
		slog.Error("shared disk mkdir failed", "path", path, "error", err)
		return fmt.Errorf("unable to create directory for %v: %w", path, err)
	}

	file, err := os.Create(dest)
	if err != nil {
		slog.Error("shared disk create failed", "path", path, "error", err)
		return fmt.Errorf("unable to create %v: %w", path, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		slog.Error("shared disk write failed", "path", path, "error", err)
		return fmt.Errorf("unable to write %v: %w", path, err)
	}

	return nil
}

func (s *SharedDisk) Delete(path string) error {
	if err := os.RemoveAll(s.resolve(path)); err != nil {
		slog.Error("shared disk delete failed", "path", path, "error", err)
		return fmt.Errorf("unable to delete %v: %w", path, err)
	}
	return nil
}

func (s *SharedDisk) Exists(path string) (bool, error) {
	_, err := os.Stat(s.resolve(path))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	slog.Error("shared disk stat failed", "path", path, "error", err)
	return false, fmt.Errorf("unable to stat %v: %w", path, err)
}

func (s *SharedDisk) Size(path string) (int64, error) {
	info, err := os.Stat(s.resolve(path))
	if err != nil {
		slog.Error("shared disk stat failed", "path", path, "error", err)
		return 0, fmt.Errorf("unable to stat %v: %w", path, err)
	}
	return info.Size(), nil
}

// Zip archives the directory at path into <path>.zip beside it. Used to
// package project exports for download.
func (s *SharedDisk) Zip(path string) error {
	src := s.resolve(path)

	out, err := os.Create(src + ".zip")
	if err != nil {
		slog.Error("shared disk zip create failed", "path", path, "error", err)
		return fmt.Errorf("unable to create archive for %v: %w", path, err)
	}
	defer out.Close()

	archive := zip.NewWriter(out)
	defer archive.Close()

	if err := archive.AddFS(os.DirFS(src)); err != nil {
		slog.Error("shared disk zip failed", "path", path, "error", err)
		return fmt.Errorf("unable to archive %v: %w", path, err)
	}

	return nil
}

func (s *SharedDisk) Usage() (UsageStats, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(s.root, &stat); err != nil {
		slog.Error("shared disk statfs failed", "root", s.root, "error", err)
		return UsageStats{}, fmt.Errorf("unable to get disk usage: %w", err)
	}

	return UsageStats{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bfree * uint64(stat.Bsize),
	}, nil
}

func (s *SharedDisk) Location() string {
	return s.root
}
