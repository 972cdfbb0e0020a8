// Package fileops implements the FILE: read, write and list operations.
package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/textenc"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// ErrNotFound is returned when the target file or directory does not exist.
var ErrNotFound = errors.New("not found")

// Service resolves relative paths against a root directory.
type Service struct {
	root    string
	maxRead int
	guard   ports.SecurityService
}

// NewService builds a Service. An empty root means the process working directory.
func NewService(cfg domain.FileSettings, guard ports.SecurityService) *Service {
	maxRead := cfg.MaxReadChars
	if maxRead <= 0 {
		maxRead = domain.DefaultMaxReadChars
	}
	return &Service{root: cfg.Root, maxRead: maxRead, guard: guard}
}

// Read returns the file content, capped at the configured character count.
func (s *Service) Read(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("file %w: %s", ErrNotFound, path)
		}
		return "", fmt.Errorf("reading file: %w", err)
	}
	content, _ := textenc.Truncate(textenc.DecodeLossy(data), s.maxRead, domain.ReadTruncationMarker)
	return fmt.Sprintf("File content of %s:\n\n%s", path, content), nil
}

// Write replaces the file content, creating parent directories as needed.
func (s *Service) Write(path, content string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), domain.DirectoryPermissions); err != nil {
		return "", fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(full, []byte(content), domain.DefaultFilePermissions); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

// List returns one line per entry, directories marked with a trailing slash.
func (s *Service) List(path string) (string, error) {
	full, err := s.resolve(path)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("directory %w: %s", ErrNotFound, path)
		}
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("not a directory: %s", path)
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return "", fmt.Errorf("listing directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var b strings.Builder
	fmt.Fprintf(&b, "Contents of %s:\n", path)
	for _, e := range entries {
		if e.IsDir() {
			fmt.Fprintf(&b, "- %s/\n", e.Name())
			continue
		}
		if fi, err := e.Info(); err == nil {
			fmt.Fprintf(&b, "- %s (%s)\n", e.Name(), humanize.Bytes(uint64(fi.Size())))
		} else {
			fmt.Fprintf(&b, "- %s\n", e.Name())
		}
	}
	return b.String(), nil
}

func (s *Service) resolve(path string) (string, error) {
	if s.guard != nil {
		if err := s.guard.EvaluatePath(path); err != nil {
			return "", err
		}
	} else if strings.Contains(path, "..") || strings.Contains(path, "~") {
		return "", fmt.Errorf("%w: %s", domain.ErrPathTraversal, path)
	}
	if filepath.IsAbs(path) || s.root == "" {
		return filepath.Clean(path), nil
	}
	return filepath.Join(s.root, path), nil
}

var _ ports.FileService = (*Service)(nil)
