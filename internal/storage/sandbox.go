// Package storage manages the upload and output directories conversions read
// from and write to. All file operations are restricted to those directories.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrOutsideSandbox is returned for paths that resolve outside a managed directory.
var ErrOutsideSandbox = errors.New("path escapes sandbox")

// Sandbox confines file operations to a single base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir. The directory is not
// created; see Ensure.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute path to the sandbox base directory.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// Ensure creates the base directory if it is missing.
func (s *Sandbox) Ensure() error {
	if err := os.MkdirAll(s.baseDir, 0o750); err != nil {
		return fmt.Errorf("creating %s: %w", s.baseDir, err)
	}
	return nil
}

// ResolvePath resolves a file name within the sandbox.
func (s *Sandbox) ResolvePath(name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrOutsideSandbox, name)
	}

	absPath := filepath.Join(s.baseDir, filepath.Clean(name))
	if !s.Contains(absPath) || absPath == s.baseDir {
		return "", fmt.Errorf("%w: %s", ErrOutsideSandbox, name)
	}
	return absPath, nil
}

// Contains reports whether the absolute path lies inside the sandbox.
func (s *Sandbox) Contains(absPath string) bool {
	absPath = filepath.Clean(absPath)
	return absPath == s.baseDir || strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator))
}

// Remove deletes a file inside the sandbox. A missing file is not an error.
func (s *Sandbox) Remove(absPath string) error {
	absPath = filepath.Clean(absPath)
	if !s.Contains(absPath) || absPath == s.baseDir {
		return fmt.Errorf("%w: %s", ErrOutsideSandbox, absPath)
	}
	if err := os.Remove(absPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing %s: %w", absPath, err)
	}
	return nil
}

// List returns the regular files directly inside the sandbox, in name order.
// A missing base directory lists as empty.
func (s *Sandbox) List() ([]os.DirEntry, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	files := entries[:0]
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			files = append(files, entry)
		}
	}
	return files, nil
}
