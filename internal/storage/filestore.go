package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Kind selects one of the managed directories.
type Kind string

const (
	KindUploads Kind = "uploads"
	KindOutputs Kind = "outputs"
)

// ParseKind validates a directory kind from user input.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(s)) {
	case KindUploads:
		return KindUploads, nil
	case KindOutputs:
		return KindOutputs, nil
	default:
		return "", fmt.Errorf("unknown file kind %q (want uploads or outputs)", s)
	}
}

// FileInfo describes one stored file.
type FileInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	// CreatedAt is the modification time; birth time is not portable.
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
	Path       string    `json:"-"`
}

// FileStore provides lookup, listing and cleanup over the upload and output
// directories.
type FileStore struct {
	dirs   map[Kind]*Sandbox
	logger *slog.Logger
}

// NewFileStore creates a FileStore over uploadDir and outputDir.
func NewFileStore(uploadDir, outputDir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	uploads, err := NewSandbox(uploadDir)
	if err != nil {
		return nil, err
	}
	outputs, err := NewSandbox(outputDir)
	if err != nil {
		return nil, err
	}
	return &FileStore{
		dirs:   map[Kind]*Sandbox{KindUploads: uploads, KindOutputs: outputs},
		logger: logger,
	}, nil
}

func (s *FileStore) sandbox(kind Kind) (*Sandbox, error) {
	sb, ok := s.dirs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown file kind %q", kind)
	}
	return sb, nil
}

// Dir returns the absolute directory for kind.
func (s *FileStore) Dir(kind Kind) string {
	if sb, ok := s.dirs[kind]; ok {
		return sb.BaseDir()
	}
	return ""
}

// EnsureDirectories creates the upload and output directories.
func (s *FileStore) EnsureDirectories() error {
	for _, kind := range []Kind{KindUploads, KindOutputs} {
		if err := s.dirs[kind].Ensure(); err != nil {
			return err
		}
	}
	return nil
}

// ResolvePath returns the absolute path of name inside the kind directory.
func (s *FileStore) ResolvePath(kind Kind, name string) (string, error) {
	sb, err := s.sandbox(kind)
	if err != nil {
		return "", err
	}
	return sb.ResolvePath(name)
}

// FindByPrefix returns the files in the kind directory whose names start with
// id, in name order. An empty id matches nothing.
func (s *FileStore) FindByPrefix(kind Kind, id string) ([]string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return nil, nil
	}
	sb, err := s.sandbox(kind)
	if err != nil {
		return nil, err
	}

	entries, err := sb.List()
	if err != nil {
		return nil, err
	}

	var matches []string
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), id) {
			matches = append(matches, filepath.Join(sb.BaseDir(), entry.Name()))
		}
	}
	return matches, nil
}

// Remove deletes a file inside either managed directory. A file that is
// already gone is not an error.
func (s *FileStore) Remove(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("getting absolute path: %w", err)
	}
	for _, sb := range s.dirs {
		if sb.Contains(abs) {
			return sb.Remove(abs)
		}
	}
	return fmt.Errorf("%w: %s", ErrOutsideSandbox, path)
}

// RemoveByID deletes every file in the kind directory matching id.
func (s *FileStore) RemoveByID(kind Kind, id string) (int, error) {
	matches, err := s.FindByPrefix(kind, id)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range matches {
		if err := s.Remove(path); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// List returns the files in the kind directory, most recently modified first.
func (s *FileStore) List(kind Kind) ([]FileInfo, error) {
	sb, err := s.sandbox(kind)
	if err != nil {
		return nil, err
	}
	entries, err := sb.List()
	if err != nil {
		return nil, err
	}

	files := make([]FileInfo, 0, len(entries))
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		id, _, _ := strings.Cut(entry.Name(), ".")
		files = append(files, FileInfo{
			ID:         id,
			Filename:   entry.Name(),
			Size:       info.Size(),
			CreatedAt:  info.ModTime(),
			ModifiedAt: info.ModTime(),
			Path:       filepath.Join(sb.BaseDir(), entry.Name()),
		})
	}

	slices.SortStableFunc(files, func(a, b FileInfo) int {
		return b.ModifiedAt.Compare(a.ModifiedAt)
	})
	return files, nil
}

// CleanupOlderThan removes files in the kind directory not modified within
// maxAge and returns how many were removed.
func (s *FileStore) CleanupOlderThan(kind Kind, maxAge time.Duration) (int, error) {
	files, err := s.List(kind)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, f := range files {
		if f.ModifiedAt.After(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to remove expired file",
				slog.String("path", f.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		s.logger.Debug("removed expired file",
			slog.String("kind", string(kind)),
			slog.String("path", f.Path),
			slog.Duration("age", time.Since(f.ModifiedAt).Round(time.Second)),
		)
		removed++
	}
	return removed, nil
}
