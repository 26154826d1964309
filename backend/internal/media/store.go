package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/seimmuc/family-tree/backend/internal/graph"
	"github.com/seimmuc/family-tree/backend/pkg/logger"
)

// ErrInvalidKey is returned for keys that could escape the storage root
var ErrInvalidKey = errors.New("invalid media key")

// Store saves, opens and deletes blobs by flat key
type Store interface {
	Save(key string, data io.Reader) error
	Open(key string) (io.ReadCloser, os.FileInfo, error)
	Delete(key string) error
}

// LocalStorage implements Store on the local filesystem
type LocalStorage struct {
	basePath string
	logger   *zap.Logger
}

// NewLocalStorage creates the storage root if needed
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	absBasePath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("invalid media root '%s': %w", basePath, err)
	}
	if err := os.MkdirAll(absBasePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media root '%s': %w", absBasePath, err)
	}

	log := logger.Get()
	log.Info("Media storage ready", zap.String("path", absBasePath))
	return &LocalStorage{basePath: absBasePath, logger: log}, nil
}

// CleanKey normalizes a key taken from a request path: "..", leading
// slashes and duplicate separators are collapsed away.
func CleanKey(raw string) string {
	return strings.TrimPrefix(path.Clean("/"+raw), "/")
}

func (ls *LocalStorage) fullPath(key string) (string, error) {
	if !graph.ValidFilename(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	full := filepath.Join(ls.basePath, key)
	if filepath.Dir(full) != ls.basePath {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return full, nil
}

// Save writes data under key. The file appears atomically once fully written.
func (ls *LocalStorage) Save(key string, data io.Reader) error {
	full, err := ls.fullPath(key)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(ls.basePath, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write '%s': %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write '%s': %w", key, err)
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		return fmt.Errorf("failed to store '%s': %w", key, err)
	}

	ls.logger.Debug("Saved media", zap.String("key", key))
	return nil
}

// Open returns a reader for key; the error wraps os.ErrNotExist when absent
func (ls *LocalStorage) Open(key string) (io.ReadCloser, os.FileInfo, error) {
	full, err := ls.fullPath(key)
	if err != nil {
		return nil, nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open '%s': %w", key, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to stat '%s': %w", key, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, nil, fmt.Errorf("failed to open '%s': %w", key, os.ErrNotExist)
	}
	return file, info, nil
}

// Delete removes key; the error wraps os.ErrNotExist when it was already gone
func (ls *LocalStorage) Delete(key string) error {
	full, err := ls.fullPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil {
		return fmt.Errorf("failed to delete '%s': %w", key, err)
	}
	ls.logger.Debug("Deleted media", zap.String("key", key))
	return nil
}
