package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultCacheFile is relative to the working directory.
const DefaultCacheFile = ".pdfqa/vector_store.json"

type cacheFile struct {
	VectorStoreID string `json:"vectorStoreId"`
}

// LoadCache returns the cached vector store ID, or "" when the file is
// missing, empty or unreadable. The cache is only a hint, so a corrupt
// file is logged and otherwise ignored.
func LoadCache(path string, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("ignoring unreadable index cache", "path", path, "error", err)
		}
		return ""
	}

	var c cacheFile
	if err := json.Unmarshal(data, &c); err != nil {
		logger.Warn("ignoring corrupt index cache", "path", path, "error", err)
		return ""
	}
	return c.VectorStoreID
}

// SaveCache writes id to the cache file, creating parent directories.
func SaveCache(path, id string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating cache directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(cacheFile{VectorStoreID: id}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// ClearCache removes the cache file. A missing file is not an error.
func ClearCache(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing cache: %w", err)
	}
	return nil
}
