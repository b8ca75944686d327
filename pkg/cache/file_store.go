package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// fileStore keeps one JSON document per key in a directory.
type fileStore struct {
	dir string
}

// NewFileStore creates the directory if needed and returns a
// file-backed store.
func NewFileStore(dir string) (Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &fileStore{dir: dir}, nil
}

var _ Store = (*fileStore)(nil)

func (s *fileStore) path(key string) string {
	// Keys are table names joined by underscores; path separators are
	// the only characters that need neutralizing.
	safe := strings.NewReplacer("/", "_", "\\", "_").Replace(key)
	return filepath.Join(s.dir, safe+".json")
}

func (s *fileStore) Get(key string) (*Entry, bool, error) {
	data, err := os.ReadFile(s.path(key))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read cache file: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("decode cache file %s: %w", s.path(key), err)
	}
	return &entry, true, nil
}

func (s *fileStore) Put(key string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	return os.WriteFile(s.path(key), data, 0o644)
}

func (s *fileStore) Delete(key string) error {
	err := os.Remove(s.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *fileStore) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir: %w", err)
	}
	var keys []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(e.Name(), ".json"))
	}
	return keys, nil
}

func (s *fileStore) Close() error { return nil }
