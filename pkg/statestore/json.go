package statestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/betbot/ogvault/pkg/logger"
)

// JSONFileStore 每个 key 一个 JSON 文件，写入采用 tmp+rename。
type JSONFileStore struct {
	baseDir string
}

func NewJSONFileStore(baseDir string) *JSONFileStore {
	if baseDir == "" {
		baseDir = "data"
	}
	return &JSONFileStore{baseDir: baseDir}
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *JSONFileStore) filePath(key string) string {
	safe := keySanitizer.ReplaceAllString(key, "_")
	return filepath.Join(s.baseDir, safe+".json")
}

func (s *JSONFileStore) Save(key string, v any) error {
	logger.Debugf("[statestore] Save: key=%s", key)
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := s.filePath(key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *JSONFileStore) Load(key string, v any) error {
	logger.Debugf("[statestore] Load: key=%s", key)
	b, err := os.ReadFile(s.filePath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, v)
}

func (s *JSONFileStore) Close() error { return nil }
