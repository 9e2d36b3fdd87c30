package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FileFlagStore 每个 key 一个文件，内容是字面量 "true" 或 "false"
// FileFlagStore keeps one file per key holding the literal "true" or "false"
type FileFlagStore struct {
	dir string
}

func NewFileFlagStore(dir string) *FileFlagStore {
	return &FileFlagStore{dir: strings.TrimSpace(dir)}
}

// LoadFlag 读取标志；缺失或读取失败都视为 false
// LoadFlag reads a flag; a missing key or any read failure is false
func (f *FileFlagStore) LoadFlag(key string) bool {
	path, err := f.keyPath(key)
	if err != nil {
		return false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(data)) == "true"
}

func (f *FileFlagStore) SaveFlag(key string, value bool) error {
	path, err := f.keyPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create flag dir: %w", err)
	}

	tmp, err := os.CreateTemp(f.dir, "."+key+".*")
	if err != nil {
		return fmt.Errorf("create temp flag: %w", err)
	}
	tmpName := tmp.Name()
	literal := "false"
	if value {
		literal = "true"
	}
	if _, err := tmp.WriteString(literal); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write flag %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close flag %s: %w", key, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename flag %s: %w", key, err)
	}
	return nil
}

func (f *FileFlagStore) keyPath(key string) (string, error) {
	key = strings.TrimSpace(key)
	if f.dir == "" {
		return "", fmt.Errorf("flag dir is empty")
	}
	if key == "" || strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return "", fmt.Errorf("invalid flag key %q", key)
	}
	return filepath.Join(f.dir, key), nil
}
