package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const projectDirName = ".chatkeep"

// InitProjectConfig 在 dir 下写入项目配置模板（.chatkeep/config.json）；已存在时保持不变
// InitProjectConfig writes a project config template to dir/.chatkeep/config.json unless one exists
func InitProjectConfig(dir string) (string, bool, error) {
	path := filepath.Join(strings.TrimSpace(dir), projectDirName, "config.json")

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return path, false, fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return path, false, fmt.Errorf("stat project config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return path, false, fmt.Errorf("mkdir %s: %w", projectDirName, err)
	}

	cfg := Default()
	cfg.Provider.APIKey = ""
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return path, false, fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return path, false, fmt.Errorf("write project config: %w", err)
	}
	return path, true, nil
}

// WriteProviderModel 将 provider.model 写入项目配置，保留文件中的其他键
// WriteProviderModel stores provider.model in the project config and keeps every other key
func WriteProviderModel(dir, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return errors.New("model is empty")
	}
	cfgDir := filepath.Join(strings.TrimSpace(dir), projectDirName)
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", projectDirName, err)
	}
	path := filepath.Join(cfgDir, "config.json")

	var root map[string]any
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(stripJSONComments(data), &root); err != nil {
			root = nil
		}
	}
	if root == nil {
		root = make(map[string]any)
	}
	providerMap, _ := root["provider"].(map[string]any)
	if providerMap == nil {
		providerMap = make(map[string]any)
	}
	providerMap["model"] = model
	root["provider"] = providerMap

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
