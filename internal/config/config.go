package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type ProviderConfig struct {
	BaseURL    string   `json:"base_url"`
	Model      string   `json:"model"`
	Models     []string `json:"models"`
	APIKey     string   `json:"api_key"`
	TimeoutMS  int      `json:"timeout_ms"`
	MaxRetries int      `json:"max_retries"`
}

type RuntimeConfig struct {
	MaxSteps          int    `json:"max_steps"`
	ContextTokenLimit int    `json:"context_token_limit"`
	SystemPrompt      string `json:"system_prompt"`
}

type StorageConfig struct {
	BaseDir string `json:"base_dir"`
}

type SessionConfig struct {
	DefaultTitle string `json:"default_title"`
}

type LogConfig struct {
	Level string `json:"level"`
}

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Runtime  RuntimeConfig  `json:"runtime"`
	Storage  StorageConfig  `json:"storage"`
	Session  SessionConfig  `json:"session"`
	Log      LogConfig      `json:"log"`
}

// fileProviderConfig 用指针区分“未设置”和零值 / pointers tell "unset" apart from zero values
type fileProviderConfig struct {
	BaseURL    *string   `json:"base_url"`
	Model      *string   `json:"model"`
	Models     *[]string `json:"models"`
	APIKey     *string   `json:"api_key"`
	TimeoutMS  *int      `json:"timeout_ms"`
	MaxRetries *int      `json:"max_retries"`
}

type fileConfig struct {
	Provider *fileProviderConfig `json:"provider"`
	Runtime  *RuntimeConfig      `json:"runtime"`
	Storage  *StorageConfig      `json:"storage"`
	Session  *SessionConfig      `json:"session"`
	Log      *LogConfig          `json:"log"`
}

func Default() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:    DefaultBaseURL,
			Model:      DefaultModel,
			Models:     []string{DefaultModel},
			TimeoutMS:  DefaultTimeoutMS,
			MaxRetries: DefaultRetries,
		},
		Runtime: RuntimeConfig{
			MaxSteps:          DefaultRuntimeMaxSteps,
			ContextTokenLimit: DefaultRuntimeContextTokenLimit,
			SystemPrompt:      defaultSystemPrompt,
		},
		Storage: StorageConfig{BaseDir: DefaultBaseDir},
		Session: SessionConfig{DefaultTitle: DefaultSessionTitle},
		Log:     LogConfig{Level: DefaultLogLevel},
	}
}

// Load 按 默认值 → 全局配置 → 项目配置 → .env/环境变量 的顺序合并配置
// Load layers defaults, the global file, the project file, then .env and environment variables
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("CHATKEEP_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

// DatabasePath is the SQLite file under the base directory.
func (c Config) DatabasePath(name string) string {
	return filepath.Join(c.Storage.BaseDir, name)
}

func (c Config) LogPath() string {
	return filepath.Join(c.Storage.BaseDir, "chatkeep.log")
}

// FlagsDir holds one file per boolean preference.
func (c Config) FlagsDir() string {
	return filepath.Join(c.Storage.BaseDir, "flags")
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".chatkeep")
	return []string{
		filepath.Join(dir, "config.jsonc"),
		filepath.Join(dir, "config.json"),
	}
}

func findProjectConfigPath() string {
	candidates := []string{
		"chatkeep.config.jsonc",
		".chatkeep/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// loadDotEnv 读取 .env 但不覆盖已存在的环境变量；文件不存在不是错误
// loadDotEnv reads .env without overriding variables already set; a missing file is fine
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Provider != nil {
		cfg.Provider = mergeProvider(cfg.Provider, *fc.Provider)
	}
	if fc.Runtime != nil {
		cfg.Runtime = mergeRuntime(cfg.Runtime, *fc.Runtime)
	}
	if fc.Storage != nil && strings.TrimSpace(fc.Storage.BaseDir) != "" {
		cfg.Storage.BaseDir = fc.Storage.BaseDir
	}
	if fc.Session != nil && strings.TrimSpace(fc.Session.DefaultTitle) != "" {
		cfg.Session.DefaultTitle = fc.Session.DefaultTitle
	}
	if fc.Log != nil && strings.TrimSpace(fc.Log.Level) != "" {
		cfg.Log.Level = fc.Log.Level
	}
}

func mergeProvider(base ProviderConfig, override fileProviderConfig) ProviderConfig {
	if override.BaseURL != nil && strings.TrimSpace(*override.BaseURL) != "" {
		base.BaseURL = *override.BaseURL
	}
	if override.Model != nil && strings.TrimSpace(*override.Model) != "" {
		base.Model = *override.Model
	}
	if override.APIKey != nil && strings.TrimSpace(*override.APIKey) != "" {
		base.APIKey = *override.APIKey
	}
	if override.Models != nil && len(*override.Models) > 0 {
		base.Models = append([]string(nil), (*override.Models)...)
	}
	if override.TimeoutMS != nil && *override.TimeoutMS > 0 {
		base.TimeoutMS = *override.TimeoutMS
	}
	// max_retries 允许显式设为 0 / max_retries may be set to 0 explicitly
	if override.MaxRetries != nil && *override.MaxRetries >= 0 {
		base.MaxRetries = *override.MaxRetries
	}
	return base
}

func mergeRuntime(base RuntimeConfig, override RuntimeConfig) RuntimeConfig {
	if override.MaxSteps > 0 {
		base.MaxSteps = override.MaxSteps
	}
	if override.ContextTokenLimit > 0 {
		base.ContextTokenLimit = override.ContextTokenLimit
	}
	if strings.TrimSpace(override.SystemPrompt) != "" {
		base.SystemPrompt = override.SystemPrompt
	}
	return base
}

func normalize(cfg *Config) error {
	def := Default()
	cfg.Provider.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Provider.BaseURL), "/")
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = def.Provider.BaseURL
	}
	cfg.Provider.Model = strings.TrimSpace(cfg.Provider.Model)
	if cfg.Provider.Model == "" {
		cfg.Provider.Model = def.Provider.Model
	}
	if cfg.Provider.TimeoutMS <= 0 {
		cfg.Provider.TimeoutMS = def.Provider.TimeoutMS
	}
	if cfg.Provider.MaxRetries < 0 {
		cfg.Provider.MaxRetries = def.Provider.MaxRetries
	}
	cfg.Provider.Models = normalizeModelList(cfg.Provider.Models)
	if !containsString(cfg.Provider.Models, cfg.Provider.Model) {
		cfg.Provider.Models = append([]string{cfg.Provider.Model}, cfg.Provider.Models...)
	}

	if cfg.Runtime.MaxSteps <= 0 {
		cfg.Runtime.MaxSteps = def.Runtime.MaxSteps
	}
	if cfg.Runtime.ContextTokenLimit <= 0 {
		cfg.Runtime.ContextTokenLimit = def.Runtime.ContextTokenLimit
	}
	if strings.TrimSpace(cfg.Runtime.SystemPrompt) == "" {
		cfg.Runtime.SystemPrompt = def.Runtime.SystemPrompt
	}

	if strings.TrimSpace(cfg.Session.DefaultTitle) == "" {
		cfg.Session.DefaultTitle = def.Session.DefaultTitle
	}

	level := strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	switch level {
	case "":
		level = def.Log.Level
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", cfg.Log.Level)
	}
	cfg.Log.Level = level

	if strings.TrimSpace(cfg.Storage.BaseDir) == "" {
		cfg.Storage.BaseDir = def.Storage.BaseDir
	}
	storageDir, err := expandPath(cfg.Storage.BaseDir)
	if err != nil {
		return err
	}
	cfg.Storage.BaseDir = storageDir
	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_BASE_URL")); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_MODEL")); v != "" {
		cfg.Provider.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_API_KEY")); v != "" {
		cfg.Provider.APIKey = v
	} else if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_HOME")); v != "" {
		cfg.Storage.BaseDir = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("CHATKEEP_MAX_STEPS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid CHATKEEP_MAX_STEPS: %q", v)
		}
		cfg.Runtime.MaxSteps = n
	}

	return cfg, normalize(&cfg)
}

func normalizeModelList(models []string) []string {
	out := make([]string, 0, len(models))
	seen := map[string]struct{}{}
	for _, m := range models {
		trimmed := strings.TrimSpace(m)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

func containsString(items []string, needle string) bool {
	for _, item := range items {
		if item == needle {
			return true
		}
	}
	return false
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 去掉 // 和 /* */ 注释，保留字符串中的内容
// stripJSONComments removes // and /* */ comments outside string literals
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
