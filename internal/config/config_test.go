package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// isolate points HOME and the working directory at fresh temp dirs and clears CHATKEEP_* variables.
func isolate(t *testing.T) (home, work string) {
	t.Helper()
	home = t.TempDir()
	t.Setenv("HOME", home)
	for _, key := range []string{
		"CHATKEEP_CONFIG_PATH", "CHATKEEP_BASE_URL", "CHATKEEP_MODEL", "CHATKEEP_API_KEY",
		"OPENAI_API_KEY", "CHATKEEP_HOME", "CHATKEEP_LOG_LEVEL", "CHATKEEP_MAX_STEPS",
	} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatal(err)
		}
	}
	work = t.TempDir()
	oldwd, _ := os.Getwd()
	if err := os.Chdir(work); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldwd) })
	return home, work
}

func TestDefaults(t *testing.T) {
	home, _ := isolate(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != DefaultModel {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Storage.BaseDir != filepath.Join(home, ".chatkeep") {
		t.Fatalf("base dir=%q", cfg.Storage.BaseDir)
	}
	if cfg.Session.DefaultTitle != "New Chat" {
		t.Fatalf("default title=%q", cfg.Session.DefaultTitle)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
	if cfg.LogPath() != filepath.Join(home, ".chatkeep", "chatkeep.log") {
		t.Fatalf("log path=%q", cfg.LogPath())
	}
}

func TestLoadJSONCAndPrecedence(t *testing.T) {
	home, _ := isolate(t)

	globalDir := filepath.Join(home, ".chatkeep")
	if err := os.MkdirAll(globalDir, 0o755); err != nil {
		t.Fatal(err)
	}
	globalCfg := `{
  // global
  "provider": {"model": "global-model", "max_retries": 5},
  "session": {"default_title": "Untitled"}
}`
	if err := os.WriteFile(filepath.Join(globalDir, "config.jsonc"), []byte(globalCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	projectCfg := `{
  /* project wins */
  "provider": {"model": "project-model", "max_retries": 0},
  "log": {"level": "DEBUG"}
}`
	if err := os.WriteFile("chatkeep.config.jsonc", []byte(projectCfg), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "project-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Provider.MaxRetries != 0 {
		t.Fatalf("max_retries=%d", cfg.Provider.MaxRetries)
	}
	if cfg.Session.DefaultTitle != "Untitled" {
		t.Fatalf("default title=%q", cfg.Session.DefaultTitle)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("log level=%q", cfg.Log.Level)
	}
}

func TestExplicitPathAndEnvPath(t *testing.T) {
	isolate(t)

	explicit := filepath.Join(t.TempDir(), "explicit.json")
	if err := os.WriteFile(explicit, []byte(`{"provider":{"model":"explicit"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(explicit)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "explicit" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}

	fromEnv := filepath.Join(t.TempDir(), "env.json")
	if err := os.WriteFile(fromEnv, []byte(`{"provider":{"model":"from-env-path"}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHATKEEP_CONFIG_PATH", fromEnv)
	cfg, err = Load(explicit)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "from-env-path" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
}

func TestEnvOverride(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	t.Setenv("CHATKEEP_MODEL", "env-model")
	t.Setenv("CHATKEEP_HOME", dir)
	t.Setenv("CHATKEEP_MAX_STEPS", "3")
	t.Setenv("OPENAI_API_KEY", "sk-fallback")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "env-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Storage.BaseDir != dir {
		t.Fatalf("base dir=%q", cfg.Storage.BaseDir)
	}
	if cfg.Runtime.MaxSteps != 3 {
		t.Fatalf("max steps=%d", cfg.Runtime.MaxSteps)
	}
	if cfg.Provider.APIKey != "sk-fallback" {
		t.Fatalf("api key=%q", cfg.Provider.APIKey)
	}

	t.Setenv("CHATKEEP_API_KEY", "sk-primary")
	cfg, err = Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.APIKey != "sk-primary" {
		t.Fatalf("api key=%q", cfg.Provider.APIKey)
	}
}

func TestInvalidEnvValues(t *testing.T) {
	isolate(t)
	t.Setenv("CHATKEEP_MAX_STEPS", "zero")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid CHATKEEP_MAX_STEPS")
	}

	t.Setenv("CHATKEEP_MAX_STEPS", "")
	t.Setenv("CHATKEEP_LOG_LEVEL", "loud")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for invalid log level")
	}
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	isolate(t)
	t.Setenv("CHATKEEP_MODEL", "from-shell")
	dotenv := "CHATKEEP_MODEL=from-dotenv\nCHATKEEP_API_KEY=sk-dotenv\n"
	if err := os.WriteFile(".env", []byte(dotenv), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "from-shell" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}
	if cfg.Provider.APIKey != "sk-dotenv" {
		t.Fatalf("api key=%q", cfg.Provider.APIKey)
	}
}

func TestProviderModelsNormalization(t *testing.T) {
	isolate(t)

	projectCfg := `{
  "provider": {
    "model": "m2",
    "models": ["m1", "m2", "m1", "  ", "m3"]
  }
}`
	if err := os.MkdirAll(".chatkeep", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(".chatkeep", "config.json"), []byte(projectCfg), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.Provider.Models) != 3 {
		t.Fatalf("unexpected models: %#v", cfg.Provider.Models)
	}
	if cfg.Provider.Models[0] != "m1" || cfg.Provider.Models[1] != "m2" || cfg.Provider.Models[2] != "m3" {
		t.Fatalf("unexpected models order: %#v", cfg.Provider.Models)
	}
}

func TestParseErrorIsReported(t *testing.T) {
	isolate(t)
	if err := os.WriteFile("chatkeep.config.jsonc", []byte(`{"provider": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(""); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStripJSONCommentsKeepsStrings(t *testing.T) {
	in := []byte(`{"url": "http://x//y", /* c */ "a": 1 // tail
}`)
	var out map[string]any
	if err := json.Unmarshal(stripJSONComments(in), &out); err != nil {
		t.Fatal(err)
	}
	if out["url"] != "http://x//y" {
		t.Fatalf("url=%v", out["url"])
	}
}

func TestInitProjectConfigAndWriteModel(t *testing.T) {
	_, work := isolate(t)

	path, created, err := InitProjectConfig(work)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected config to be created")
	}
	if _, created, err = InitProjectConfig(work); err != nil || created {
		t.Fatalf("second init created=%v err=%v", created, err)
	}

	if err := WriteProviderModel(work, "picked-model"); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Provider.Model != "picked-model" {
		t.Fatalf("model=%q", cfg.Provider.Model)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatal(err)
	}
	if _, ok := root["runtime"]; !ok {
		t.Fatal("runtime section lost after WriteProviderModel")
	}
	if err := WriteProviderModel(work, " "); err == nil {
		t.Fatal("expected error for empty model")
	}
}
