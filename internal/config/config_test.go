package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "listen: 0.0.0.0:9000\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != "0.0.0.0:9000" {
		t.Fatalf("listen = %q", cfg.Listen)
	}
	if cfg.Agent.MaxIterations != 8 {
		t.Fatalf("max_iterations default = %d, want 8", cfg.Agent.MaxIterations)
	}
	if cfg.STT.Preferred != "whisper_api" {
		t.Fatalf("stt preferred default = %q", cfg.STT.Preferred)
	}
}

func TestLoadExpandsEnvInCredentials(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "sk-secret")
	path := writeConfig(t, "llm:\n  api_key: ${TEST_LLM_KEY}\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Fatalf("api_key = %q", cfg.LLM.APIKey)
	}
}

func TestLoadExpandsEnvInBackendKeys(t *testing.T) {
	t.Setenv("TEST_TTS_KEY", "el-secret")
	path := writeConfig(t, `
tts:
  preferred: elevenlabs
  backends:
    elevenlabs:
      api_key: ${TEST_TTS_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := cfg.TTS.Backends["elevenlabs"]["api_key"]; got != "el-secret" {
		t.Fatalf("backend api_key = %q", got)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"zero iterations": "agent:\n  max_iterations: 0\n",
		"negative cap":    "queue:\n  cap: -1\n",
		"bad source":      "assets:\n  source: ftp\n",
	} {
		path := writeConfig(t, content)
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestStorePathDefaultsIntoDataDir(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/var/lib/voxd"
	if got := cfg.StorePath(); got != filepath.Join("/var/lib/voxd", "history.db") {
		t.Fatalf("store path = %q", got)
	}
	cfg.Store.Path = "/tmp/h.db"
	if got := cfg.StorePath(); got != "/tmp/h.db" {
		t.Fatalf("store path = %q", got)
	}
}

func TestNormalizeBackendID(t *testing.T) {
	cases := map[string]string{
		"Whisper API":  "whisper-api",
		"local_asr":    "local_asr",
		"  Edge TTS  ": "edge-tts",
		"--weird--":    "weird",
		"":             "",
	}
	for in, want := range cases {
		if got := NormalizeBackendID(in); got != want {
			t.Errorf("NormalizeBackendID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:1111\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	reloaded := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte("listen: 127.0.0.1:2222\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Listen != "127.0.0.1:2222" {
			t.Fatalf("reloaded listen = %q", cfg.Listen)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("reload handler never fired")
	}
}

func TestWatcherKeepsOldConfigOnBadReload(t *testing.T) {
	path := writeConfig(t, "listen: 127.0.0.1:1111\n")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	fired := make(chan struct{}, 1)
	w.OnChange(func(*Config) { fired <- struct{}{} })
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}

	// invalid config must not reach handlers
	if err := os.WriteFile(path, []byte("agent:\n  max_iterations: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
		t.Fatal("handler fired for invalid config")
	case <-time.After(700 * time.Millisecond):
	}
}
