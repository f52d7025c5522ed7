package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

var envKeys = []string{
	"WACODEX_AUTHORIZED_NUMBER", "WACODEX_CODEX_BIN", "WACODEX_CODEX_ARGS",
	"WACODEX_WORKDIR", "WACODEX_JOB_TIMEOUT_SEC", "WACODEX_QUEUE_MAX",
	"WACODEX_REPLY_MAX_CHARS", "WACODEX_CHUNK_SIZE", "WACODEX_STATE_DIR",
	"WACODEX_LOCK_PATH", "WACODEX_RECONNECT_DELAY_SEC", "WACODEX_COMMAND_PREFIX",
	"WACODEX_PC_TERMINAL", "WACODEX_LOG_LEVEL",
}

// isolate unsets every WACODEX_ variable (restored after the test) and
// points HOME at a temp dir so no user config is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	home := isolate(t)
	t.Setenv("WACODEX_AUTHORIZED_NUMBER", "+1 555-123-4567")
	t.Setenv("WACODEX_WORKDIR", home)

	cfg, err := Load(Options{EnvFile: filepath.Join(home, "missing.env")})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AuthorizedNumber != "15551234567" {
		t.Errorf("AuthorizedNumber = %q", cfg.AuthorizedNumber)
	}
	if cfg.CodexBin != "codex" || cfg.QueueMax != 10 || cfg.JobTimeoutSec != 900 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReplyMaxChars != 12000 || cfg.ChunkSize != 3500 || cfg.CommandPrefix != "/" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.StateDir != filepath.Join(home, ".wacodex", "state") {
		t.Errorf("StateDir = %q", cfg.StateDir)
	}
	if cfg.Workdir != home {
		t.Errorf("Workdir = %q", cfg.Workdir)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want none", cfg.Source)
	}
}

func TestLoadPrecedence(t *testing.T) {
	home := isolate(t)
	work := t.TempDir()

	tomlPath := writeFile(t, filepath.Join(home, "wacodex.toml"), `
authorized_number = "111"
codex_bin = "/opt/codex"
codex_args = ["--model", "o3"]
queue_max = 3
job_timeout_sec = 60
workdir = "`+work+`"
`)
	envPath := writeFile(t, filepath.Join(home, ".env"), "WACODEX_QUEUE_MAX=5\nWACODEX_CODEX_BIN=/env/codex\n")
	t.Setenv("WACODEX_CODEX_BIN", "/real/codex")

	cfg, err := Load(Options{ConfigPath: tomlPath, EnvFile: envPath})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"file over default", cfg.JobTimeoutSec, 60},
		{"dotenv over file", cfg.QueueMax, 5},
		{"environment over dotenv", cfg.CodexBin, "/real/codex"},
		{"file value kept", cfg.AuthorizedNumber, "111"},
		{"default kept", cfg.ChunkSize, 3500},
		{"workdir from file", cfg.Workdir, work},
		{"source", cfg.Source, tomlPath},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
	if len(cfg.CodexArgs) != 2 || cfg.CodexArgs[1] != "o3" {
		t.Errorf("CodexArgs = %v", cfg.CodexArgs)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		key  string
	}{
		{"missing number", map[string]string{}, "WACODEX_AUTHORIZED_NUMBER"},
		{"bad integer", map[string]string{"WACODEX_QUEUE_MAX": "many"}, "WACODEX_QUEUE_MAX"},
		{"zero timeout", map[string]string{"WACODEX_JOB_TIMEOUT_SEC": "0"}, "WACODEX_JOB_TIMEOUT_SEC"},
		{"missing workdir", map[string]string{"WACODEX_WORKDIR": "/definitely/not/here"}, "WACODEX_WORKDIR"},
		{"bad log level", map[string]string{"WACODEX_LOG_LEVEL": "loud"}, "WACODEX_LOG_LEVEL"},
		{"prefix with space", map[string]string{"WACODEX_COMMAND_PREFIX": "! x"}, "WACODEX_COMMAND_PREFIX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			home := isolate(t)
			if tt.key != "WACODEX_AUTHORIZED_NUMBER" {
				t.Setenv("WACODEX_AUTHORIZED_NUMBER", "15551234567")
			}
			t.Setenv("WACODEX_WORKDIR", home)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load(Options{EnvFile: filepath.Join(home, "none.env")})
			var cfgErr *Error
			if !errors.As(err, &cfgErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if cfgErr.Key != tt.key {
				t.Errorf("Key = %q, want %q", cfgErr.Key, tt.key)
			}
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	home := isolate(t)
	_, err := Load(Options{ConfigPath: filepath.Join(home, "nope.toml")})
	var cfgErr *Error
	if !errors.As(err, &cfgErr) || cfgErr.Key != "config" {
		t.Errorf("expected config file error, got %v", err)
	}
}

func TestChunkSizeCappedByReplyMax(t *testing.T) {
	home := isolate(t)
	t.Setenv("WACODEX_AUTHORIZED_NUMBER", "1")
	t.Setenv("WACODEX_WORKDIR", home)
	t.Setenv("WACODEX_REPLY_MAX_CHARS", "1000")

	cfg, err := Load(Options{EnvFile: filepath.Join(home, "none.env")})
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ChunkSize != 1000 {
		t.Errorf("ChunkSize = %d, want 1000", cfg.ChunkSize)
	}
}
