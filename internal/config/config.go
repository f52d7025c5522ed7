// Package config loads wacodex settings: built-in defaults, an optional
// TOML file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/roelfdiedericks/wacodex/internal/logging"
	"github.com/roelfdiedericks/wacodex/internal/paths"
)

// Config is the merged runtime configuration
type Config struct {
	AuthorizedNumber string   `toml:"authorized_number"`
	CodexBin         string   `toml:"codex_bin"`
	CodexArgs        []string `toml:"codex_args"`
	Workdir          string   `toml:"workdir"`
	JobTimeoutSec    int      `toml:"job_timeout_sec"`
	QueueMax         int      `toml:"queue_max"`
	ReplyMaxChars    int      `toml:"reply_max_chars"`
	ChunkSize        int      `toml:"chunk_size"`
	StateDir         string   `toml:"state_dir"`
	LockPath         string   `toml:"lock_path"`
	ReconnectDelay   int      `toml:"reconnect_delay_sec"`
	CommandPrefix    string   `toml:"command_prefix"`
	PCTerminal       string   `toml:"pc_terminal"` // e.g. "kitty --directory {dir} -e {cmd}"
	LogLevel         string   `toml:"log_level"`

	// Source is the TOML file that was loaded, empty when none was
	Source string `toml:"-"`
}

// Error reports a setting that could not be used.
type Error struct {
	Key    string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config: %s=%q: %s", e.Key, e.Value, e.Reason)
}

// Options controls where Load looks for its inputs.
type Options struct {
	ConfigPath string // explicit TOML file; must exist when set
	EnvFile    string // defaults to ".env"; missing files are ignored
}

// Defaults returns the built-in settings.
func Defaults() Config {
	return Config{
		CodexBin:       "codex",
		JobTimeoutSec:  900,
		QueueMax:       10,
		ReplyMaxChars:  12000,
		ChunkSize:      3500,
		ReconnectDelay: 5,
		CommandPrefix:  "/",
		LogLevel:       "info",
	}
}

// Load builds the configuration and validates it.
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	path := opts.ConfigPath
	if path == "" {
		found, err := paths.ConfigPath()
		if err != nil {
			return nil, err
		}
		path = found
	} else if _, err := os.Stat(path); err != nil {
		return nil, &Error{Key: "config", Value: path, Reason: "file not found"}
	}

	if path != "" {
		var file Config
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", path, err)
		}
		if err := mergo.Merge(&cfg, file, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("config: merge %s: %w", path, err)
		}
		cfg.Source = path
		logging.L_debug("config: loaded file", "path", path)
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	// Existing environment variables win over the file
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: failed to read %s: %w", envFile, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &Error{Key: key, Value: v, Reason: "not an integer"}
		}
		*dst = n
		return nil
	}

	str("WACODEX_AUTHORIZED_NUMBER", &c.AuthorizedNumber)
	str("WACODEX_CODEX_BIN", &c.CodexBin)
	str("WACODEX_WORKDIR", &c.Workdir)
	str("WACODEX_STATE_DIR", &c.StateDir)
	str("WACODEX_LOCK_PATH", &c.LockPath)
	str("WACODEX_COMMAND_PREFIX", &c.CommandPrefix)
	str("WACODEX_PC_TERMINAL", &c.PCTerminal)
	str("WACODEX_LOG_LEVEL", &c.LogLevel)

	if v, ok := os.LookupEnv("WACODEX_CODEX_ARGS"); ok {
		c.CodexArgs = strings.Fields(v)
	}

	for key, dst := range map[string]*int{
		"WACODEX_JOB_TIMEOUT_SEC":     &c.JobTimeoutSec,
		"WACODEX_QUEUE_MAX":           &c.QueueMax,
		"WACODEX_REPLY_MAX_CHARS":     &c.ReplyMaxChars,
		"WACODEX_CHUNK_SIZE":          &c.ChunkSize,
		"WACODEX_RECONNECT_DELAY_SEC": &c.ReconnectDelay,
	} {
		if err := num(key, dst); err != nil {
			return err
		}
	}
	return nil
}

// finalize validates values and fills path defaults.
func (c *Config) finalize() error {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, c.AuthorizedNumber)
	if digits == "" {
		return &Error{Key: "WACODEX_AUTHORIZED_NUMBER", Value: c.AuthorizedNumber, Reason: "required, must contain digits"}
	}
	c.AuthorizedNumber = digits

	for _, p := range []struct {
		key string
		val int
	}{
		{"WACODEX_JOB_TIMEOUT_SEC", c.JobTimeoutSec},
		{"WACODEX_QUEUE_MAX", c.QueueMax},
		{"WACODEX_REPLY_MAX_CHARS", c.ReplyMaxChars},
		{"WACODEX_CHUNK_SIZE", c.ChunkSize},
		{"WACODEX_RECONNECT_DELAY_SEC", c.ReconnectDelay},
	} {
		if p.val <= 0 {
			return &Error{Key: p.key, Value: strconv.Itoa(p.val), Reason: "must be positive"}
		}
	}
	if c.ChunkSize > c.ReplyMaxChars {
		c.ChunkSize = c.ReplyMaxChars
	}

	if strings.TrimSpace(c.CommandPrefix) == "" || strings.ContainsAny(c.CommandPrefix, " \t\n") {
		return &Error{Key: "WACODEX_COMMAND_PREFIX", Value: c.CommandPrefix, Reason: "must be non-empty without spaces"}
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return &Error{Key: "WACODEX_LOG_LEVEL", Value: c.LogLevel, Reason: err.Error()}
	}

	if c.Workdir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("config: working directory: %w", err)
		}
		c.Workdir = wd
	}
	dir, err := paths.ResolveDir(".", c.Workdir)
	if err != nil {
		return &Error{Key: "WACODEX_WORKDIR", Value: c.Workdir, Reason: err.Error()}
	}
	c.Workdir = dir

	if c.StateDir == "" {
		d, err := paths.DataPath("state")
		if err != nil {
			return err
		}
		c.StateDir = d
	} else {
		d, err := expandAbs(c.StateDir)
		if err != nil {
			return &Error{Key: "WACODEX_STATE_DIR", Value: c.StateDir, Reason: err.Error()}
		}
		c.StateDir = d
	}

	if c.LockPath != "" {
		p, err := expandAbs(c.LockPath)
		if err != nil {
			return &Error{Key: "WACODEX_LOCK_PATH", Value: c.LockPath, Reason: err.Error()}
		}
		c.LockPath = p
	}
	return nil
}

// JobTimeout returns the per-job limit
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.JobTimeoutSec) * time.Second
}

// ReconnectDelayDuration returns the fixed reconnect delay
func (c *Config) ReconnectDelayDuration() time.Duration {
	return time.Duration(c.ReconnectDelay) * time.Second
}

func expandAbs(p string) (string, error) {
	expanded, err := paths.ExpandPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}
