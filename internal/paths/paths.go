// Package paths provides centralized path resolution for wacodex.
// This package has NO internal imports (only stdlib) to avoid import cycles.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// BaseDir returns the wacodex base directory (~/.wacodex).
func BaseDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".wacodex"), nil
}

// DataPath returns a path within the wacodex data directory (~/.wacodex/<subpath>).
func DataPath(subpath string) (string, error) {
	base, err := BaseDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, subpath), nil
}

// ConfigPath returns the active wacodex.toml path.
// Priority: ./wacodex.toml > ~/.wacodex/wacodex.toml
// Returns ("", nil) if no config exists - this is a valid state, not an error.
func ConfigPath() (string, error) {
	if _, err := os.Stat("wacodex.toml"); err == nil {
		return filepath.Abs("wacodex.toml")
	}
	globalPath, err := DataPath("wacodex.toml")
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(globalPath); err == nil {
		return globalPath, nil
	}
	return "", nil
}

// EnsureDir creates a directory if it doesn't exist.
// Uses 0750 permissions (owner: rwx, group: rx, other: none).
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0750); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// ExpandTilde expands a path that starts with ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
func ExpandTilde(path string) (string, error) {
	if len(path) == 0 || path[0] != '~' {
		return path, nil
	}
	if len(path) > 1 && path[1] != '/' && path[1] != filepath.Separator {
		// ~otheruser is not supported
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if len(path) == 1 {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}

// ExpandPath expands a leading ~ and any $VAR, ${VAR} (and %VAR% on
// windows) references. Unknown variables expand to the empty string.
func ExpandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	path = os.ExpandEnv(path)
	if filepath.Separator == '\\' {
		path = expandPercentVars(path)
	}
	return ExpandTilde(path)
}

func expandPercentVars(s string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(s, '%')
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start+1:], '%')
		if end < 0 {
			break
		}
		name := s[start+1 : start+1+end]
		b.WriteString(s[:start])
		if v, ok := os.LookupEnv(name); ok && name != "" {
			b.WriteString(v)
		} else {
			b.WriteString(s[start : start+end+2])
		}
		s = s[start+end+2:]
	}
	b.WriteString(s)
	return b.String()
}

// ResolveDir expands input and resolves it against base when relative.
// The result must exist and be a directory.
func ResolveDir(base, input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return "", fmt.Errorf("empty path")
	}
	expanded, err := ExpandPath(input)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(base, expanded)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", input, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%s does not exist", abs)
		}
		return "", fmt.Errorf("cannot access %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}
