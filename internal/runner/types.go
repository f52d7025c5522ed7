package runner

import (
	"fmt"
	"time"
)

// RunnerConfig holds configuration for the external tool
type RunnerConfig struct {
	Binary     string        // tool executable, "codex" by default
	ExtraArgs  []string      // inserted before the optional resume instruction
	TempDir    string        // where per-job output files are written
	Timeout    time.Duration // default per-job timeout
	PCTerminal string        // optional launcher template for the pc command
}

// Request describes one run of the tool
type Request struct {
	JobID        int64
	Prompt       string
	Workdir      string
	SessionToken string        // resume this session when non-empty
	Timeout      time.Duration // overrides RunnerConfig.Timeout when > 0
}

// Result holds the outcome of one run
type Result struct {
	ExitCode     int
	Signal       string // terminating signal, if any
	Stdout       string
	Stderr       string
	Output       string // output file content, or stdout when the file is empty
	SessionToken string // last session id found in stdout/stderr
	TimedOut     bool
	Elapsed      time.Duration
}

// SpawnError is returned when the tool could not be started
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}
