// Package runner executes the external reasoning tool for one job at a
// time, enforcing a timeout and recovering the session token it prints.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

const (
	defaultBinary  = "codex"
	defaultTimeout = 15 * time.Minute

	// Grace period for output pipes held open by orphaned descendants
	pipeWaitDelay = 2 * time.Second

	outputFilePrefix = "job-"
)

// Runner starts tool processes.
type Runner struct {
	config RunnerConfig
}

// NewRunner creates a new Runner with the given configuration.
func NewRunner(cfg RunnerConfig) *Runner {
	if cfg.Binary == "" {
		cfg.Binary = defaultBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "wacodex")
	}
	return &Runner{config: cfg}
}

// Config returns the runner's configuration
func (r *Runner) Config() RunnerConfig {
	return r.config
}

// Args builds the tool invocation for req writing its answer to outPath.
func (r *Runner) Args(req Request, outPath string) []string {
	args := []string{
		"exec",
		"--cd", req.Workdir,
		"--skip-git-repo-check",
		"--output-last-message", outPath,
	}
	args = append(args, r.config.ExtraArgs...)
	if tok := strings.TrimSpace(req.SessionToken); tok != "" {
		args = append(args, "resume", tok)
	}
	// Read the prompt from stdin
	return append(args, "-")
}

// Start launches the tool for req. The returned Execution finishes on its
// own; cancelling ctx terminates it.
func (r *Runner) Start(ctx context.Context, req Request) (*Execution, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.config.Timeout
	}

	if err := os.MkdirAll(r.config.TempDir, 0750); err != nil {
		return nil, &SpawnError{Binary: r.config.Binary, Err: fmt.Errorf("temp dir: %w", err)}
	}
	outPath := filepath.Join(r.config.TempDir,
		fmt.Sprintf("%s%d-%s.txt", outputFilePrefix, req.JobID, uuid.New().String()[:8]))

	cmd := exec.Command(r.config.Binary, r.Args(req, outPath)...) //nolint:gosec // G204: binary comes from operator config
	cmd.Dir = req.Workdir
	cmd.Stdin = strings.NewReader(req.Prompt)
	cmd.WaitDelay = pipeWaitDelay
	setProcAttrs(cmd)

	e := &Execution{
		cmd:        cmd,
		outputFile: outPath,
		timeout:    timeout,
		done:       make(chan struct{}),
	}
	cmd.Stdout = &e.stdout
	cmd.Stderr = &e.stderr

	L_debug("runner: starting", "job", req.JobID, "workdir", req.Workdir, "resume", req.SessionToken != "", "timeout", timeout)

	if err := cmd.Start(); err != nil {
		os.Remove(outPath)
		L_error("runner: spawn failed", "job", req.JobID, "error", err)
		return nil, &SpawnError{Binary: r.config.Binary, Err: err}
	}

	e.pid = cmd.Process.Pid
	e.startedAt = time.Now()
	e.timer = time.AfterFunc(timeout, e.expire)

	go e.wait()
	go func() {
		select {
		case <-ctx.Done():
			e.Terminate()
		case <-e.done:
		}
	}()

	L_info("runner: started", "job", req.JobID, "pid", e.pid)
	return e, nil
}

// Execution is a running tool process.
type Execution struct {
	cmd        *exec.Cmd
	pid        int
	startedAt  time.Time
	outputFile string
	timeout    time.Duration
	timer      *time.Timer

	stdout syncBuffer
	stderr syncBuffer

	timedOut atomic.Bool
	done     chan struct{}
	result   *Result
}

// PID returns the process id.
func (e *Execution) PID() int {
	return e.pid
}

// StartedAt returns when the process was launched.
func (e *Execution) StartedAt() time.Time {
	return e.startedAt
}

// OutputFile returns the transient file the tool writes its answer to.
func (e *Execution) OutputFile() string {
	return e.outputFile
}

// Done is closed once the process has exited and the result is ready.
func (e *Execution) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the process exits and returns its result.
func (e *Execution) Wait() *Result {
	<-e.done
	return e.result
}

// Terminate forcibly kills the process and its descendants. It reports
// false when the process had already exited or could not be signalled.
func (e *Execution) Terminate() bool {
	select {
	case <-e.done:
		return false
	default:
	}
	if terminateTree(e.pid) {
		return true
	}
	return e.cmd.Process.Kill() == nil
}

func (e *Execution) expire() {
	select {
	case <-e.done:
		return
	default:
	}
	e.timedOut.Store(true)
	L_warn("runner: timed out, killing process tree", "pid", e.pid, "timeout", e.timeout)
	e.Terminate()
}

func (e *Execution) wait() {
	err := e.cmd.Wait()
	e.timer.Stop()

	res := &Result{
		Stdout:   e.stdout.String(),
		Stderr:   e.stderr.String(),
		TimedOut: e.timedOut.Load(),
		Elapsed:  time.Since(e.startedAt),
	}
	if ps := e.cmd.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
		res.Signal = exitSignal(ps)
	} else if err != nil {
		res.ExitCode = -1
	}
	if err != nil && !errors.Is(err, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			L_warn("runner: wait failed", "pid", e.pid, "error", err)
		}
	}

	res.Output = readOutput(e.outputFile, res.Stdout)
	res.SessionToken = ExtractSessionToken(res.Stdout + "\n" + res.Stderr)

	L_debug("runner: exited", "pid", e.pid, "exitCode", res.ExitCode, "signal", res.Signal,
		"timedOut", res.TimedOut, "elapsed", res.Elapsed, "stdoutLen", len(res.Stdout), "stderrLen", len(res.Stderr))

	e.result = res
	close(e.done)
}

// readOutput prefers the output file and always deletes it.
func readOutput(path, stdout string) string {
	data, err := os.ReadFile(path)
	if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
		L_warn("runner: failed to remove output file", "path", path, "error", rmErr)
	}
	if err == nil {
		if text := strings.TrimSpace(string(data)); text != "" {
			return text
		}
	}
	return strings.TrimSpace(stdout)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes exec makes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
