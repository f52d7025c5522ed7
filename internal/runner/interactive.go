package runner

import (
	"fmt"
	"os/exec"
	"strings"

	. "github.com/roelfdiedericks/wacodex/internal/logging"
)

// ResumeArgs returns the arguments that reopen token, or the most recent
// session when token is empty.
func ResumeArgs(token string) []string {
	if tok := strings.TrimSpace(token); tok != "" {
		return []string{"resume", tok}
	}
	return []string{"resume", "--last"}
}

// OpenInteractive starts the tool in a new terminal window on the host
// and returns without waiting for it.
func OpenInteractive(cfg RunnerConfig, workdir, token string) error {
	binary := cfg.Binary
	if binary == "" {
		binary = defaultBinary
	}
	argv := append([]string{binary}, ResumeArgs(token)...)

	var cmd *exec.Cmd
	if cfg.PCTerminal != "" {
		cmd = templateCommand(cfg.PCTerminal, workdir, argv)
	} else {
		cmd = terminalCommand(workdir, argv)
	}
	if cmd == nil {
		return fmt.Errorf("no terminal launcher configured")
	}
	cmd.Dir = workdir

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to open terminal: %w", err)
	}
	L_info("runner: opened interactive session", "launcher", cmd.Path, "workdir", workdir, "resume", token != "")

	// Reap the launcher; the terminal itself lives on
	go func() { _ = cmd.Wait() }()
	return nil
}

// templateCommand expands a launcher template. "{dir}" becomes the workdir
// and "{cmd}" the tool invocation; without "{cmd}" the invocation is
// appended.
func templateCommand(template, workdir string, argv []string) *exec.Cmd {
	fields := strings.Fields(template)
	if len(fields) == 0 {
		return nil
	}
	var out []string
	sawCmd := false
	for _, f := range fields {
		switch f {
		case "{cmd}":
			out = append(out, argv...)
			sawCmd = true
		case "{dir}":
			out = append(out, workdir)
		default:
			out = append(out, strings.ReplaceAll(f, "{dir}", workdir))
		}
	}
	if !sawCmd {
		out = append(out, argv...)
	}
	return exec.Command(out[0], out[1:]...) //nolint:gosec // G204: operator-configured launcher
}

// shellQuote single-quotes s for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellLine(workdir string, argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	return "cd " + shellQuote(workdir) + " && " + strings.Join(quoted, " ")
}
