package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/roelfdiedericks/wacodex/internal/state"
)

// registerBuiltins registers all built-in commands
func registerBuiltins(m *Manager) {
	m.Register(&Command{
		Name:        "help",
		Description: "Show this help",
		Aliases:     []string{"guide"},
		Handler:     handleHelp,
	})

	m.Register(&Command{
		Name:        "status",
		Description: "Show queue, active job, session and workdir",
		Handler:     handleStatus,
	})

	m.Register(&Command{
		Name:        "session",
		Description: "Show the current session token",
		Handler:     handleSession,
	})

	m.Register(&Command{
		Name:        "pwd",
		Description: "Show the working directory",
		Handler:     handlePwd,
	})

	m.Register(&Command{
		Name:        "cd",
		Description: "Change the working directory (starts a new session)",
		Usage:       "<path>",
		Handler:     handleCd,
	})

	m.Register(&Command{
		Name:        "cd-reset",
		Description: "Return to the default working directory",
		Handler:     handleCdReset,
	})

	m.Register(&Command{
		Name:        "fav-list",
		Description: "List favorite directories",
		Handler:     handleFavList,
	})

	m.Register(&Command{
		Name:        "fav-add",
		Description: "Save a directory as a favorite",
		Usage:       "<name> <path>",
		Handler:     handleFavAdd,
	})

	m.Register(&Command{
		Name:        "fav-rm",
		Description: "Remove a favorite",
		Usage:       "<name>",
		Handler:     handleFavRm,
	})

	m.Register(&Command{
		Name:        "fav",
		Description: "Switch to a favorite directory",
		Usage:       "<name>",
		Handler:     handleFav,
	})

	m.Register(&Command{
		Name:        "pc",
		Description: "Open codex on the host, resuming this session",
		Handler:     handlePc,
	})

	m.Register(&Command{
		Name:        "stop",
		Description: "Stop the running job and clear the queue",
		Handler:     handleStop,
	})

	m.Register(&Command{
		Name:        "new",
		Description: "Clear the queue and start a fresh session",
		Handler:     handleNew,
	})
}

func handleHelp(ctx context.Context, args *CommandArgs) *CommandResult {
	return &CommandResult{Text: args.Manager.HelpText()}
}

func handleStatus(ctx context.Context, args *CommandArgs) *CommandResult {
	st := args.Provider.Status()

	var text strings.Builder
	text.WriteString("Status\n")
	if st.Connection != "" {
		text.WriteString(fmt.Sprintf("  Connection: %s\n", st.Connection))
	}
	text.WriteString(fmt.Sprintf("  Queue: %d/%d in use, %d waiting%s\n", st.QueueLength, st.QueueMax, len(st.Waiting), jobList(st.Waiting)))
	if st.Active {
		text.WriteString(fmt.Sprintf("  Active job: #%d (running %s)\n", st.ActiveJobID, time.Since(st.ActiveSince).Round(time.Second)))
	} else {
		text.WriteString("  Active job: none\n")
	}
	text.WriteString(fmt.Sprintf("  Session: %s\n", orNone(st.SessionToken)))
	text.WriteString(fmt.Sprintf("  Workdir: %s\n", st.Workdir))
	text.WriteString(fmt.Sprintf("  Uptime: %s", st.Uptime.Round(time.Second)))

	return &CommandResult{Text: text.String()}
}

// jobList renders " (#1, #2)" for a non-empty list of job IDs.
func jobList(ids []int64) string {
	if len(ids) == 0 {
		return ""
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("#%d", id)
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func handleSession(ctx context.Context, args *CommandArgs) *CommandResult {
	return &CommandResult{Text: "Session: " + orNone(args.Provider.SessionToken())}
}

func handlePwd(ctx context.Context, args *CommandArgs) *CommandResult {
	return &CommandResult{Text: args.Provider.Workdir()}
}

func handleCd(ctx context.Context, args *CommandArgs) *CommandResult {
	if args.RawArgs == "" {
		return usage(args)
	}
	dir, err := args.Provider.ChangeDir(args.RawArgs)
	if err != nil {
		return failure("cd failed", err)
	}
	return &CommandResult{Text: fmt.Sprintf("Workdir: %s\nSession cleared.", dir)}
}

func handleCdReset(ctx context.Context, args *CommandArgs) *CommandResult {
	dir, err := args.Provider.ResetDir()
	if err != nil {
		return failure("cd-reset failed", err)
	}
	return &CommandResult{Text: fmt.Sprintf("Workdir reset to %s\nSession cleared.", dir)}
}

func handleFavList(ctx context.Context, args *CommandArgs) *CommandResult {
	favs := args.Provider.Favorites()
	if len(favs) == 0 {
		return &CommandResult{Text: "No favorites."}
	}

	var text strings.Builder
	text.WriteString(fmt.Sprintf("Favorites (%d)\n", len(favs)))
	for _, name := range state.SortedNames(favs) {
		text.WriteString(fmt.Sprintf("  %s → %s\n", name, favs[name]))
	}
	return &CommandResult{Text: strings.TrimRight(text.String(), "\n")}
}

func handleFavAdd(ctx context.Context, args *CommandArgs) *CommandResult {
	name, path := splitFirst(args.RawArgs)
	if name == "" || path == "" {
		return usage(args)
	}
	n, dir, err := args.Provider.AddFavorite(name, path)
	if err != nil {
		return failure("fav-add failed", err)
	}
	return &CommandResult{Text: fmt.Sprintf("Favorite %s → %s", n, dir)}
}

func handleFavRm(ctx context.Context, args *CommandArgs) *CommandResult {
	if args.RawArgs == "" {
		return usage(args)
	}
	n, err := args.Provider.RemoveFavorite(args.RawArgs)
	if err != nil {
		return failure("fav-rm failed", err)
	}
	return &CommandResult{Text: fmt.Sprintf("Favorite %s removed.", n)}
}

func handleFav(ctx context.Context, args *CommandArgs) *CommandResult {
	if args.RawArgs == "" {
		return usage(args)
	}
	n, dir, err := args.Provider.UseFavorite(args.RawArgs)
	if err != nil {
		return failure("fav failed", err)
	}
	return &CommandResult{Text: fmt.Sprintf("Workdir: %s (%s)\nSession cleared.", dir, n)}
}

func handlePc(ctx context.Context, args *CommandArgs) *CommandResult {
	if err := args.Provider.OpenInteractive(); err != nil {
		return failure("pc failed", err)
	}
	if tok := args.Provider.SessionToken(); tok != "" {
		return &CommandResult{Text: "Opened codex on the host, resuming " + tok}
	}
	return &CommandResult{Text: "Opened codex on the host, resuming the most recent session"}
}

func handleStop(ctx context.Context, args *CommandArgs) *CommandResult {
	res := args.Provider.Stop()
	switch {
	case res.Terminated && res.Cleared > 0:
		return &CommandResult{Text: fmt.Sprintf("Stopping job #%d and cleared %d queued job(s).", res.JobID, res.Cleared)}
	case res.Terminated:
		return &CommandResult{Text: fmt.Sprintf("Stopping job #%d.", res.JobID)}
	case res.Cleared > 0:
		return &CommandResult{Text: fmt.Sprintf("Cleared %d queued job(s).", res.Cleared)}
	default:
		return &CommandResult{Text: "Nothing to stop."}
	}
}

func handleNew(ctx context.Context, args *CommandArgs) *CommandResult {
	cleared := args.Provider.NewSession()
	if cleared > 0 {
		return &CommandResult{Text: fmt.Sprintf("New session. Cleared %d queued job(s).", cleared)}
	}
	return &CommandResult{Text: "New session."}
}

func usage(args *CommandArgs) *CommandResult {
	return &CommandResult{Text: "Usage: " + args.Usage}
}

func failure(what string, err error) *CommandResult {
	return &CommandResult{
		Text:  fmt.Sprintf("%s: %s", what, err),
		Error: err,
	}
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

// splitFirst returns the first whitespace-separated word and the trimmed rest.
func splitFirst(s string) (string, string) {
	s = strings.TrimSpace(s)
	idx := strings.IndexAny(s, " \t\n")
	if idx < 0 {
		return s, ""
	}
	return s[:idx], strings.TrimSpace(s[idx:])
}
