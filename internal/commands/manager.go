// Package commands parses and executes the chat control commands.
package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultPrefix marks a message as a control command
const DefaultPrefix = "/"

// Command represents a control command
type Command struct {
	Name        string   // e.g., "status", without the prefix
	Description string   // e.g., "Show queue and session info"
	Usage       string   // Argument usage, e.g. "<path>" (optional)
	Aliases     []string // e.g., ["guide"]
	Handler     CommandHandler
}

// CommandHandler is the function signature for command handlers
type CommandHandler func(ctx context.Context, args *CommandArgs) *CommandResult

// CommandArgs contains the arguments passed to a command handler
type CommandArgs struct {
	ReplyTo  string   // Chat the command came from
	Provider Provider // Access to gateway functionality
	RawArgs  string   // Everything after the command name
	Usage    string   // Full usage line for error messages, e.g. "/cd <path>"
	Manager  *Manager
}

// Manager is the command registry
type Manager struct {
	mu       sync.RWMutex
	commands map[string]*Command // keyed by name (lowercase)
	provider Provider
	prefix   string
}

// NewManager creates a registry with the built-in commands registered.
func NewManager(prefix string, provider Provider) *Manager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	m := &Manager{
		commands: make(map[string]*Command),
		provider: provider,
		prefix:   prefix,
	}
	registerBuiltins(m)
	return m
}

// Prefix returns the control prefix
func (m *Manager) Prefix() string {
	return m.prefix
}

// Register adds a command to the manager
func (m *Manager) Register(cmd *Command) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.commands[strings.ToLower(cmd.Name)] = cmd
	for _, alias := range cmd.Aliases {
		m.commands[strings.ToLower(alias)] = cmd
	}
}

// Get returns a command by name (or alias)
func (m *Manager) Get(name string) *Command {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commands[strings.ToLower(name)]
}

// List returns all unique commands (no aliases), sorted by name
func (m *Manager) List() []*Command {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[*Command]bool)
	var list []*Command
	for _, cmd := range m.commands {
		if !seen[cmd] {
			seen[cmd] = true
			list = append(list, cmd)
		}
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Name < list[j].Name
	})
	return list
}

// IsCommand checks if text starts with the control prefix
func (m *Manager) IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), m.prefix)
}

// Parse splits a command message into its lowercase name and raw arguments.
// ok is false when text is not a command.
func (m *Manager) Parse(text string) (name, rawArgs string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, m.prefix) {
		return "", "", false
	}
	rest := text[len(m.prefix):]
	idx := strings.IndexFunc(rest, unicode.IsSpace)
	if idx < 0 {
		return strings.ToLower(rest), "", true
	}
	return strings.ToLower(rest[:idx]), strings.TrimSpace(rest[idx:]), true
}

// Execute runs the command in text
func (m *Manager) Execute(ctx context.Context, text, replyTo string) *CommandResult {
	name, rawArgs, ok := m.Parse(text)
	if !ok {
		return &CommandResult{Text: "Not a command."}
	}

	cmd := m.Get(name)
	if cmd == nil {
		return &CommandResult{
			Text: fmt.Sprintf("Unknown command: %s%s\nSend %shelp for available commands.", m.prefix, name, m.prefix),
		}
	}

	args := &CommandArgs{
		ReplyTo:  replyTo,
		Provider: m.provider,
		RawArgs:  rawArgs,
		Usage:    m.usageLine(cmd),
		Manager:  m,
	}
	return cmd.Handler(ctx, args)
}

func (m *Manager) usageLine(cmd *Command) string {
	line := m.prefix + cmd.Name
	if cmd.Usage != "" {
		line += " " + cmd.Usage
	}
	return line
}

// HelpText lists every command with its usage
func (m *Manager) HelpText() string {
	var b strings.Builder
	b.WriteString("Commands\n")
	for _, cmd := range m.List() {
		b.WriteString(fmt.Sprintf("  %s - %s", m.usageLine(cmd), cmd.Description))
		if len(cmd.Aliases) > 0 {
			b.WriteString(" (also " + m.prefix + strings.Join(cmd.Aliases, ", "+m.prefix) + ")")
		}
		b.WriteString("\n")
	}
	b.WriteString("\nAny other text is sent to codex as a prompt.")
	return b.String()
}
