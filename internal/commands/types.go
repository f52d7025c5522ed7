package commands

import (
	"time"
)

// Provider is the gateway functionality commands operate on
type Provider interface {
	Status() StatusInfo
	SessionToken() string
	Workdir() string

	// Workdir changes clear the session and fail while a job is active or queued
	ChangeDir(path string) (string, error)
	ResetDir() (string, error)

	Favorites() map[string]string
	AddFavorite(name, path string) (normalized, resolved string, err error)
	RemoveFavorite(name string) (string, error)
	UseFavorite(name string) (normalized, dir string, err error)

	OpenInteractive() error
	Stop() StopResult
	NewSession() int
}

// StatusInfo contains gateway status for /status
type StatusInfo struct {
	Connection   string // "open", "connecting", "disconnected", ...
	QueueLength  int     // slots in use, the running job included
	QueueMax     int
	Waiting      []int64 // IDs of jobs not yet started, in order
	Active       bool
	ActiveJobID  int64
	ActiveSince  time.Time
	SessionToken string
	Workdir      string
	Uptime       time.Duration
}

// StopResult describes what /stop did
type StopResult struct {
	Terminated bool  // an active process was signalled
	JobID      int64 // the active job, when Terminated
	Cleared    int   // queued jobs discarded
}

// CommandResult contains the result of a command execution
type CommandResult struct {
	Text  string // Reply sent to the chat
	Error error  // Error if command failed
}
