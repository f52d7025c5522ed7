package gateway

import "errors"

// ErrBusy rejects workdir changes while a job is active or queued.
var ErrBusy = errors.New("a job is running or queued, wait for it or stop it first")

// ErrFavoriteNotFound is returned for unknown favorite names.
var ErrFavoriteNotFound = errors.New("favorite not found")

// ErrClosed is returned by Submit after Shutdown.
var ErrClosed = errors.New("gateway is shutting down")

// PathError reports a directory that could not be used as a workdir.
type PathError struct {
	Path string // as given by the user
	Err  error
}

func (e *PathError) Error() string {
	return e.Err.Error()
}

func (e *PathError) Unwrap() error {
	return e.Err
}
