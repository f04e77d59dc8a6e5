package session

import "errors"

var (
	// ErrNotFound means the session id is unknown to the registry.
	ErrNotFound = errors.New("session not found")

	// ErrTimeout means input delivery exceeded its bound. The caller may
	// retry once the child drains its terminal.
	ErrTimeout = errors.New("send timed out")

	// ErrProcessExited means the operation targeted a session whose
	// child has already terminated.
	ErrProcessExited = errors.New("process already exited")
)
