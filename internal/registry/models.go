package registry

import (
	"path/filepath"
	"time"
)

// Status is a session's lifecycle state. Transitions are monotonic:
// starting -> running -> exited|failed, and nothing leaves a terminal
// state.
type Status string

const (
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusExited   Status = "exited"
	StatusFailed   Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusExited || s == StatusFailed
}

// CleanupPolicy decides what happens to a session's on-disk artifacts
// when it terminates. Decided at start, immutable afterwards.
type CleanupPolicy string

const (
	// CleanupImmediate deletes the session directory and registry entry
	// as soon as the child exits.
	CleanupImmediate CleanupPolicy = "immediate"
	// CleanupDeferred leaves everything in place for later inspection.
	CleanupDeferred CleanupPolicy = "deferred"
)

// Session is one registry row describing a managed PTY session.
type Session struct {
	ID         string
	Command    []string
	PID        int
	RelayPID   int
	Status     Status
	ExitCode   int    // meaningful only when Status == StatusExited
	Reason     string // meaningful only when Status == StatusFailed
	Dir        string
	Cleanup    CleanupPolicy
	ReadOffset int64
	CreatedAt  time.Time
}

// OutputPath is the append-only output file inside the session dir.
func (s *Session) OutputPath() string {
	return filepath.Join(s.Dir, "output.txt")
}

// InputPath is the named-pipe input channel inside the session dir.
func (s *Session) InputPath() string {
	return filepath.Join(s.Dir, "input.fifo")
}

// RelayLogPath is where a detached relay writes its own log.
func (s *Session) RelayLogPath() string {
	return filepath.Join(s.Dir, "relay.log")
}
