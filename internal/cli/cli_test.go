package cli

import (
	"errors"
	"fmt"
	"testing"

	"github.com/user/ptywrap/internal/pty"
	"github.com/user/ptywrap/internal/registry"
	"github.com/user/ptywrap/internal/session"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"not found", session.ErrNotFound, ExitNotFound},
		{"wrapped not found", fmt.Errorf("stop: %w", session.ErrNotFound), ExitNotFound},
		{"timeout", session.ErrTimeout, ExitTimeout},
		{"process exited", session.ErrProcessExited, ExitProcessExited},
		{"spawn", &pty.SpawnError{Err: errors.New("exec: not found")}, ExitSpawn},
		{"resource", &pty.ResourceError{Err: errors.New("out of ptys")}, ExitInternal},
		{"generic", errors.New("boom"), ExitInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		sess *registry.Session
		want string
	}{
		{&registry.Session{Status: registry.StatusStarting}, "starting"},
		{&registry.Session{Status: registry.StatusRunning}, "running"},
		{&registry.Session{Status: registry.StatusExited, ExitCode: 0}, "exited(0)"},
		{&registry.Session{Status: registry.StatusExited, ExitCode: 3}, "exited(3)"},
		{&registry.Session{Status: registry.StatusFailed, Reason: "no such file"}, "failed(no such file)"},
	}
	for _, tt := range tests {
		if got := formatStatus(tt.sess); got != tt.want {
			t.Errorf("formatStatus(%s) = %q, want %q", tt.sess.Status, got, tt.want)
		}
	}
}
