package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"syscall"
	"time"

	"github.com/user/ptywrap/internal/config"
	"github.com/user/ptywrap/internal/fifo"
	"github.com/user/ptywrap/internal/pty"
	"github.com/user/ptywrap/internal/registry"
	"github.com/user/ptywrap/internal/sink"
)

const (
	startWait         = 5 * time.Second
	startPollInterval = 25 * time.Millisecond
	stopPollInterval  = 50 * time.Millisecond
)

// Manager composes the registry, the PTY bridge and the on-disk channels
// into the session operations the CLI exposes. A Manager itself is
// stateless; all shared state lives in the registry database and the
// per-session directories, so concurrent invocations from independent
// processes coordinate through those.
type Manager struct {
	cfg *config.Config
	reg *registry.Registry
}

func NewManager(cfg *config.Config, reg *registry.Registry) *Manager {
	return &Manager{cfg: cfg, reg: reg}
}

// Start registers a new session and hands it to a detached relay
// process, then waits for the relay to report the child running. Any
// failure rolls the partially created session back so no half-built
// entry stays visible.
func (m *Manager) Start(ctx context.Context, command []string, cleanup registry.CleanupPolicy) (*registry.Session, error) {
	if len(command) == 0 {
		return nil, &pty.SpawnError{Err: errors.New("no command specified")}
	}

	sess, err := m.reg.Create(ctx, command, m.cfg.SessionRoot, cleanup)
	if err != nil {
		return nil, err
	}
	if err := m.prepareDir(sess); err != nil {
		m.rollback(ctx, sess)
		return nil, err
	}
	if err := m.spawnRelay(sess); err != nil {
		m.rollback(ctx, sess)
		return nil, err
	}

	deadline := time.Now().Add(startWait)
	for {
		cur, err := m.reg.Get(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		if cur == nil {
			// The relay finished and cleaned up an immediate-policy
			// session before we observed it running. The start itself
			// succeeded.
			return sess, nil
		}
		switch cur.Status {
		case registry.StatusRunning, registry.StatusExited:
			return cur, nil
		case registry.StatusFailed:
			reason := cur.Reason
			m.rollback(ctx, cur)
			return nil, &pty.SpawnError{Err: errors.New(reason)}
		}
		if time.Now().After(deadline) {
			m.rollback(ctx, cur)
			return nil, fmt.Errorf("relay did not report within %s", startWait)
		}
		select {
		case <-ctx.Done():
			m.rollback(ctx, sess)
			return nil, ctx.Err()
		case <-time.After(startPollInterval):
		}
	}
}

// Read returns output produced since the previous Read and advances the
// stored offset. It never blocks.
func (m *Manager) Read(ctx context.Context, id string) ([]byte, error) {
	sess, err := m.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}

	data, err := sink.ReadFrom(sess.OutputPath(), sess.ReadOffset)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The relay has not created the sink yet.
			return nil, nil
		}
		return nil, err
	}
	if len(data) > 0 {
		if err := m.reg.AdvanceReadOffset(ctx, id, sess.ReadOffset+int64(len(data))); err != nil {
			slog.Warn("failed to advance read offset", "session", id, "error", err)
		}
	}
	return data, nil
}

// Send delivers text, with a trailing newline, to the session's input
// channel. The timeout bounds only the hand-off to the OS; when it is
// zero the configured default applies.
func (m *Manager) Send(ctx context.Context, id, text string, timeout time.Duration) error {
	sess, err := m.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	if sess.Status.Terminal() {
		return ErrProcessExited
	}
	if timeout <= 0 {
		timeout = m.cfg.SendTimeout
	}

	err = fifo.Send(sess.InputPath(), []byte(text+"\n"), timeout)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fifo.ErrNoReader):
		// No relay holds the FIFO open: either the child exited between
		// the status check and the write, or the relay has not attached
		// yet for a session still starting.
		if cur, gerr := m.reg.Get(ctx, id); gerr == nil && cur != nil && cur.Status == registry.StatusStarting {
			return fmt.Errorf("session %q is still starting, retry the send", id)
		}
		return ErrProcessExited
	case errors.Is(err, os.ErrDeadlineExceeded):
		return ErrTimeout
	default:
		return err
	}
}

// Status returns the current registry view of the session.
func (m *Manager) Status(ctx context.Context, id string) (*registry.Session, error) {
	sess, err := m.reg.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List returns all known sessions ordered by creation time.
func (m *Manager) List(ctx context.Context) ([]*registry.Session, error) {
	return m.reg.List(ctx)
}

// Stop terminates a session's child if it is still running, escalating
// from SIGTERM to SIGKILL after the grace period, then removes the
// session. Racing the relay's own exit handling is safe: the registry's
// terminal transition picks a single winner and removal is a no-op for
// the loser.
func (m *Manager) Stop(ctx context.Context, id string) error {
	sess, err := m.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}

	if !sess.Status.Terminal() && sess.PID > 0 {
		if err := m.terminate(ctx, sess); err != nil {
			return err
		}
	}

	if _, err := m.reg.Remove(ctx, id); err != nil {
		return err
	}
	if sess.Cleanup == registry.CleanupImmediate {
		if err := os.RemoveAll(sess.Dir); err != nil {
			slog.Warn("failed to remove session dir", "session", id, "dir", sess.Dir, "error", err)
		}
	}
	return nil
}

// terminate signals the child and waits up to the grace period for the
// relay to reap it, forcing SIGKILL if it does not die in time. A fatal
// error is reported only when the forced kill itself fails.
func (m *Manager) terminate(ctx context.Context, sess *registry.Session) error {
	if err := syscall.Kill(sess.PID, syscall.SIGTERM); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		slog.Warn("failed to signal child", "session", sess.ID, "pid", sess.PID, "error", err)
	}

	deadline := time.Now().Add(m.cfg.StopGrace)
	for time.Now().Before(deadline) {
		if !processAlive(sess.PID) {
			m.awaitTerminal(ctx, sess.ID)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(stopPollInterval):
		}
	}

	if processAlive(sess.PID) {
		if err := syscall.Kill(sess.PID, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("failed to force-kill pid %d: %w", sess.PID, err)
		}
	}
	m.awaitTerminal(ctx, sess.ID)
	return nil
}

// awaitTerminal gives the relay a short window to record the terminal
// transition (and write the exit marker) before the caller removes the
// session. Best effort; running out of patience is not an error.
func (m *Manager) awaitTerminal(ctx context.Context, id string) {
	deadline := time.Now().Add(m.cfg.StopGrace)
	for time.Now().Before(deadline) {
		cur, err := m.reg.Get(ctx, id)
		if err != nil || cur == nil || cur.Status.Terminal() {
			return
		}
		time.Sleep(stopPollInterval)
	}
}

// prepareDir creates the session directory and its input FIFO.
func (m *Manager) prepareDir(s *registry.Session) error {
	if err := os.MkdirAll(s.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session dir %q: %w", s.Dir, err)
	}
	return fifo.Create(s.InputPath())
}

// rollback undoes a partially created session: the registry row and any
// on-disk artifacts.
func (m *Manager) rollback(ctx context.Context, s *registry.Session) {
	if _, err := m.reg.Remove(ctx, s.ID); err != nil {
		slog.Warn("rollback: failed to remove session", "session", s.ID, "error", err)
	}
	if err := os.RemoveAll(s.Dir); err != nil {
		slog.Warn("rollback: failed to remove session dir", "session", s.ID, "dir", s.Dir, "error", err)
	}
}

// processAlive probes pid with signal 0.
func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
