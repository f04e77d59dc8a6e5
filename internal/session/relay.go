package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"

	"github.com/user/ptywrap/internal/fifo"
	"github.com/user/ptywrap/internal/pty"
	"github.com/user/ptywrap/internal/registry"
	"github.com/user/ptywrap/internal/sink"
)

// RunOptions configures a foreground relay (the file/FIFO convention).
type RunOptions struct {
	Command []string

	// OutputPath and InputPath select explicit-path mode: both must be
	// set together. The files are then caller-owned and never cleaned
	// up, and the session is not registered.
	OutputPath string
	InputPath  string

	// Marker is appended to the output when the child exits; empty
	// disables it.
	Marker string

	// NoCleanup keeps auto-generated session files after exit.
	NoCleanup bool

	// Announce receives the "output:"/"input:" path lines for
	// auto-generated sessions. Nil suppresses them.
	Announce io.Writer
}

// Run executes the relay in the foreground of the calling process. With
// auto-generated paths the session is registered too, so the command
// convention sees it alongside detached sessions.
func (m *Manager) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Command) == 0 {
		return &pty.SpawnError{Err: errors.New("no command specified")}
	}

	if opts.OutputPath != "" || opts.InputPath != "" {
		if opts.OutputPath == "" || opts.InputPath == "" {
			return errors.New("output and input paths must be given together")
		}
		if _, err := os.Stat(opts.InputPath); err != nil {
			return fmt.Errorf("input fifo %q does not exist (create it with mkfifo): %w", opts.InputPath, err)
		}
		return m.runBridge(ctx, nil, opts.Command, opts.OutputPath, opts.InputPath, opts.Marker)
	}

	cleanup := registry.CleanupImmediate
	if opts.NoCleanup {
		cleanup = registry.CleanupDeferred
	}
	sess, err := m.reg.Create(ctx, opts.Command, m.cfg.SessionRoot, cleanup)
	if err != nil {
		return err
	}
	if err := m.prepareDir(sess); err != nil {
		m.rollback(ctx, sess)
		return err
	}
	if opts.Announce != nil {
		fmt.Fprintf(opts.Announce, "output: %s\n", sess.OutputPath())
		fmt.Fprintf(opts.Announce, "input:  %s\n", sess.InputPath())
	}

	if err := m.runBridge(ctx, sess, sess.Command, sess.OutputPath(), sess.InputPath(), opts.Marker); err != nil {
		m.rollback(ctx, sess)
		return err
	}
	return nil
}

// Relay is the detached counterpart of Start: it resolves the session
// created by the starting process and drives its bridge to completion.
func (m *Manager) Relay(ctx context.Context, id string) error {
	sess, err := m.reg.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess == nil {
		return ErrNotFound
	}
	return m.runBridge(ctx, sess, sess.Command, sess.OutputPath(), sess.InputPath(), m.cfg.ExitMarker)
}

// runBridge owns the whole relay lifecycle: spawn the child in a PTY,
// pump FIFO input to the master and master output to the sink, reap the
// child, record the terminal transition, and apply the cleanup policy.
// Resources are released on every exit path.
func (m *Manager) runBridge(ctx context.Context, sess *registry.Session, command []string, outputPath, inputPath, marker string) error {
	out, err := sink.Open(outputPath)
	if err != nil {
		m.markFailed(ctx, sess, err)
		return err
	}
	defer func() { _ = out.Close() }()

	in, err := fifo.OpenReader(inputPath)
	if err != nil {
		m.markFailed(ctx, sess, err)
		return err
	}
	defer func() { _ = in.Close() }()

	br, err := pty.Start(command, "")
	if err != nil {
		m.markFailed(ctx, sess, err)
		return err
	}
	defer func() { _ = br.Close() }()

	if sess != nil {
		if err := m.reg.SetRunning(ctx, sess.ID, br.PID(), os.Getpid()); err != nil {
			// The session vanished under us (a concurrent stop); tear
			// the child down instead of leaving it orphaned.
			_ = br.Close()
			_, _ = br.Wait()
			return err
		}
	}

	// Cancellation closes the bridge, which terminates the child and
	// unblocks the output relay below.
	stopCancel := context.AfterFunc(ctx, func() { _ = br.Close() })
	defer stopCancel()

	// Input pump: FIFO -> PTY master, until either side closes.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, rerr := in.Read(buf)
			if n > 0 {
				if _, werr := br.Write(buf[:n]); werr != nil {
					return
				}
			}
			if rerr != nil {
				return
			}
		}
	}()

	// Output relay: PTY master -> sink, until the child closes its side.
	// This fully drains pending output before the child is reaped.
	if err := br.CopyOutput(out); err != nil {
		slog.Warn("output relay ended with error", "error", err)
	}

	code, waitErr := br.Wait()
	_ = br.Close()

	status := registry.StatusExited
	reason := ""
	if waitErr != nil {
		status = registry.StatusFailed
		reason = waitErr.Error()
	}

	if marker != "" {
		if _, err := out.Append([]byte("\n" + marker + "\n")); err != nil {
			slog.Warn("failed to write exit marker", "error", err)
		}
	}

	if sess != nil {
		m.finalize(ctx, sess, status, code, reason)
	}
	return nil
}

// finalize records the terminal transition and applies the session's
// cleanup policy. A lost transition means a concurrent stop already
// finalized; everything here is a no-op then.
func (m *Manager) finalize(ctx context.Context, sess *registry.Session, status registry.Status, code int, reason string) {
	won, err := m.reg.MarkTerminal(ctx, sess.ID, status, code, reason)
	if err != nil {
		slog.Error("failed to record terminal state", "session", sess.ID, "error", err)
	}
	if !won {
		slog.Debug("terminal transition already taken", "session", sess.ID)
	}

	if sess.Cleanup == registry.CleanupImmediate {
		if _, err := m.reg.Remove(ctx, sess.ID); err != nil {
			slog.Warn("failed to remove session entry", "session", sess.ID, "error", err)
		}
		if err := os.RemoveAll(sess.Dir); err != nil {
			slog.Warn("failed to remove session dir", "session", sess.ID, "dir", sess.Dir, "error", err)
		}
	}
}

// markFailed records a failure during bridge setup on registered
// sessions. The starting process observes it and rolls the session back.
func (m *Manager) markFailed(ctx context.Context, sess *registry.Session, cause error) {
	if sess == nil {
		return
	}
	if _, err := m.reg.MarkTerminal(ctx, sess.ID, registry.StatusFailed, 0, cause.Error()); err != nil {
		slog.Error("failed to record failure", "session", sess.ID, "error", err)
	}
}

// spawnRelay re-execs this binary in relay mode, detached into its own
// session so it outlives the CLI invocation that started it.
func (m *Manager) spawnRelay(s *registry.Session) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to resolve executable: %w", err)
	}

	logFile, err := os.OpenFile(s.RelayLogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open relay log: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "relay", "--id", s.ID)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	// Drop the handle without waiting; the relay is reparented once this
	// process exits.
	return cmd.Process.Release()
}
