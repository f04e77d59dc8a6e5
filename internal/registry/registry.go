package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"
	_ "modernc.org/sqlite"
)

// ErrExhausted means id generation kept colliding with existing rows.
// With 8 hex digits of randomness this is practically unreachable.
var ErrExhausted = errors.New("registry: id generation exhausted")

const (
	idAttempts = 5

	// Fixed-width so lexicographic ordering of the stored text matches
	// chronological ordering.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// Registry is the concurrency-safe directory of sessions, persisted in
// SQLite so that independent CLI invocations discover each other's
// sessions. A single connection plus busy_timeout serializes concurrent
// processes on the database file.
type Registry struct {
	conn *sql.DB
}

// Open opens the registry database at path, creating it and applying
// pending migrations as needed.
func Open(ctx context.Context, path string) (*Registry, error) {
	if path == "" {
		return nil, fmt.Errorf("registry path cannot be empty")
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create registry directory %q: %w", dir, err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry at %q: %w", path, err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping registry: %w", err)
	}

	if _, err := conn.ExecContext(ctx, `PRAGMA busy_timeout = 5000`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &Registry{conn: conn}, nil
}

func (r *Registry) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

// Create inserts a fresh session in the starting state and returns it.
// The session directory path is derived from the generated id but not
// created here.
func (r *Registry) Create(ctx context.Context, command []string, sessionRoot string, cleanup CleanupPolicy) (*Session, error) {
	now := time.Now().UTC()
	for attempt := 0; attempt < idAttempts; attempt++ {
		id := newID()
		s := &Session{
			ID:        id,
			Command:   command,
			Status:    StatusStarting,
			Dir:       filepath.Join(sessionRoot, "ptywrap-"+id),
			Cleanup:   cleanup,
			CreatedAt: now,
		}

		_, err := r.conn.ExecContext(ctx, `
INSERT INTO sessions (id, command, pid, relay_pid, status, exit_code, reason, dir, cleanup, read_offset, created_at)
VALUES (?, ?, 0, 0, ?, NULL, '', ?, ?, 0, ?)
`, id, shellquote.Join(command...), string(StatusStarting), s.Dir, string(cleanup), now.Format(timeLayout))
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		return s, nil
	}
	return nil, ErrExhausted
}

// Get returns the session with the given id, or nil if it is unknown.
func (r *Registry) Get(ctx context.Context, id string) (*Session, error) {
	row := r.conn.QueryRowContext(ctx, `
SELECT id, command, pid, relay_pid, status, exit_code, reason, dir, cleanup, read_offset, created_at
FROM sessions
WHERE id = ?
`, id)

	s, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session %q: %w", id, err)
	}
	return s, nil
}

// List returns all known sessions ordered by creation time.
func (r *Registry) List(ctx context.Context) ([]*Session, error) {
	rows, err := r.conn.QueryContext(ctx, `
SELECT id, command, pid, relay_pid, status, exit_code, reason, dir, cleanup, read_offset, created_at
FROM sessions
ORDER BY created_at, id
`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Remove deletes the session row. It reports whether a row was actually
// deleted, so concurrent removals stay no-op safe.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	res, err := r.conn.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to remove session %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetRunning records the spawned child's pid and the relay's pid and
// moves the session from starting to running.
func (r *Registry) SetRunning(ctx context.Context, id string, pid, relayPID int) error {
	res, err := r.conn.ExecContext(ctx, `
UPDATE sessions SET status = ?, pid = ?, relay_pid = ?
WHERE id = ? AND status = ?
`, string(StatusRunning), pid, relayPID, id, string(StatusStarting))
	if err != nil {
		return fmt.Errorf("failed to mark session %q running: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %q is not in the starting state", id)
	}
	return nil
}

// MarkTerminal performs the single terminal transition for a session.
// Only the first caller wins; a concurrent stop racing the relay's own
// exit handling observes false and treats the transition as done.
func (r *Registry) MarkTerminal(ctx context.Context, id string, status Status, exitCode int, reason string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %q is not terminal", status)
	}

	var code any
	if status == StatusExited {
		code = exitCode
	}
	res, err := r.conn.ExecContext(ctx, `
UPDATE sessions SET status = ?, exit_code = ?, reason = ?
WHERE id = ? AND status IN (?, ?)
`, string(status), code, reason, id, string(StatusStarting), string(StatusRunning))
	if err != nil {
		return false, fmt.Errorf("failed to mark session %q terminal: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// AdvanceReadOffset records that a reader consumed the output sink up to
// offset. Offsets only move forward.
func (r *Registry) AdvanceReadOffset(ctx context.Context, id string, offset int64) error {
	_, err := r.conn.ExecContext(ctx, `
UPDATE sessions SET read_offset = ? WHERE id = ? AND read_offset < ?
`, offset, id, offset)
	if err != nil {
		return fmt.Errorf("failed to advance read offset for %q: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var (
		s          Session
		commandRaw string
		exitCode   sql.NullInt64
		statusRaw  string
		cleanupRaw string
		createdRaw string
	)
	if err := row.Scan(&s.ID, &commandRaw, &s.PID, &s.RelayPID, &statusRaw, &exitCode, &s.Reason, &s.Dir, &cleanupRaw, &s.ReadOffset, &createdRaw); err != nil {
		return nil, err
	}

	command, err := shellquote.Split(commandRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid stored command %q: %w", commandRaw, err)
	}
	s.Command = command
	s.Status = Status(statusRaw)
	s.Cleanup = CleanupPolicy(cleanupRaw)
	if exitCode.Valid {
		s.ExitCode = int(exitCode.Int64)
	}
	s.CreatedAt, err = time.Parse(timeLayout, createdRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid stored timestamp %q: %w", createdRaw, err)
	}
	return &s, nil
}

// newID returns the first 8 hex digits of a random UUID, matching the
// session-directory naming writers see on disk.
func newID() string {
	return uuid.New().String()[:8]
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
