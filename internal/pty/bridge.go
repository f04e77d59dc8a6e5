package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	creackpty "github.com/creack/pty"
	"github.com/mattn/go-isatty"
)

const (
	defaultCols = uint16(120)
	defaultRows = uint16(30)
)

// Bridge owns one pseudo-terminal pair and the child process attached to
// its slave side. The parent keeps only the master fd: output read from
// it is relayed to a writer, and input written through the Bridge reaches
// the child as keystrokes.
type Bridge struct {
	cmd  *exec.Cmd
	ptmx *os.File

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// Start allocates a PTY pair and spawns argv attached to the slave side
// as its controlling terminal. On success the slave fd is closed in the
// parent and the child runs in its own session.
func Start(argv []string, workDir string) (*Bridge, error) {
	if len(argv) == 0 {
		return nil, &SpawnError{Err: errors.New("argv must not be empty")}
	}

	ptmx, tty, err := creackpty.Open()
	if err != nil {
		return nil, &ResourceError{Err: err}
	}
	_ = creackpty.Setsize(ptmx, windowSize())

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = workDir
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true, Setctty: true}

	if err := cmd.Start(); err != nil {
		_ = tty.Close()
		_ = ptmx.Close()
		return nil, &SpawnError{Err: err}
	}
	_ = tty.Close()

	return &Bridge{cmd: cmd, ptmx: ptmx}, nil
}

// windowSize returns the invoker's terminal dimensions when stdin is a
// TTY, so full-screen children render correctly; otherwise 120x30.
func windowSize() *creackpty.Winsize {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		if ws, err := creackpty.GetsizeFull(os.Stdin); err == nil && ws.Cols > 0 && ws.Rows > 0 {
			return ws
		}
	}
	return &creackpty.Winsize{Cols: defaultCols, Rows: defaultRows}
}

// PID returns the child's process id.
func (b *Bridge) PID() int {
	return b.cmd.Process.Pid
}

// CopyOutput reads from the PTY master and appends everything to w until
// the child closes its side. The EIO a Linux master reports once the
// slave side is gone counts as EOF. Bytes are forwarded in read order.
func (b *Bridge) CopyOutput(w io.Writer) error {
	buf := make([]byte, 4096)
	for {
		n, err := b.ptmx.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed) {
				return nil
			}
			return err
		}
	}
}

// Write forwards input bytes to the PTY master. Backpressure from a
// child that is not reading shows up here as a blocked write; the caller
// bounds it.
func (b *Bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, errors.New("pty: bridge is closed")
	}
	return b.ptmx.Write(p)
}

// Wait reaps the child and returns its exit code. A child killed by a
// signal reports -1, the value ExitCode gives for signaled processes.
func (b *Bridge) Wait() (int, error) {
	err := b.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// Signal delivers sig to the child if it has not been reaped yet.
func (b *Bridge) Signal(sig os.Signal) error {
	if b.cmd.Process == nil {
		return nil
	}
	return b.cmd.Process.Signal(sig)
}

// Close terminates the child (SIGTERM) and releases the master fd. Safe
// to call multiple times.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		if b.cmd.Process != nil {
			_ = b.cmd.Process.Signal(syscall.SIGTERM)
		}
		err = b.ptmx.Close()
	})
	return err
}
