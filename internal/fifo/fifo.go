package fifo

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrNoReader is returned by Send when nothing holds the FIFO open for
// reading, which means no relay is attached to the session anymore.
var ErrNoReader = errors.New("fifo: no reader attached")

// Create makes a named pipe at path.
func Create(path string) error {
	if err := syscall.Mkfifo(path, 0o600); err != nil {
		return fmt.Errorf("mkfifo %q: %w", path, err)
	}
	return nil
}

// OpenReader opens the FIFO for the relay's continuous input pump. The
// pipe is opened read-write so that reads block until data arrives
// instead of hitting EOF every time the last writer disconnects, and so
// that writers always find a reader while the relay is alive.
func OpenReader(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open fifo %q: %w", path, err)
	}
	return f, nil
}

// Send delivers a single payload through the FIFO, returning once the
// bytes are handed to the OS or failing after timeout. The timeout bounds
// the delivery step only; whether the child ever consumes the bytes is
// not observable here. A FIFO with no reader fails the open with ENXIO,
// surfaced as ErrNoReader.
func Send(path string, data []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	f, err := os.OpenFile(path, os.O_WRONLY|syscall.O_NONBLOCK, 0)
	if err != nil {
		if errors.Is(err, syscall.ENXIO) {
			return ErrNoReader
		}
		return fmt.Errorf("open fifo %q: %w", path, err)
	}
	defer f.Close()

	if err := f.SetWriteDeadline(deadline); err != nil {
		// Deadline unsupported on this platform; fall back to a timer.
		return writeWithTimer(f, data, time.Until(deadline))
	}
	if _, err := f.Write(data); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return os.ErrDeadlineExceeded
		}
		return fmt.Errorf("write fifo %q: %w", path, err)
	}
	return nil
}

// writeWithTimer races the write against a timer. An in-flight write is
// abandoned on timeout; its goroutine ends when the file is closed.
func writeWithTimer(f *os.File, data []byte, d time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := f.Write(data)
		done <- err
	}()
	select {
	case err := <-done:
		return err
	case <-time.After(d):
		return os.ErrDeadlineExceeded
	}
}
