package pty

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// collector is a concurrency-safe writer for CopyOutput in tests.
type collector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *collector) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(p)
}

func (c *collector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// TestBridgeSpawnAndOutput spawns "echo hello-pty", drains the master,
// and verifies the relayed output contains "hello-pty".
func TestBridgeSpawnAndOutput(t *testing.T) {
	b, err := Start([]string{"echo", "hello-pty"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	var out collector
	if err := b.CopyOutput(&out); err != nil {
		t.Fatalf("CopyOutput: %v", err)
	}
	code, err := b.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if !strings.Contains(out.String(), "hello-pty") {
		t.Errorf("expected output to contain %q, got %q", "hello-pty", out.String())
	}
}

// TestBridgeEcho writes to "cat" through the master and expects the PTY's
// echo to reflect the input back in the output stream.
func TestBridgeEcho(t *testing.T) {
	b, err := Start([]string{"cat"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	var out collector
	done := make(chan struct{})
	go func() {
		_ = b.CopyOutput(&out)
		close(done)
	}()

	if _, err := b.Write([]byte("roundtrip-84\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for !strings.Contains(out.String(), "roundtrip-84") {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for echo, got %q", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	<-done
	_, _ = b.Wait()
}

func TestBridgeExitCode(t *testing.T) {
	b, err := Start([]string{"sh", "-c", "exit 3"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close()

	var out collector
	if err := b.CopyOutput(&out); err != nil {
		t.Fatalf("CopyOutput: %v", err)
	}
	code, err := b.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3", code)
	}
}

func TestBridgeSpawnFailure(t *testing.T) {
	_, err := Start([]string{"/nonexistent/definitely-not-a-binary"}, "")
	if err == nil {
		t.Fatal("expected error for missing executable, got nil")
	}
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error = %v (%T), want *SpawnError", err, err)
	}
}

func TestBridgeEmptyArgv(t *testing.T) {
	_, err := Start(nil, "")
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("error = %v, want *SpawnError", err)
	}
}

// TestBridgeDoubleClose verifies Close is idempotent.
func TestBridgeDoubleClose(t *testing.T) {
	b, err := Start([]string{"sleep", "10"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Errorf("second Close returned %v, want nil", err)
	}
	_, _ = b.Wait()
}

func TestBridgeWriteAfterClose(t *testing.T) {
	b, err := Start([]string{"sleep", "10"}, "")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := b.Write([]byte("x")); err == nil {
		t.Error("Write after Close succeeded, want error")
	}
	_, _ = b.Wait()
}
