package sink

import (
	"bytes"
	"path/filepath"
	"testing"
)

// TestAppendPreservesOrder writes several chunks and verifies a full read
// returns their concatenation in call order.
func TestAppendPreservesOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	chunks := [][]byte{
		[]byte("first "),
		[]byte("second "),
		[]byte("third\n"),
		[]byte{0x1b, '[', '3', '1', 'm'}, // raw escape bytes pass through untouched
	}
	var want bytes.Buffer
	for _, c := range chunks {
		if _, err := s.Append(c); err != nil {
			t.Fatalf("Append(%q) error = %v", c, err)
		}
		want.Write(c)
	}

	got, err := ReadFrom(path, 0)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if !bytes.Equal(got, want.Bytes()) {
		t.Fatalf("ReadFrom() = %q, want %q", got, want.Bytes())
	}
}

func TestReadFromOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Append([]byte("hello world")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	got, err := ReadFrom(path, 6)
	if err != nil {
		t.Fatalf("ReadFrom(6) error = %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("ReadFrom(6) = %q, want %q", got, "world")
	}

	// Reading at the end returns nothing without blocking.
	got, err = ReadFrom(path, 11)
	if err != nil {
		t.Fatalf("ReadFrom(11) error = %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("ReadFrom(11) = %q, want empty", got)
	}
}

func TestReadRangeIsStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if _, err := s.Append([]byte("stable prefix")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	first, err := ReadFrom(path, 0)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}

	// More appends must not disturb already-read ranges.
	if _, err := s.Append([]byte(" and more")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	again, err := ReadFrom(path, 0)
	if err != nil {
		t.Fatalf("ReadFrom() error = %v", err)
	}
	if !bytes.HasPrefix(again, first) {
		t.Fatalf("second read %q does not start with first read %q", again, first)
	}

	n, err := Size(path)
	if err != nil {
		t.Fatalf("Size() error = %v", err)
	}
	if n != int64(len(again)) {
		t.Fatalf("Size() = %d, want %d", n, len(again))
	}
}
