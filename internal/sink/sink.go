package sink

import (
	"fmt"
	"io"
	"os"
)

// Sink is the append-only record of a session's captured output, backed
// by an ordinary file. The relay is the only writer; any number of
// readers may read the file concurrently while it grows.
type Sink struct {
	path string
	f    *os.File
}

// Open opens the sink for appending, creating the backing file if needed.
func Open(path string) (*Sink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open sink %q: %w", path, err)
	}
	return &Sink{path: path, f: f}, nil
}

// Path returns the location of the backing file.
func (s *Sink) Path() string { return s.path }

// Append writes p at the end of the sink. The file is opened O_APPEND and
// has a single writer, so bytes land in the order they were produced.
func (s *Sink) Append(p []byte) (int, error) {
	return s.f.Write(p)
}

// Write appends p to the sink, satisfying io.Writer.
func (s *Sink) Write(p []byte) (int, error) {
	return s.Append(p)
}

// Close releases the writer side. Already-written bytes stay readable.
func (s *Sink) Close() error {
	return s.f.Close()
}

// ReadFrom returns all bytes currently available from offset onward. It
// never blocks; reading at or past the end yields an empty slice.
func ReadFrom(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sink %q: %w", path, err)
	}
	defer f.Close()

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("seek sink %q: %w", path, err)
		}
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read sink %q: %w", path, err)
	}
	return data, nil
}

// Size reports the current length of the sink in bytes.
func Size(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("stat sink %q: %w", path, err)
	}
	return fi.Size(), nil
}
