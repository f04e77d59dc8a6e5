package pty

// SpawnError wraps a failure to launch the child command, typically a
// missing executable.
type SpawnError struct {
	Err error
}

func (e *SpawnError) Error() string { return "spawn: " + e.Err.Error() }
func (e *SpawnError) Unwrap() error { return e.Err }

// ResourceError wraps a failure to allocate the pseudo-terminal pair.
type ResourceError struct {
	Err error
}

func (e *ResourceError) Error() string { return "pty allocation: " + e.Err.Error() }
func (e *ResourceError) Unwrap() error { return e.Err }
