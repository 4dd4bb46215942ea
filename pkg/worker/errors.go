package worker

import "errors"

// Lifecycle errors. Submit returns ErrPoolNotStarted, ErrPoolStopped or
// ErrQueueFull rather than blocking; callers decide whether to drop the work.
var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrQueueFull          = errors.New("worker pool queue full")
)

// ErrNilProcessor is the panic value of NewPool without a processor.
var ErrNilProcessor = errors.New("processor function cannot be nil")

// ErrStopTimeout is returned by Stop when queued work outlives the timeout.
// The workers keep running until they finish or their context ends.
var ErrStopTimeout = errors.New("timeout waiting for workers to stop")
