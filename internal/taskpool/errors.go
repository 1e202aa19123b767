package taskpool

import "errors"

// Sentinel error kinds (spec.md §7). Compare with errors.Is; callers should
// never match on message text.
var (
	// ErrEnvironmentNotFound means a task referenced an environment absent
	// from the registry. Recorded on the task; never consumes a slot.
	ErrEnvironmentNotFound = errors.New("taskpool: environment not found")

	// ErrCapacityExceeded reports that a task could not even be queued.
	// Pool never returns it: its queue is unbounded.
	ErrCapacityExceeded = errors.New("taskpool: capacity exceeded")

	// ErrTimeout means a task exceeded its worker deadline.
	ErrTimeout = errors.New("taskpool: timeout")

	// ErrShutdown reports use of a pool after Shutdown. Pool does not
	// return it: Submit has no error result.
	ErrShutdown = errors.New("taskpool: pool is shut down")

	// ErrTaskNotFound names an unknown task id. Pool does not return it:
	// Cancel and GetTask report an unknown id with a false result.
	ErrTaskNotFound = errors.New("taskpool: task not found")
)
