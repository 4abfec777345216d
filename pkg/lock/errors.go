package lock

import "errors"

var (
	// ErrNotAcquired is returned when the lock could not be acquired
	// before the context was canceled or the acquire timeout elapsed.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrNotHeld is returned by Unlock when the lease has already expired
	// or belongs to another holder.
	ErrNotHeld = errors.New("lock not held")
)
