package guard

import "errors"

var (
	// ErrQueueSaturated is returned when the wait queue in front of the
	// semaphore is already at capacity. Callers should degrade, not retry.
	ErrQueueSaturated = errors.New("guard: wait queue saturated")

	// ErrAcquireTimeout is returned when a permit was not granted within the
	// configured acquire timeout.
	ErrAcquireTimeout = errors.New("guard: permit acquire timeout")
)

// IsBusy reports whether err is a resource-exhaustion condition surfaced by
// the guard, as opposed to a real store failure.
func IsBusy(err error) bool {
	return errors.Is(err, ErrQueueSaturated) || errors.Is(err, ErrAcquireTimeout)
}
