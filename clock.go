package wasi

import (
	"context"
	"time"
)

// ClockSource supplies wall-clock and monotonic time to a System.
//
// The teacher's systems/unix.System wires Realtime/Monotonic as plain
// function fields (time.Now, time.Since(epoch)); this generalizes that into
// an interface so a host can substitute a virtual clock in tests without
// needing a real goroutine-scheduled epoch.
type ClockSource interface {
	// Now returns the current value of the given clock.
	Now(ctx context.Context, id ClockID) (Timestamp, Errno)

	// Resolution returns the resolution of the given clock.
	Resolution(id ClockID) (Timestamp, Errno)
}

// SystemClock is the default ClockSource, backed by the Go runtime's wall
// clock and a monotonic epoch captured at construction.
type SystemClock struct {
	epoch time.Time
}

// NewSystemClock returns a SystemClock whose monotonic epoch is the current
// time.
func NewSystemClock() *SystemClock {
	return &SystemClock{epoch: time.Now()}
}

func (c *SystemClock) Now(ctx context.Context, id ClockID) (Timestamp, Errno) {
	switch id {
	case Realtime:
		return Timestamp(time.Now().UnixNano()), ESUCCESS
	case Monotonic:
		return Timestamp(time.Since(c.epoch)), ESUCCESS
	case ProcessCPUTimeID, ThreadCPUTimeID:
		return 0, ENOSYS
	default:
		return 0, EINVAL
	}
}

func (c *SystemClock) Resolution(id ClockID) (Timestamp, Errno) {
	switch id {
	case Realtime:
		return Timestamp(time.Microsecond), ESUCCESS
	case Monotonic:
		return Timestamp(time.Nanosecond), ESUCCESS
	case ProcessCPUTimeID, ThreadCPUTimeID:
		return 0, ENOSYS
	default:
		return 0, EINVAL
	}
}
