package wasi

import (
	"context"
	"time"
)

// Pollable is implemented optionally by a File to report I/O readiness to
// PollOneOff. A File that does not implement it is treated as always ready
// for both read and write. memfs.Handle implements it: device inodes report
// their stream's readiness, every other inode is always ready.
type Pollable interface {
	Poll() (readable, writable bool)
}

// pollInterval bounds how often PollOneOff re-checks Pollable readiness
// while waiting on a deadline. Unlike the teacher's systems/unix, which
// blocks in unix.Poll and is woken by the kernel the instant a real fd
// becomes ready, there is no OS to notify this engine when an in-process
// Pollable's readiness changes, so it falls back to re-polling on an
// interval short enough not to add perceptible latency.
const pollInterval = 5 * time.Millisecond

func errorEvent(sub *Subscription, errno Errno) Event {
	return Event{UserData: sub.UserData, EventType: sub.EventType + 1, Errno: errno}
}

// PollOneOff implements the PollOneOff half of the System interface on top
// of a FileTable, adapted from the teacher's systems/unix.System.PollOneOff:
// it keeps that implementation's structure (earliest-deadline tracking
// across ClockEvent subscriptions, the EventType+1 "completed" marker used
// to distinguish a filled event from the zero value, and the final
// compaction pass that packs completed events to the front of the output
// slice) but replaces unix.Poll over real file descriptors with the
// Pollable interface, and the System's raw clock function fields with a
// ClockSource.
func (t *FileTable[T]) PollOneOff(ctx context.Context, subscriptions []Subscription, events []Event) (int, Errno) {
	if len(subscriptions) == 0 || len(events) < len(subscriptions) {
		return 0, EINVAL
	}

	clock := t.Clock
	if clock == nil {
		clock = NewSystemClock()
	}

	events = events[:len(subscriptions)]
	for i := range events {
		events[i] = Event{}
	}

	var realtimeEpoch, monotonicEpoch Timestamp
	timeout := time.Duration(-1)
	timeoutEventIndex := -1
	numEvents := 0

	for i := range subscriptions {
		sub := &subscriptions[i]

		switch sub.EventType {
		case FDReadEvent, FDWriteEvent:
			rw := sub.GetFDReadWrite()
			if _, errno := t.lookupFD(rw.FD, PollFDReadWriteRight); errno != ESUCCESS {
				events[i] = errorEvent(sub, errno)
				numEvents++
			}

		case ClockEvent:
			c := sub.GetClock()

			var epoch *Timestamp
			switch c.ID {
			case Realtime:
				epoch = &realtimeEpoch
			case Monotonic:
				epoch = &monotonicEpoch
			default:
				events[i] = errorEvent(sub, ENOTSUP)
				numEvents++
				continue
			}

			deadline := c.Timeout + c.Precision
			if c.Flags.Has(Abstime) {
				if *epoch == 0 {
					now, errno := clock.Now(ctx, c.ID)
					if errno != ESUCCESS {
						events[i] = errorEvent(sub, errno)
						numEvents++
						continue
					}
					*epoch = now
				}
				if deadline < *epoch {
					deadline = 0
				} else {
					deadline -= *epoch
				}
			}

			d := time.Duration(deadline)
			if d < 0 {
				d = 0
			}
			if timeout < 0 || d < timeout {
				timeout = d
				timeoutEventIndex = i
			}
		}
	}

	// As in the teacher: invalid subscriptions already produced events, so
	// don't block waiting for the others to also complete.
	if numEvents > 0 {
		timeout = 0
	}

	var deadline time.Time
	if timeoutEventIndex >= 0 && numEvents == 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		for i := range subscriptions {
			if events[i].EventType != 0 {
				continue
			}
			sub := &subscriptions[i]
			if sub.EventType != FDReadEvent && sub.EventType != FDWriteEvent {
				continue
			}
			rw := sub.GetFDReadWrite()
			entry, errno := t.lookupFD(rw.FD, PollFDReadWriteRight)
			if errno != ESUCCESS {
				continue // already reported on the first pass
			}
			readable, writable := true, true
			if p, ok := any(entry.file).(Pollable); ok {
				readable, writable = p.Poll()
			}
			ready := readable
			if sub.EventType == FDWriteEvent {
				ready = writable
			}
			if ready {
				events[i] = Event{UserData: sub.UserData, EventType: sub.EventType + 1}
			}
		}

		if timeoutEventIndex >= 0 && !deadline.IsZero() && !time.Now().Before(deadline) {
			sub := &subscriptions[timeoutEventIndex]
			events[timeoutEventIndex] = Event{UserData: sub.UserData, EventType: sub.EventType + 1}
		}

		n := 0
		for _, e := range events {
			if e.EventType != 0 {
				e.EventType--
				events[n] = e
				n++
			}
		}
		if n > 0 {
			return n, ESUCCESS
		}

		wait := pollInterval
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < wait {
				wait = remaining
			}
		}
		if wait < 0 {
			wait = 0
		}

		select {
		case <-ctx.Done():
			return 0, MakeErrno(ctx.Err())
		case <-time.After(wait):
		}
	}
}
