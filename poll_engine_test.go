package wasi_test

import (
	"context"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
)

// TestPollOneOffRejectsUndersizedEventsSlice exercises the EINVAL guard in
// FileTable.PollOneOff for an events slice shorter than the subscriptions
// it is meant to receive into, a case wasitest's generic suite (which
// always sizes evs with make([]wasi.Event, len(subs))) never hits.
func TestPollOneOffRejectsUndersizedEventsSlice(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	env, err := wasi.NewBuilder[*memfs.Handle]().
		Stdin(fsys.NewDeviceFile(nil, nil)).
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	subs := []wasi.Subscription{
		wasi.MakeSubscriptionFDReadWrite(1, wasi.FDReadEvent, wasi.SubscriptionFDReadWrite{FD: 0}),
		wasi.MakeSubscriptionFDReadWrite(2, wasi.FDReadEvent, wasi.SubscriptionFDReadWrite{FD: 0}),
	}
	evs := make([]wasi.Event, 1)

	n, errno := env.PollOneOff(ctx, subs, evs)
	if errno != wasi.EINVAL {
		t.Fatalf("PollOneOff with undersized events slice: got %s, want EINVAL", errno)
	}
	if n != 0 {
		t.Fatalf("PollOneOff returned %d events, want 0", n)
	}
}
