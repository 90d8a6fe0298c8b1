package wasi_test

import (
	"context"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
)

// TestPathOpenEscapingPreopenReturnsENOTCAPABLE drives the sandbox-escape
// guard through the public wasi.System entrypoint (FileTable.PathOpen via
// a Builder-assembled WasiEnv), not the bare memfs.Handle: spec §8
// scenario 3 names exactly this call, path_open(dir_fd=3,
// path="../etc/passwd", ...), returning ENOTCAPABLE.
func TestPathOpenEscapingPreopenReturnsENOTCAPABLE(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/scratch", fsys.NewDir()).
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	var dirFD wasi.FD = -1
	for fd := wasi.FD(0); fd < 8; fd++ {
		if path, errno := env.FDPreStatDirName(ctx, fd); errno == wasi.ESUCCESS && path == "/scratch" {
			dirFD = fd
			break
		}
	}
	if dirFD == -1 {
		t.Fatal("expected /scratch to be preopened")
	}

	cases := []string{
		"../etc/passwd",
		"../../etc/passwd",
		"a/../../etc/passwd",
		"/etc/passwd",
	}
	for _, path := range cases {
		_, errno := env.PathOpen(ctx, dirFD, 0, path, 0, wasi.AllRights, wasi.AllRights, 0)
		if errno != wasi.ENOTCAPABLE {
			t.Errorf("PathOpen(%q): got %s, want ENOTCAPABLE", path, errno)
		}
	}
}
