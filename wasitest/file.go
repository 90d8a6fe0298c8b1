package wasitest

import (
	"context"
	"testing"

	"github.com/stealthrocket-labs/wasihost"
)

var file = testSuite{
	"exceeding MaxFiles returns EMFILE": testMaxFiles,
}

// testMaxFiles opens the scratch directory at fd 3 (see TestConfig) over
// and over until MaxFiles is reached, then asserts every further PathOpen
// fails with EMFILE rather than succeeding or silently evicting an entry.
func testMaxFiles(t *testing.T, ctx context.Context, newSystem newSystem) {
	const maxFiles = 10
	sys := newSystem(TestConfig{MaxFiles: maxFiles})

	opened := 0
	for i := 0; i < maxFiles; i++ {
		_, errno := sys.PathOpen(ctx, 3, 0, ".", wasi.OpenDirectory, wasi.DirectoryRights, wasi.DirectoryRights|wasi.FileRights, 0)
		if errno == wasi.EMFILE {
			break
		}
		assertEqual(t, errno, wasi.ESUCCESS)
		opened++
	}

	if opened == 0 {
		t.Fatal("expected at least one directory to open before hitting MaxFiles")
	}

	for i := 0; i < 3; i++ {
		_, errno := sys.PathOpen(ctx, 3, 0, ".", wasi.OpenDirectory, wasi.DirectoryRights, wasi.DirectoryRights|wasi.FileRights, 0)
		assertEqual(t, errno, wasi.EMFILE)
	}
}
