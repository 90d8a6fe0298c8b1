package memfs_test

import (
	"context"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
)

func TestPathOpenSymlinkLoopELOOP(t *testing.T) {
	fsys := memfs.New(nil)
	root := fsys.NewDir()
	ctx := context.Background()

	if errno := root.PathSymlink(ctx, "b", "a"); errno != wasi.ESUCCESS {
		t.Fatalf("PathSymlink a->b: %s", errno)
	}
	if errno := root.PathSymlink(ctx, "a", "b"); errno != wasi.ESUCCESS {
		t.Fatalf("PathSymlink b->a: %s", errno)
	}

	_, errno := root.PathOpen(ctx, wasi.SymlinkFollow, "a", 0, wasi.AllRights, wasi.AllRights, 0)
	if errno != wasi.ELOOP {
		t.Fatalf("PathOpen through a symlink cycle: got %s, want ELOOP", errno)
	}
}

func TestPathOpenEscapingRootReturnsENOTCAPABLE(t *testing.T) {
	fsys := memfs.New(nil)
	root := fsys.NewDir()
	ctx := context.Background()

	if errno := root.PathCreateDirectory(ctx, "sub"); errno != wasi.ESUCCESS {
		t.Fatalf("PathCreateDirectory: %s", errno)
	}
	sub, errno := root.PathOpen(ctx, 0, "sub", wasi.OpenDirectory, wasi.AllRights, wasi.AllRights, 0)
	if errno != wasi.ESUCCESS {
		t.Fatalf("PathOpen sub: %s", errno)
	}

	// Resolution through sub starts at, and is bounded by, sub's own node,
	// so ".." from within it must never escape back up to a node outside
	// that subtree, regardless of how many ".." components are chained
	// together.
	_, errno = sub.PathOpen(ctx, 0, "../../../etc", 0, wasi.AllRights, wasi.AllRights, 0)
	if errno != wasi.ENOTCAPABLE {
		t.Fatalf("PathOpen with escaping '..': got %s, want ENOTCAPABLE", errno)
	}
}

func TestFDReadDirPartialBuffer(t *testing.T) {
	fsys := memfs.New(nil)
	root := fsys.NewDir()
	ctx := context.Background()

	names := []string{"alpha", "bravo", "charlie", "delta"}
	for _, name := range names {
		if _, errno := root.PathOpen(ctx, 0, name, wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0); errno != wasi.ESUCCESS {
			t.Fatalf("PathOpen(%s, OpenCreate): %s", name, errno)
		}
	}

	d, errno := root.FDOpenDir(ctx)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDOpenDir: %s", errno)
	}

	// Drive the full listing through repeated small reads, advancing the
	// cookie from the Next field of the last entry returned each time, the
	// same way a guest's libc readdir loop does it.
	seen := map[string]bool{}
	var cookie wasi.DirCookie
	for i := 0; i < 64; i++ {
		entries := make([]wasi.DirEntry, 2)
		n, errno := d.FDReadDir(ctx, entries, cookie, 4096)
		if errno != wasi.ESUCCESS {
			t.Fatalf("FDReadDir: %s", errno)
		}
		if n == 0 {
			break
		}
		for _, e := range entries[:n] {
			seen[string(e.Name)] = true
			cookie = e.Next
		}
	}

	for _, name := range names {
		if !seen[name] {
			t.Errorf("missing directory entry %q across partial reads", name)
		}
	}
	if !seen["."] || !seen[".."] {
		t.Error("missing '.' or '..' entry")
	}
}

func TestFDReadDirSmallBufferSizeStillMakesProgress(t *testing.T) {
	fsys := memfs.New(nil)
	root := fsys.NewDir()
	ctx := context.Background()

	if _, errno := root.PathOpen(ctx, 0, "onlyentry", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0); errno != wasi.ESUCCESS {
		t.Fatalf("PathOpen: %s", errno)
	}

	d, errno := root.FDOpenDir(ctx)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDOpenDir: %s", errno)
	}

	// A bufferSizeBytes too small for even one entry must still return that
	// one entry rather than nothing, matching the "n > 0" escape hatch in
	// dirIter.FDReadDir: a caller with a too-small buffer otherwise never
	// makes progress.
	entries := make([]wasi.DirEntry, 1)
	n, errno := d.FDReadDir(ctx, entries, 0, 1)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDReadDir: %s", errno)
	}
	if n != 1 {
		t.Fatalf("FDReadDir with undersized buffer: got %d entries, want 1", n)
	}
}

func TestFileStatRoundTrip(t *testing.T) {
	fsys := memfs.New(nil)
	root := fsys.NewDir()
	ctx := context.Background()

	f, errno := root.PathOpen(ctx, 0, "greeting", wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0)
	if errno != wasi.ESUCCESS {
		t.Fatalf("PathOpen: %s", errno)
	}

	payload := []byte("hello, wasi")
	if n, errno := f.FDWrite(ctx, []wasi.IOVec{payload}); errno != wasi.ESUCCESS {
		t.Fatalf("FDWrite: %s", errno)
	} else if int(n) != len(payload) {
		t.Fatalf("FDWrite: wrote %d bytes, want %d", n, len(payload))
	}

	stat, errno := f.FDFileStatGet(ctx)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDFileStatGet: %s", errno)
	}
	if stat.FileType != wasi.RegularFileType {
		t.Errorf("FileType = %s, want RegularFileType", stat.FileType)
	}
	if int(stat.Size) != len(payload) {
		t.Errorf("Size = %d, want %d", stat.Size, len(payload))
	}
	if stat.NLink != 1 {
		t.Errorf("NLink = %d, want 1", stat.NLink)
	}

	// PathFileStatGet through the original directory handle must agree with
	// FDFileStatGet through the handle PathOpen returned: same inode, same
	// stat, reached by two different routes.
	viaPath, errno := root.PathFileStatGet(ctx, 0, "greeting")
	if errno != wasi.ESUCCESS {
		t.Fatalf("PathFileStatGet: %s", errno)
	}
	if viaPath.INode != stat.INode || viaPath.Size != stat.Size {
		t.Errorf("PathFileStatGet disagrees with FDFileStatGet: %+v vs %+v", viaPath, stat)
	}
}
