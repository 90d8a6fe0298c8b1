package wasi_test

import (
	"context"
	"io"
	"io/fs"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
)

// TestFSAdaptsPreopenToIOFS exercises wasi.FS, the io/fs.FS adapter over a
// preopened directory: it lets a host read a guest's visible files with
// the standard library's own file-walking tools instead of hand-rolling
// PathOpen/FDRead/FDReadDir call sequences.
func TestFSAdaptsPreopenToIOFS(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	root := fsys.NewDir()
	if errno := root.PathCreateDirectory(ctx, "sub"); errno != wasi.ESUCCESS {
		t.Fatalf("PathCreateDirectory: %s", errno)
	}
	for _, path := range []string{"greeting.txt", "sub/nested.txt"} {
		h, errno := root.PathOpen(ctx, 0, path, wasi.OpenCreate, wasi.AllRights, wasi.AllRights, 0)
		if errno != wasi.ESUCCESS {
			t.Fatalf("PathOpen(%s): %s", path, errno)
		}
		if _, errno := h.FDWrite(ctx, []wasi.IOVec{[]byte("hello from " + path)}); errno != wasi.ESUCCESS {
			t.Fatalf("FDWrite(%s): %s", path, errno)
		}
	}

	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/scratch", root).
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

	iofs := wasi.FS(ctx, env, dirFD)

	data, err := fs.ReadFile(iofs, "greeting.txt")
	if err != nil {
		t.Fatalf("fs.ReadFile: %s", err)
	}
	if string(data) != "hello from greeting.txt" {
		t.Errorf("greeting.txt contents = %q", data)
	}

	info, err := fs.Stat(iofs, "sub")
	if err != nil {
		t.Fatalf("fs.Stat(sub): %s", err)
	}
	if !info.IsDir() {
		t.Error("sub should be reported as a directory")
	}

	entries, err := fs.ReadDir(iofs, ".")
	if err != nil {
		t.Fatalf("fs.ReadDir(.): %s", err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	if !names["greeting.txt"] || !names["sub"] {
		t.Errorf("ReadDir(.) entries = %v, want greeting.txt and sub", names)
	}

	f, err := iofs.Open("sub/nested.txt")
	if err != nil {
		t.Fatalf("Open(sub/nested.txt): %s", err)
	}
	defer f.Close()
	nested, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %s", err)
	}
	if string(nested) != "hello from sub/nested.txt" {
		t.Errorf("sub/nested.txt contents = %q", nested)
	}
}
