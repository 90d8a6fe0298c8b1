package wasi_test

import (
	"context"
	"errors"
	"testing"

	wasi "github.com/stealthrocket-labs/wasihost"
	"github.com/stealthrocket-labs/wasihost/memfs"
)

func TestBuilderStdioGetsConventionalDescriptors(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	stdin := fsys.NewDeviceFile(nil, nil)
	stdout := fsys.NewDeviceFile(nil, nil)
	stderr := fsys.NewDeviceFile(nil, nil)
	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/aaa-before-stdio-alphabetically", fsys.NewDir()).
		Stdin(stdin).
		Stdout(stdout).
		Stderr(stderr).
		PreopenDir("/data", fsys.NewDir()).
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	// Stdio entries are character devices, for which FDPreStatDirName
	// reports ENOTDIR, so each fd is matched to its device by inode.
	for fd, dev := range map[wasi.FD]*memfs.Handle{0: stdin, 1: stdout, 2: stderr} {
		want, errno := dev.FDFileStatGet(ctx)
		if errno != wasi.ESUCCESS {
			t.Fatalf("FDFileStatGet on the device for fd %d: %s", fd, errno)
		}
		got, errno := env.FDFileStatGet(ctx, fd)
		if errno != wasi.ESUCCESS {
			t.Fatalf("FDFileStatGet(%d): %s", fd, errno)
		}
		if got.INode != want.INode {
			t.Errorf("fd %d inode = %d, want %d", fd, got.INode, want.INode)
		}
	}
}

func TestBuilderDuplicatePreopenFailsFinalize(t *testing.T) {
	fsys := memfs.New(nil)

	_, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/data", fsys.NewDir()).
		PreopenDir("/data", fsys.NewDir()).
		Finalize()

	var dup *wasi.DuplicatePreopen
	if !errors.As(err, &dup) {
		t.Fatalf("Finalize error = %v, want *DuplicatePreopen", err)
	}
	if dup.Path != "/data" {
		t.Errorf("DuplicatePreopen.Path = %q, want %q", dup.Path, "/data")
	}
}

func TestBuilderMapDirUnknownPathFailsFinalize(t *testing.T) {
	_, err := wasi.NewBuilder[*memfs.Handle]().
		MapDir("/alias", "/never-preopened").
		Finalize()

	var mapping *wasi.InvalidMapping
	if !errors.As(err, &mapping) {
		t.Fatalf("Finalize error = %v, want *InvalidMapping", err)
	}
	if mapping.GuestPath != "/alias" || mapping.HostPath != "/never-preopened" {
		t.Errorf("InvalidMapping = %+v, unexpected fields", mapping)
	}
}

func TestBuilderMapDirAliasesSamePreopen(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/data", fsys.NewDir()).
		MapDir("/alias", "/data").
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	var dataFD, aliasFD wasi.FD = -1, -1
	for fd := wasi.FD(0); fd < 8; fd++ {
		path, errno := env.FDPreStatDirName(ctx, fd)
		if errno != wasi.ESUCCESS {
			continue
		}
		switch path {
		case "/data":
			dataFD = fd
		case "/alias":
			aliasFD = fd
		}
	}
	if dataFD == -1 || aliasFD == -1 {
		t.Fatalf("expected both /data and /alias to be preopened, got dataFD=%d aliasFD=%d", dataFD, aliasFD)
	}

	wantStat, errno := env.FDFileStatGet(ctx, dataFD)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDFileStatGet(dataFD): %s", errno)
	}
	gotStat, errno := env.FDFileStatGet(ctx, aliasFD)
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDFileStatGet(aliasFD): %s", errno)
	}
	if wantStat.INode != gotStat.INode {
		t.Errorf("MapDir alias resolved to a different inode: %d vs %d", gotStat.INode, wantStat.INode)
	}
}

func TestBuilderWithMaxFilesAppliesToNonPreopenFiles(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenDir("/scratch", fsys.NewDir()).
		WithMaxFiles(1).
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

	// The preopen itself does not count against MaxFiles (Preopen bypasses
	// Register), but opening a file underneath it does, so the very first
	// PathOpen past a MaxFiles of 1 must fail with EMFILE.
	_, errno := env.PathOpen(ctx, dirFD, 0, "a", wasi.OpenCreate, wasi.FileRights, wasi.FileRights, 0)
	if errno != wasi.ESUCCESS {
		t.Fatalf("PathOpen(a): %s", errno)
	}
	_, errno = env.PathOpen(ctx, dirFD, 0, "b", wasi.OpenCreate, wasi.FileRights, wasi.FileRights, 0)
	if errno != wasi.EMFILE {
		t.Fatalf("PathOpen(b) with MaxFiles=1 already used: got %s, want EMFILE", errno)
	}
}

func TestBuilderPreopenVirtualDirIsReadable(t *testing.T) {
	fsys := memfs.New(nil)
	ctx := context.Background()

	env, err := wasi.NewBuilder[*memfs.Handle]().
		PreopenVirtualDir("/config", fsys.NewVirtualDir(map[string][]byte{
			"app.conf": []byte("debug=false"),
		})).
		Finalize()
	if err != nil {
		t.Fatalf("Finalize: %s", err)
	}

	var dirFD wasi.FD = -1
	for fd := wasi.FD(0); fd < 8; fd++ {
		if path, errno := env.FDPreStatDirName(ctx, fd); errno == wasi.ESUCCESS && path == "/config" {
			dirFD = fd
			break
		}
	}
	if dirFD == -1 {
		t.Fatal("expected /config to be preopened")
	}

	f, errno := env.PathOpen(ctx, dirFD, 0, "app.conf", 0, wasi.FDReadRight, 0, 0)
	if errno != wasi.ESUCCESS {
		t.Fatalf("PathOpen(app.conf): %s", errno)
	}
	buf := make([]byte, 32)
	n, errno := env.FDRead(ctx, f, []wasi.IOVec{buf})
	if errno != wasi.ESUCCESS {
		t.Fatalf("FDRead: %s", errno)
	}
	if string(buf[:n]) != "debug=false" {
		t.Errorf("FDRead = %q, want %q", buf[:n], "debug=false")
	}

	// PathOpen with OpenCreate under a virtual dir must be rejected by the
	// rights check before memfs ever sees it: PreopenVirtualDir grants no
	// PathCreateFileRight.
	_, errno = env.PathOpen(ctx, dirFD, 0, "new.conf", wasi.OpenCreate, wasi.FDReadRight, 0, 0)
	if errno != wasi.ENOTCAPABLE {
		t.Fatalf("PathOpen(new.conf, OpenCreate) under a virtual dir: got %s, want ENOTCAPABLE", errno)
	}
}
