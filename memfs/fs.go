// Package memfs is an in-memory implementation of the wasi.File contract,
// used as the default backend so a host does not need to grant WASI guests
// access to the real filesystem just to exercise preview1 semantics.
//
// Unlike the teacher's systems/unix package, which forwards every operation
// to the real OS via golang.org/x/sys/unix, memfs keeps an inode arena in
// memory. Directory entries reference child inodes by number, never by
// pointer, so that path resolution can detect cycles without retaining
// parent pointers: a resolver walks an explicit stack of inode numbers
// rather than following "parent" links back up the tree.
package memfs

import (
	"context"
	"io"
	"sync"

	wasi "github.com/stealthrocket-labs/wasihost"
)

type ino uint64

type kind uint8

const (
	kindFile kind = iota
	kindDir
	kindSymlink
	kindDevice
)

// inode is a single file, directory or symlink. Regular file content and
// directory membership are guarded by the inode's own mutex so that
// multiple handles sharing one FileSystem serialize correctly without the
// FileSystem itself needing a global lock for data operations.
type inode struct {
	mu sync.Mutex

	id   ino
	kind kind

	data     []byte         // kindFile
	target   string         // kindSymlink
	children map[string]ino // kindDir, keyed by entry name

	device *deviceIO // kindDevice

	readOnly bool // true for files sourced from a VirtualDir preopen

	linkCount                       wasi.LinkCount
	accessTime, modifyTime, changeTime wasi.Timestamp
}

// FileSystem is the inode arena backing every preopen created from it. A
// single FileSystem may be shared by several WasiEnv instances; per-inode
// locking (not a FileSystem-wide lock) is what keeps that safe.
type FileSystem struct {
	mu     sync.Mutex
	nodes  map[ino]*inode
	nextID ino
	clock  wasi.ClockSource
}

// New returns an empty FileSystem. clock supplies timestamps stamped onto
// inodes; pass wasi.NewSystemClock() for a real host, or a fake for tests.
func New(clock wasi.ClockSource) *FileSystem {
	if clock == nil {
		clock = wasi.NewSystemClock()
	}
	return &FileSystem{
		nodes:  make(map[ino]*inode),
		nextID: 1,
		clock:  clock,
	}
}

func (fsys *FileSystem) now() wasi.Timestamp {
	t, errno := fsys.clock.Now(context.Background(), wasi.Realtime)
	if errno != wasi.ESUCCESS {
		return 0
	}
	return t
}

func (fsys *FileSystem) alloc(k kind) *inode {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	now := fsys.now()
	n := &inode{
		id:         fsys.nextID,
		kind:       k,
		linkCount:  1,
		accessTime: now,
		modifyTime: now,
		changeTime: now,
	}
	if k == kindDir {
		n.children = make(map[string]ino)
	}
	fsys.nextID++
	fsys.nodes[n.id] = n
	return n
}

func (fsys *FileSystem) lookup(id ino) *inode {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	return fsys.nodes[id]
}

func (fsys *FileSystem) forget(id ino) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	delete(fsys.nodes, id)
}

// NewDir creates a fresh, empty directory inode and returns a Handle rooted
// on it; the handle is its own sandbox root, suitable for passing to
// FileTable.Preopen as a Dir-kind preopen.
func (fsys *FileSystem) NewDir() *Handle {
	root := fsys.alloc(kindDir)
	return &Handle{fsys: fsys, node: root.id, root: root.id}
}

// NewDeviceFile wraps a host stream (typically os.Stdin, os.Stdout, or
// os.Stderr) as a character-device inode, letting a CLI host pass real
// terminal I/O through to a guest without otherwise granting it access to
// the real filesystem. r or w may be nil for a write-only or read-only
// device respectively.
func (fsys *FileSystem) NewDeviceFile(r io.Reader, w io.Writer) *Handle {
	n := fsys.alloc(kindDevice)
	n.device = newDeviceIO(r, w)
	return &Handle{fsys: fsys, node: n.id, root: n.id}
}

// NewVirtualDir creates a synthetic, read-only directory populated with the
// given file contents, keyed by entry name. It never touches the real host
// filesystem; a common use is injecting a handful of config files into a
// guest without preopening a real host directory.
func (fsys *FileSystem) NewVirtualDir(files map[string][]byte) *Handle {
	root := fsys.alloc(kindDir)
	for name, content := range files {
		f := fsys.alloc(kindFile)
		f.data = append([]byte(nil), content...)
		f.readOnly = true
		root.children[name] = f.id
	}
	return &Handle{fsys: fsys, node: root.id, root: root.id}
}
