package memfs

import (
	"context"
	"sort"

	wasi "github.com/stealthrocket-labs/wasihost"
)

// dirIter implements wasi.Dir over a directory inode's children. A cookie is
// simply the index into a snapshot of the directory's entry names sorted
// lexically, taken the first time FDReadDir is called: the teacher's
// systems/unix dirbuf buffers a raw getdents blob instead, since it must
// mirror whatever order the host kernel hands back; memfs has no such
// constraint, so it sorts to make iteration order deterministic and
// reproducible across calls and across test runs.
type dirIter struct {
	fsys *FileSystem
	dir  *inode

	names []string
}

func (d *dirIter) snapshot() {
	if d.names != nil {
		return
	}
	d.dir.mu.Lock()
	names := make([]string, 0, len(d.dir.children)+2)
	names = append(names, ".", "..")
	for name := range d.dir.children {
		names = append(names, name)
	}
	d.dir.mu.Unlock()
	sort.Strings(names[2:])
	d.names = names
}

func (d *dirIter) FDReadDir(ctx context.Context, entries []wasi.DirEntry, cookie wasi.DirCookie, bufferSizeBytes int) (int, wasi.Errno) {
	d.snapshot()

	start := int(cookie)
	if start > len(d.names) {
		return 0, wasi.ESUCCESS
	}

	d.dir.mu.Lock()
	defer d.dir.mu.Unlock()

	n := 0
	used := 0
	for i := start; i < len(d.names) && n < len(entries); i++ {
		name := d.names[i]

		var id ino
		var ft wasi.FileType
		switch name {
		case ".":
			id = d.dir.id
			ft = wasi.DirectoryType
		case "..":
			id = d.dir.id
			ft = wasi.DirectoryType
		default:
			childID, ok := d.dir.children[name]
			if !ok {
				continue
			}
			id = childID
			child := d.fsys.lookup(id)
			if child == nil {
				continue
			}
			switch child.kind {
			case kindDir:
				ft = wasi.DirectoryType
			case kindSymlink:
				ft = wasi.SymbolicLinkType
			default:
				ft = wasi.RegularFileType
			}
		}

		entrySize := int(wasi.SizeOfDirent) + len(name)
		if used+entrySize > bufferSizeBytes && n > 0 {
			break
		}
		used += entrySize

		entries[n] = wasi.DirEntry{
			Next:  wasi.DirCookie(i + 1),
			INode: wasi.INode(id),
			Type:  ft,
			Name:  []byte(name),
		}
		n++
	}

	return n, wasi.ESUCCESS
}

func (d *dirIter) FDCloseDir(ctx context.Context) wasi.Errno {
	return wasi.ESUCCESS
}
