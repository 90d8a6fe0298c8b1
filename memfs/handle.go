package memfs

import (
	"context"
	"io"

	wasi "github.com/stealthrocket-labs/wasihost"
)

// Handle is a single open file descriptor's view into a FileSystem. It
// implements wasi.File[*Handle] and is what gets registered into a
// wasi.FileTable.
//
// Every path resolution performed through this handle starts at, and is
// bounded by, the handle's own node: no operation can name an inode outside
// the subtree rooted at node, whether directly via ".." or indirectly via a
// symlink. ".." cannot climb above node even when root lies higher; root is
// only carried over to the handles opened from this one.
type Handle struct {
	fsys   *FileSystem
	node   ino
	root   ino
	offset int64
	flags  wasi.FDFlags
}

func (h *Handle) inode() *inode {
	return h.fsys.lookup(h.node)
}

func (h *Handle) resolver() *resolver {
	return newResolver(h.fsys, h.node)
}

func (h *Handle) FDAdvise(ctx context.Context, offset, length wasi.FileSize, advice wasi.Advice) wasi.Errno {
	// Advisory only; memfs has no backing store to prefetch or discard.
	return wasi.ESUCCESS
}

func (h *Handle) FDAllocate(ctx context.Context, offset, length wasi.FileSize) wasi.Errno {
	n := h.inode()
	if n == nil || n.kind != kindFile {
		return wasi.EBADF
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	need := int(offset + length)
	if need > len(n.data) {
		grown := make([]byte, need)
		copy(grown, n.data)
		n.data = grown
	}
	return wasi.ESUCCESS
}

func (h *Handle) FDClose(ctx context.Context) wasi.Errno {
	if n := h.inode(); n != nil && n.kind == kindDevice {
		n.device.close()
	}
	return wasi.ESUCCESS
}

func (h *Handle) FDDataSync(ctx context.Context) wasi.Errno {
	return wasi.ESUCCESS
}

func (h *Handle) FDStatSetFlags(ctx context.Context, flags wasi.FDFlags) wasi.Errno {
	// Only NonBlock has any effect, and only on a kindDevice fd: regular
	// files and directories never block, so the flag is accepted and
	// ignored for them, mirroring a no-op fcntl.
	h.flags = flags
	return wasi.ESUCCESS
}

// Poll implements wasi.Pollable. Non-device handles never block, so they
// report ready for both directions unconditionally.
func (h *Handle) Poll() (readable, writable bool) {
	n := h.inode()
	if n == nil || n.kind != kindDevice {
		return true, true
	}
	return n.device.poll()
}

func (h *Handle) FDFileStatGet(ctx context.Context) (wasi.FileStat, wasi.Errno) {
	n := h.inode()
	if n == nil {
		return wasi.FileStat{}, wasi.EBADF
	}
	return h.stat(n), wasi.ESUCCESS
}

func (h *Handle) stat(n *inode) wasi.FileStat {
	n.mu.Lock()
	defer n.mu.Unlock()
	ft := wasi.RegularFileType
	size := wasi.FileSize(len(n.data))
	switch n.kind {
	case kindDir:
		ft = wasi.DirectoryType
		size = 0
	case kindSymlink:
		ft = wasi.SymbolicLinkType
		size = wasi.FileSize(len(n.target))
	case kindDevice:
		ft = wasi.CharacterDeviceType
		size = 0
	}
	return wasi.FileStat{
		Device:     0,
		INode:      wasi.INode(n.id),
		FileType:   ft,
		NLink:      n.linkCount,
		Size:       size,
		AccessTime: n.accessTime,
		ModifyTime: n.modifyTime,
		ChangeTime: n.changeTime,
	}
}

func (h *Handle) FDFileStatSetSize(ctx context.Context, size wasi.FileSize) wasi.Errno {
	n := h.inode()
	if n == nil || n.kind != kindFile {
		return wasi.EBADF
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.readOnly {
		return wasi.EACCES
	}
	if int(size) <= len(n.data) {
		n.data = n.data[:size]
	} else {
		grown := make([]byte, size)
		copy(grown, n.data)
		n.data = grown
	}
	n.modifyTime = h.fsys.now()
	return wasi.ESUCCESS
}

func (h *Handle) FDFileStatSetTimes(ctx context.Context, accessTime, modifyTime wasi.Timestamp, flags wasi.FSTFlags) wasi.Errno {
	n := h.inode()
	if n == nil {
		return wasi.EBADF
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	now := h.fsys.now()
	if flags.Has(wasi.AccessTimeNow) {
		n.accessTime = now
	} else if flags.Has(wasi.AccessTime) {
		n.accessTime = accessTime
	}
	if flags.Has(wasi.ModifyTimeNow) {
		n.modifyTime = now
	} else if flags.Has(wasi.ModifyTime) {
		n.modifyTime = modifyTime
	}
	return wasi.ESUCCESS
}

func (h *Handle) FDPread(ctx context.Context, iovecs []wasi.IOVec, offset wasi.FileSize) (wasi.Size, wasi.Errno) {
	n := h.inode()
	if n == nil {
		return 0, wasi.EBADF
	}
	if n.kind == kindDevice {
		return 0, wasi.ESPIPE
	}
	if n.kind != kindFile {
		return 0, wasi.EBADF
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return readIOVecs(n.data, int64(offset), iovecs)
}

func (h *Handle) FDPwrite(ctx context.Context, iovecs []wasi.IOVec, offset wasi.FileSize) (wasi.Size, wasi.Errno) {
	n := h.inode()
	if n == nil {
		return 0, wasi.EBADF
	}
	if n.kind == kindDevice {
		return 0, wasi.ESPIPE
	}
	if n.kind != kindFile {
		return 0, wasi.EBADF
	}
	if n.readOnly {
		return 0, wasi.EACCES
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	written := writeIOVecs(&n.data, int64(offset), iovecs)
	n.modifyTime = h.fsys.now()
	return written, wasi.ESUCCESS
}

// readDevice and writeDevice stream through the wrapped host io.Reader/
// io.Writer via the inode's deviceIO, ignoring the handle's offset: a
// device has no seekable position, only whatever sequence the underlying
// stream yields. block is false when the fd has NonBlock set, in which
// case an operation that cannot complete immediately returns EAGAIN
// instead of waiting on the host stream.
func readDevice(n *inode, iovecs []wasi.IOVec, block bool) (wasi.Size, wasi.Errno) {
	if n.device.reader == nil {
		return 0, wasi.EBADF
	}
	var buf []byte
	for _, iov := range iovecs {
		buf = append(buf, iov...)
	}
	if len(buf) == 0 {
		return 0, wasi.ESUCCESS
	}
	nr, err, ready := n.device.reader.read(buf, block)
	if !ready {
		return ^wasi.Size(0), wasi.EAGAIN
	}
	if err != nil && nr == 0 {
		if err == io.EOF {
			return 0, wasi.ESUCCESS
		}
		return 0, wasi.MakeErrno(err)
	}
	copyIOVecs(iovecs, buf[:nr])
	return wasi.Size(nr), wasi.ESUCCESS
}

func writeDevice(n *inode, iovecs []wasi.IOVec, block bool) (wasi.Size, wasi.Errno) {
	if n.device.writer == nil {
		return 0, wasi.EBADF
	}
	var buf []byte
	for _, iov := range iovecs {
		buf = append(buf, iov...)
	}
	nw, err, ready := n.device.writer.write(buf, block)
	if !ready {
		return ^wasi.Size(0), wasi.EAGAIN
	}
	if err != nil {
		return 0, wasi.MakeErrno(err)
	}
	return wasi.Size(nw), wasi.ESUCCESS
}

// copyIOVecs scatters buf across iovecs in order, same layout writeIOVecs
// already assumes for regular files.
func copyIOVecs(iovecs []wasi.IOVec, buf []byte) {
	for _, iov := range iovecs {
		n := copy(iov, buf)
		buf = buf[n:]
		if len(buf) == 0 {
			return
		}
	}
}

func (h *Handle) FDRead(ctx context.Context, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if n := h.inode(); n != nil && n.kind == kindDevice {
		return readDevice(n, iovecs, !h.flags.Has(wasi.NonBlock))
	}
	n, errno := h.FDPread(ctx, iovecs, wasi.FileSize(h.offset))
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	h.offset += int64(n)
	return n, wasi.ESUCCESS
}

func (h *Handle) FDWrite(ctx context.Context, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if n := h.inode(); n != nil && n.kind == kindDevice {
		return writeDevice(n, iovecs, !h.flags.Has(wasi.NonBlock))
	}
	n, errno := h.FDPwrite(ctx, iovecs, wasi.FileSize(h.offset))
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	h.offset += int64(n)
	return n, wasi.ESUCCESS
}

func (h *Handle) FDSync(ctx context.Context) wasi.Errno {
	return wasi.ESUCCESS
}

func (h *Handle) FDSeek(ctx context.Context, delta wasi.FileDelta, whence wasi.Whence) (wasi.FileSize, wasi.Errno) {
	n := h.inode()
	if n == nil {
		return 0, wasi.EBADF
	}
	if n.kind == kindDevice {
		return 0, wasi.ESPIPE
	}
	var base int64
	switch whence {
	case wasi.SeekStart:
		base = 0
	case wasi.SeekCurrent:
		base = h.offset
	case wasi.SeekEnd:
		n.mu.Lock()
		base = int64(len(n.data))
		n.mu.Unlock()
	default:
		return 0, wasi.EINVAL
	}
	pos := base + int64(delta)
	if pos < 0 {
		return 0, wasi.EINVAL
	}
	h.offset = pos
	return wasi.FileSize(pos), wasi.ESUCCESS
}

func (h *Handle) FDOpenDir(ctx context.Context) (wasi.Dir, wasi.Errno) {
	n := h.inode()
	if n == nil || n.kind != kindDir {
		return nil, wasi.ENOTDIR
	}
	return &dirIter{fsys: h.fsys, dir: n}, wasi.ESUCCESS
}

func (h *Handle) PathCreateDirectory(ctx context.Context, path string) wasi.Errno {
	parent, name, target, errno := h.resolver().walk(path, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target != nil {
		return wasi.EEXIST
	}
	dir := h.fsys.alloc(kindDir)
	parent.mu.Lock()
	parent.children[name] = dir.id
	parent.mu.Unlock()
	return wasi.ESUCCESS
}

func (h *Handle) PathFileStatGet(ctx context.Context, flags wasi.LookupFlags, path string) (wasi.FileStat, wasi.Errno) {
	_, _, target, errno := h.resolver().walk(path, flags.Has(wasi.SymlinkFollow))
	if errno != wasi.ESUCCESS {
		return wasi.FileStat{}, errno
	}
	if target == nil {
		return wasi.FileStat{}, wasi.ENOENT
	}
	return h.stat(target), wasi.ESUCCESS
}

func (h *Handle) PathFileStatSetTimes(ctx context.Context, lookupFlags wasi.LookupFlags, path string, accessTime, modifyTime wasi.Timestamp, flags wasi.FSTFlags) wasi.Errno {
	_, _, target, errno := h.resolver().walk(path, lookupFlags.Has(wasi.SymlinkFollow))
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target == nil {
		return wasi.ENOENT
	}
	tmp := &Handle{fsys: h.fsys, node: target.id, root: h.root}
	return tmp.FDFileStatSetTimes(ctx, accessTime, modifyTime, flags)
}

func (h *Handle) PathLink(ctx context.Context, flags wasi.LookupFlags, oldPath string, newFile *Handle, newPath string) wasi.Errno {
	_, _, target, errno := h.resolver().walk(oldPath, flags.Has(wasi.SymlinkFollow))
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target == nil {
		return wasi.ENOENT
	}
	if target.kind == kindDir {
		return wasi.EPERM
	}
	parent, name, existing, errno := newFile.resolver().walk(newPath, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if existing != nil {
		return wasi.EEXIST
	}
	target.mu.Lock()
	target.linkCount++
	target.mu.Unlock()
	parent.mu.Lock()
	parent.children[name] = target.id
	parent.mu.Unlock()
	return wasi.ESUCCESS
}

func (h *Handle) PathOpen(ctx context.Context, lookupFlags wasi.LookupFlags, path string, openFlags wasi.OpenFlags, rightsBase, rightsInheriting wasi.Rights, fdFlags wasi.FDFlags) (*Handle, wasi.Errno) {
	parent, name, target, errno := h.resolver().walk(path, lookupFlags.Has(wasi.SymlinkFollow))
	if errno != wasi.ESUCCESS {
		return nil, errno
	}

	if target == nil {
		if !openFlags.Has(wasi.OpenCreate) {
			return nil, wasi.ENOENT
		}
		f := h.fsys.alloc(kindFile)
		parent.mu.Lock()
		parent.children[name] = f.id
		parent.mu.Unlock()
		target = f
	} else if openFlags.Has(wasi.OpenExclusive) && openFlags.Has(wasi.OpenCreate) {
		return nil, wasi.EEXIST
	}

	if openFlags.Has(wasi.OpenDirectory) && target.kind != kindDir {
		return nil, wasi.ENOTDIR
	}

	if openFlags.Has(wasi.OpenTruncate) {
		if target.kind != kindFile {
			return nil, wasi.EISDIR
		}
		target.mu.Lock()
		if target.readOnly {
			target.mu.Unlock()
			return nil, wasi.EACCES
		}
		target.data = target.data[:0]
		target.mu.Unlock()
	}

	return &Handle{fsys: h.fsys, node: target.id, root: h.root}, wasi.ESUCCESS
}

func (h *Handle) PathReadLink(ctx context.Context, path string, buffer []byte) (int, wasi.Errno) {
	_, _, target, errno := h.resolver().walk(path, false)
	if errno != wasi.ESUCCESS {
		return 0, errno
	}
	if target == nil {
		return 0, wasi.ENOENT
	}
	if target.kind != kindSymlink {
		return 0, wasi.EINVAL
	}
	if len(target.target) > len(buffer) {
		return 0, wasi.ERANGE
	}
	n := copy(buffer, target.target)
	return n, wasi.ESUCCESS
}

func (h *Handle) PathRemoveDirectory(ctx context.Context, path string) wasi.Errno {
	parent, name, target, errno := h.resolver().walk(path, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target == nil {
		return wasi.ENOENT
	}
	if target.kind != kindDir {
		return wasi.ENOTDIR
	}
	target.mu.Lock()
	empty := len(target.children) == 0
	target.mu.Unlock()
	if !empty {
		return wasi.ENOTEMPTY
	}
	parent.mu.Lock()
	delete(parent.children, name)
	parent.mu.Unlock()
	h.fsys.forget(target.id)
	return wasi.ESUCCESS
}

func (h *Handle) PathRename(ctx context.Context, oldPath string, newFile *Handle, newPath string) wasi.Errno {
	oldParent, oldName, target, errno := h.resolver().walk(oldPath, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target == nil {
		return wasi.ENOENT
	}
	newParent, newName, existing, errno := newFile.resolver().walk(newPath, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if existing != nil {
		if existing.kind == kindDir {
			existing.mu.Lock()
			empty := len(existing.children) == 0
			existing.mu.Unlock()
			if !empty {
				return wasi.ENOTEMPTY
			}
		}
	}
	oldParent.mu.Lock()
	delete(oldParent.children, oldName)
	oldParent.mu.Unlock()
	newParent.mu.Lock()
	newParent.children[newName] = target.id
	newParent.mu.Unlock()
	return wasi.ESUCCESS
}

func (h *Handle) PathSymlink(ctx context.Context, oldPath string, newPath string) wasi.Errno {
	parent, name, existing, errno := h.resolver().walk(newPath, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if existing != nil {
		return wasi.EEXIST
	}
	link := h.fsys.alloc(kindSymlink)
	link.target = oldPath
	parent.mu.Lock()
	parent.children[name] = link.id
	parent.mu.Unlock()
	return wasi.ESUCCESS
}

func (h *Handle) PathUnlinkFile(ctx context.Context, path string) wasi.Errno {
	parent, name, target, errno := h.resolver().walk(path, false)
	if errno != wasi.ESUCCESS {
		return errno
	}
	if target == nil {
		return wasi.ENOENT
	}
	if target.kind == kindDir {
		return wasi.EISDIR
	}
	parent.mu.Lock()
	delete(parent.children, name)
	parent.mu.Unlock()
	target.mu.Lock()
	target.linkCount--
	remaining := target.linkCount
	target.mu.Unlock()
	if remaining == 0 {
		h.fsys.forget(target.id)
	}
	return wasi.ESUCCESS
}

func readIOVecs(data []byte, offset int64, iovecs []wasi.IOVec) (wasi.Size, wasi.Errno) {
	if offset < 0 || offset > int64(len(data)) {
		return 0, wasi.ESUCCESS
	}
	var total int
	pos := offset
	for _, iov := range iovecs {
		if pos >= int64(len(data)) {
			break
		}
		n := copy(iov, data[pos:])
		total += n
		pos += int64(n)
		if n < len(iov) {
			break
		}
	}
	return wasi.Size(total), wasi.ESUCCESS
}

func writeIOVecs(data *[]byte, offset int64, iovecs []wasi.IOVec) wasi.Size {
	var total int
	pos := offset
	for _, iov := range iovecs {
		end := pos + int64(len(iov))
		if end > int64(len(*data)) {
			grown := make([]byte, end)
			copy(grown, *data)
			*data = grown
		}
		copy((*data)[pos:end], iov)
		total += len(iov)
		pos = end
	}
	return wasi.Size(total)
}
