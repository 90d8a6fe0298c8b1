package memfs

import (
	"strings"

	wasi "github.com/stealthrocket-labs/wasihost"
)

// maxSymlinkExpansions bounds the number of symbolic links a resolver will
// follow before giving up with ELOOP, matching the Linux/libc convention.
const maxSymlinkExpansions = 40

// resolver walks a path starting at a handle's current directory, using an
// explicit stack of inode numbers rather than parent pointers. Because the
// stack only ever contains inodes visited on the way down, popping past its
// single starting entry is detectable and rejected: this is what keeps a
// preopen from being escaped through "..", whether typed directly or
// reached by expanding a symlink whose target contains "..".
type resolver struct {
	fsys       *FileSystem
	stack      []ino
	expansions int
}

func newResolver(fsys *FileSystem, start ino) *resolver {
	return &resolver{fsys: fsys, stack: []ino{start}}
}

func (r *resolver) top() *inode {
	return r.fsys.lookup(r.stack[len(r.stack)-1])
}

// walk consumes path component by component, optionally following a
// symlink encountered in the final component when followFinal is set
// (LookupFlags.SymlinkFollow). It returns the parent directory inode, the
// final path component's name (for callers that create/remove/rename that
// entry), and the resolved target inode, which is nil if the entry does not
// exist.
func (r *resolver) walk(path string, followFinal bool) (parent *inode, name string, target *inode, errno wasi.Errno) {
	if path == "" {
		return nil, "", nil, wasi.ENOENT
	}

	components := strings.Split(path, "/")
	for i := 0; i < len(components); i++ {
		c := components[i]
		last := i == len(components)-1

		switch c {
		case "", ".":
			continue
		case "..":
			if len(r.stack) == 1 {
				return nil, "", nil, wasi.ENOTCAPABLE
			}
			r.stack = r.stack[:len(r.stack)-1]
			continue
		}

		dir := r.top()
		if dir == nil || dir.kind != kindDir {
			return nil, "", nil, wasi.ENOTDIR
		}

		dir.mu.Lock()
		childID, ok := dir.children[c]
		dir.mu.Unlock()

		if last {
			if !ok {
				return dir, c, nil, wasi.ESUCCESS
			}
			child := r.fsys.lookup(childID)
			if child != nil && child.kind == kindSymlink && followFinal {
				if resolved, errno := r.followSymlink(child); errno != wasi.ESUCCESS {
					return nil, "", nil, errno
				} else if resolved != nil {
					return dir, c, resolved, wasi.ESUCCESS
				}
			}
			return dir, c, child, wasi.ESUCCESS
		}

		if !ok {
			return nil, "", nil, wasi.ENOENT
		}
		child := r.fsys.lookup(childID)
		if child == nil {
			return nil, "", nil, wasi.ENOENT
		}
		if child.kind == kindSymlink {
			resolved, errno := r.followSymlink(child)
			if errno != wasi.ESUCCESS {
				return nil, "", nil, errno
			}
			if resolved == nil || resolved.kind != kindDir {
				return nil, "", nil, wasi.ENOTDIR
			}
			r.stack = append(r.stack, resolved.id)
			continue
		}
		r.stack = append(r.stack, childID)
	}

	dir := r.top()
	return dir, "", dir, wasi.ESUCCESS
}

// followSymlink expands child's target and returns the inode it resolves
// to, or nil if the target does not exist. The stack used to interpret the
// target's relative components is r.stack at the point of the call, so a
// symlink never "sees" components outside the sandbox it was reached from.
func (r *resolver) followSymlink(child *inode) (*inode, wasi.Errno) {
	r.expansions++
	if r.expansions > maxSymlinkExpansions {
		return nil, wasi.ELOOP
	}

	target := child.target
	if strings.HasPrefix(target, "/") {
		r.stack = r.stack[:1]
		target = strings.TrimPrefix(target, "/")
	}

	_, _, resolved, errno := r.walk(target, true)
	return resolved, errno
}

// resolveDir resolves path to the directory inode it names, following a
// trailing symlink. Nothing in this package calls it: FDOpenDir uses the
// handle's own inode, and PathOpen resolves through walk.
func (r *resolver) resolveDir(path string) (*inode, wasi.Errno) {
	if path == "" {
		return r.top(), wasi.ESUCCESS
	}
	_, _, target, errno := r.walk(path, true)
	if errno != wasi.ESUCCESS {
		return nil, errno
	}
	if target == nil {
		return nil, wasi.ENOENT
	}
	if target.kind != kindDir {
		return nil, wasi.ENOTDIR
	}
	return target, wasi.ESUCCESS
}
