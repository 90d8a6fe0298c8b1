package wasi

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sort"
)

// WasiEnv is the default System implementation: a FileTable of File[T]
// handles (memfs.Handle being the common case, see the memfs package),
// plus the ambient state (args, environment, clock, RNG) a guest program
// observes outside the fd table.
//
// Modeled on the teacher's systems/unix.System, generalized from a fixed
// Unix-fd File type to the generic File[T] the rest of this module already
// supports, and with the Sock* methods the teacher's System declares
// dropped (sockets are out of scope, see DESIGN.md).
type WasiEnv[T File[T]] struct {
	FileTable[T]

	Args    []string
	Environ []string
	Clock   ClockSource
	Rand    io.Reader

	exitCode *ExitCode
}

func (s *WasiEnv[T]) ArgsSizesGet(ctx context.Context) (argCount, stringBytes int, errno Errno) {
	argCount, stringBytes = SizesGet(s.Args)
	return
}

func (s *WasiEnv[T]) ArgsGet(ctx context.Context) ([]string, Errno) {
	return s.Args, ESUCCESS
}

func (s *WasiEnv[T]) EnvironSizesGet(ctx context.Context) (envCount, stringBytes int, errno Errno) {
	envCount, stringBytes = SizesGet(s.Environ)
	return
}

func (s *WasiEnv[T]) EnvironGet(ctx context.Context) ([]string, Errno) {
	return s.Environ, ESUCCESS
}

func (s *WasiEnv[T]) clock() ClockSource {
	if s.Clock == nil {
		s.Clock = NewSystemClock()
	}
	return s.Clock
}

func (s *WasiEnv[T]) ClockResGet(ctx context.Context, id ClockID) (Timestamp, Errno) {
	return s.clock().Resolution(id)
}

func (s *WasiEnv[T]) ClockTimeGet(ctx context.Context, id ClockID, precision Timestamp) (Timestamp, Errno) {
	return s.clock().Now(ctx, id)
}

// ProcExit does not terminate anything itself: it records the exit code on
// the ExitCode pointer supplied to Builder.WithExitCode and returns ENOSYS.
// The teacher's systems/unix calls out to a user-supplied Exit callback
// instead; the pointer is used here since a
// host embedding this module typically inspects the exit code after the
// wazero module call returns rather than from within the syscall itself.
func (s *WasiEnv[T]) ProcExit(ctx context.Context, code ExitCode) Errno {
	if s.exitCode != nil {
		*s.exitCode = code
	}
	return ENOSYS
}

func (s *WasiEnv[T]) ProcRaise(ctx context.Context, signal Signal) Errno {
	return ENOSYS
}

func (s *WasiEnv[T]) SchedYield(ctx context.Context) Errno {
	return ESUCCESS
}

func (s *WasiEnv[T]) RandomGet(ctx context.Context, b []byte) Errno {
	r := s.Rand
	if r == nil {
		r = rand.Reader
	}
	if _, err := io.ReadFull(r, b); err != nil {
		return EIO
	}
	return ESUCCESS
}

type preopenEntry[T File[T]] struct {
	file T
	stat FDStat
}

// Builder assembles a WasiEnv from a sequence of chained calls, in the
// functional-options spirit of wazergo.Option[*Module] (wazergo.Configure,
// wazergo.OptionFunc) used elsewhere in this module for host module
// configuration (see imports/wasisnapshotpreview1), so construction reads
// the same way across the codebase rather than introducing an unrelated
// builder pattern.
//
// Preopens are staged in Builder rather than written straight into the
// underlying FileTable, so that MapDir can alias an existing preopen under
// a second guest path and duplicate-path conflicts can be reported as a
// plain error from Finalize instead of silently overwriting an earlier
// entry.
//
// stdio is registered in its own insertion-ordered slice so Finalize can
// grant it file descriptors 0, 1, 2 before any other preopen: FileTable
// hands out descriptors in registration order, and most WASI guests (any
// libc built against wasi-libc, notably) hard-code the stdin/stdout/stderr
// convention rather than discovering those descriptors through FDPreStatGet.
type Builder[T File[T]] struct {
	env      WasiEnv[T]
	stdio    []string
	preopens map[string]preopenEntry[T]
	errs     []error
}

// NewBuilder returns an empty Builder for assembling a WasiEnv over File
// implementation T (memfs.Handle being the common case).
func NewBuilder[T File[T]]() *Builder[T] {
	return &Builder[T]{preopens: make(map[string]preopenEntry[T])}
}

func (b *Builder[T]) Arg(arg string) *Builder[T] {
	b.env.Args = append(b.env.Args, arg)
	return b
}

func (b *Builder[T]) Args(args ...string) *Builder[T] {
	b.env.Args = append(b.env.Args, args...)
	return b
}

func (b *Builder[T]) Env(key, value string) *Builder[T] {
	b.env.Environ = append(b.env.Environ, key+"="+value)
	return b
}

func (b *Builder[T]) Envs(environ ...string) *Builder[T] {
	b.env.Environ = append(b.env.Environ, environ...)
	return b
}

func (b *Builder[T]) WithClock(clock ClockSource) *Builder[T] {
	b.env.Clock = clock
	return b
}

func (b *Builder[T]) WithRand(r io.Reader) *Builder[T] {
	b.env.Rand = r
	return b
}

// WithExitCode arranges for ProcExit's code to be written to code when the
// guest calls proc_exit.
func (b *Builder[T]) WithExitCode(code *ExitCode) *Builder[T] {
	b.env.exitCode = code
	return b
}

// WithMaxFiles caps the number of file descriptors the built WasiEnv will
// hold, not counting preopens; PathOpen past this count returns EMFILE.
// Preopens are never refused. Zero (the default) is unlimited.
func (b *Builder[T]) WithMaxFiles(n int) *Builder[T] {
	b.env.FileTable.MaxFiles = n
	return b
}

func (b *Builder[T]) addPreopen(path string, file T, stat FDStat) {
	if _, exists := b.preopens[path]; exists {
		b.errs = append(b.errs, &DuplicatePreopen{Path: path})
		return
	}
	b.preopens[path] = preopenEntry[T]{file: file, stat: stat}
}

// PreopenDir grants the guest a directory capability under path, with
// directory-appropriate rights (DirectoryRights|FileRights, inherited
// unchanged to files opened beneath it).
func (b *Builder[T]) PreopenDir(path string, dir T) *Builder[T] {
	b.addPreopen(path, dir, FDStat{
		FileType:         DirectoryType,
		RightsBase:       DirectoryRights | FileRights,
		RightsInheriting: DirectoryRights | FileRights,
	})
	return b
}

// Preopen grants the guest a handle under path with an explicit FDStat,
// for callers that need rights or a file type PreopenDir/Stdin/Stdout/
// Stderr don't cover.
func (b *Builder[T]) Preopen(path string, file T, stat FDStat) *Builder[T] {
	b.addPreopen(path, file, stat)
	return b
}

// virtualDirRights is DirectoryRights|FileRights with every path-mutating
// and size/time-setting right stripped, leaving read and traversal only.
const virtualDirRights = (DirectoryRights | FileRights) &^ (PathCreateDirectoryRight |
	PathCreateFileRight | PathLinkSourceRight | PathLinkTargetRight |
	PathRenameSourceRight | PathRenameTargetRight | PathSymlinkRight |
	PathRemoveDirectoryRight | PathUnlinkFileRight | PathFileStatSetTimesRight |
	FDWriteRight | FDAllocateRight | FDFileStatSetSizeRight | FDFileStatSetTimesRight)

// PreopenVirtualDir grants the guest a read-only directory capability
// under path, suited to a synthetic directory such as the one
// memfs.FileSystem.NewVirtualDir produces: a host can inject a handful of
// config files into a guest this way without preopening real host state,
// or without relying on the file-level readOnly flag memfs already
// enforces on virtual files to keep the guest from mutating them.
func (b *Builder[T]) PreopenVirtualDir(path string, dir T) *Builder[T] {
	b.addPreopen(path, dir, FDStat{
		FileType:         DirectoryType,
		RightsBase:       virtualDirRights,
		RightsInheriting: virtualDirRights,
	})
	return b
}

// MapDir aliases an already-registered preopen (registered under
// existingPath) so it is also reachable from the guest under path. Finalize
// reports an *InvalidMapping, whose Reason is PreopenNotFound's message, if
// existingPath was never preopened.
func (b *Builder[T]) MapDir(path, existingPath string) *Builder[T] {
	entry, ok := b.preopens[existingPath]
	if !ok {
		b.errs = append(b.errs, &InvalidMapping{
			GuestPath: path,
			HostPath:  existingPath,
			Reason:    (&PreopenNotFound{Path: existingPath}).Error(),
		})
		return b
	}
	b.addPreopen(path, entry.file, entry.stat)
	return b
}

func stdioStat(flags FDFlags) FDStat {
	return FDStat{
		FileType:         CharacterDeviceType,
		Flags:            flags,
		RightsBase:       TTYRights,
		RightsInheriting: TTYRights,
	}
}

func (b *Builder[T]) addStdio(path string, file T) {
	b.stdio = append(b.stdio, path)
	b.addPreopen(path, file, stdioStat(0))
}

// Stdin preopens file as the guest's standard input, at the conventional
// /dev/stdin path the teacher's cmd/wasirun also uses.
func (b *Builder[T]) Stdin(file T) *Builder[T] {
	b.addStdio("/dev/stdin", file)
	return b
}

// Stdout preopens file as the guest's standard output.
func (b *Builder[T]) Stdout(file T) *Builder[T] {
	b.addStdio("/dev/stdout", file)
	return b
}

// Stderr preopens file as the guest's standard error.
func (b *Builder[T]) Stderr(file T) *Builder[T] {
	b.addStdio("/dev/stderr", file)
	return b
}

// Finalize validates accumulated construction errors and returns the
// assembled WasiEnv. Construction errors (InvalidMapping, DuplicatePreopen)
// are plain Go errors, never Errno: they describe a host
// misconfiguration discovered before any guest code runs, not a runtime
// syscall failure.
func (b *Builder[T]) Finalize() (*WasiEnv[T], error) {
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("building WasiEnv: %w", b.errs[0])
	}

	// stdio goes first, in the order Stdin/Stdout/Stderr were called, so it
	// lands on fds 0/1/2 as every wasi-libc guest assumes; everything else
	// follows in sorted order for deterministic (if arbitrary) fd numbers.
	rest := make([]string, 0, len(b.preopens))
	isStdio := make(map[string]bool, len(b.stdio))
	for _, path := range b.stdio {
		isStdio[path] = true
	}
	for path := range b.preopens {
		if !isStdio[path] {
			rest = append(rest, path)
		}
	}
	sort.Strings(rest)

	env := b.env
	for _, path := range b.stdio {
		entry := b.preopens[path]
		env.FileTable.Preopen(entry.file, path, entry.stat)
	}
	for _, path := range rest {
		entry := b.preopens[path]
		env.FileTable.Preopen(entry.file, path, entry.stat)
	}
	return &env, nil
}

// DuplicatePreopen is returned by Builder.Finalize when two preopens were
// registered under the same guest-visible path.
type DuplicatePreopen struct {
	Path string
}

func (e *DuplicatePreopen) Error() string {
	return fmt.Sprintf("duplicate preopen path %q", e.Path)
}

// PreopenNotFound describes a preopen lookup by path that found no matching
// entry. When MapDir names a path that was never preopened, its message
// becomes the Reason of the *InvalidMapping that Finalize returns; Builder
// never returns a *PreopenNotFound itself.
type PreopenNotFound struct {
	Path string
}

func (e *PreopenNotFound) Error() string {
	return fmt.Sprintf("preopen not found: %q", e.Path)
}

// InvalidMapping is returned when MapDir names a host preopen path that
// cannot be resolved.
type InvalidMapping struct {
	GuestPath, HostPath string
	Reason              string
}

func (e *InvalidMapping) Error() string {
	return fmt.Sprintf("invalid mapping %q -> %q: %s", e.GuestPath, e.HostPath, e.Reason)
}
