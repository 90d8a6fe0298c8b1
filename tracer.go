package wasi

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// Trace wraps a System to log every call to its methods as a structured
// logrus entry, one per syscall, at Debug level. This replaces the
// teacher's Trace/tracer, which writes a human-readable line straight to an
// io.Writer with fmt.Fprintf; logrus gives the same one-line-per-call shape
// but as queryable fields, matching how the rest of the pack does ambient
// logging.
func Trace(logger *logrus.Logger, s System, options ...TracerOption) System {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &tracer{
		logger:     logger,
		system:     s,
		stringSize: 32,
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// TracerOption configures a tracer.
type TracerOption func(*tracer)

// WithTracerStringSize sets the number of bytes logged for byte buffer
// fields (FDRead/FDWrite/...); RandomGet logs only the buffer length.
//
// To disable truncation, use stringSize < 0. The default is 32.
func WithTracerStringSize(stringSize int) TracerOption {
	return func(t *tracer) { t.stringSize = stringSize }
}

type tracer struct {
	logger     *logrus.Logger
	system     System
	stringSize int
}

func (t *tracer) log(call string, errno Errno, fields logrus.Fields) {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["call"] = call
	if errno != ESUCCESS {
		fields["errno"] = errno.Name()
		t.logger.WithFields(fields).Debug("wasi syscall failed")
		return
	}
	t.logger.WithFields(fields).Debug("wasi syscall")
}

func (t *tracer) ArgsSizesGet(ctx context.Context) (int, int, Errno) {
	argCount, stringBytes, errno := t.system.ArgsSizesGet(ctx)
	t.log("ArgsSizesGet", errno, logrus.Fields{"argCount": argCount, "stringBytes": stringBytes})
	return argCount, stringBytes, errno
}

func (t *tracer) ArgsGet(ctx context.Context) ([]string, Errno) {
	args, errno := t.system.ArgsGet(ctx)
	t.log("ArgsGet", errno, logrus.Fields{"args": args})
	return args, errno
}

func (t *tracer) EnvironSizesGet(ctx context.Context) (int, int, Errno) {
	envCount, stringBytes, errno := t.system.EnvironSizesGet(ctx)
	t.log("EnvironSizesGet", errno, logrus.Fields{"envCount": envCount, "stringBytes": stringBytes})
	return envCount, stringBytes, errno
}

func (t *tracer) EnvironGet(ctx context.Context) ([]string, Errno) {
	environ, errno := t.system.EnvironGet(ctx)
	t.log("EnvironGet", errno, logrus.Fields{"environ": environ})
	return environ, errno
}

func (t *tracer) ClockResGet(ctx context.Context, id ClockID) (Timestamp, Errno) {
	precision, errno := t.system.ClockResGet(ctx, id)
	t.log("ClockResGet", errno, logrus.Fields{"id": id.String(), "precision": precision})
	return precision, errno
}

func (t *tracer) ClockTimeGet(ctx context.Context, id ClockID, precision Timestamp) (Timestamp, Errno) {
	timestamp, errno := t.system.ClockTimeGet(ctx, id, precision)
	t.log("ClockTimeGet", errno, logrus.Fields{"id": id.String(), "precision": precision, "timestamp": timestamp})
	return timestamp, errno
}

func (t *tracer) FDAdvise(ctx context.Context, fd FD, offset, length FileSize, advice Advice) Errno {
	errno := t.system.FDAdvise(ctx, fd, offset, length, advice)
	t.log("FDAdvise", errno, logrus.Fields{"fd": fd, "offset": offset, "length": length, "advice": advice})
	return errno
}

func (t *tracer) FDAllocate(ctx context.Context, fd FD, offset, length FileSize) Errno {
	errno := t.system.FDAllocate(ctx, fd, offset, length)
	t.log("FDAllocate", errno, logrus.Fields{"fd": fd, "offset": offset, "length": length})
	return errno
}

func (t *tracer) FDClose(ctx context.Context, fd FD) Errno {
	errno := t.system.FDClose(ctx, fd)
	t.log("FDClose", errno, logrus.Fields{"fd": fd})
	return errno
}

func (t *tracer) FDDataSync(ctx context.Context, fd FD) Errno {
	errno := t.system.FDDataSync(ctx, fd)
	t.log("FDDataSync", errno, logrus.Fields{"fd": fd})
	return errno
}

func (t *tracer) FDStatGet(ctx context.Context, fd FD) (FDStat, Errno) {
	fdstat, errno := t.system.FDStatGet(ctx, fd)
	t.log("FDStatGet", errno, logrus.Fields{"fd": fd, "fdstat": formatFDStat(fdstat)})
	return fdstat, errno
}

func (t *tracer) FDStatSetFlags(ctx context.Context, fd FD, flags FDFlags) Errno {
	errno := t.system.FDStatSetFlags(ctx, fd, flags)
	t.log("FDStatSetFlags", errno, logrus.Fields{"fd": fd, "flags": flags.String()})
	return errno
}

func (t *tracer) FDStatSetRights(ctx context.Context, fd FD, rightsBase, rightsInheriting Rights) Errno {
	errno := t.system.FDStatSetRights(ctx, fd, rightsBase, rightsInheriting)
	t.log("FDStatSetRights", errno, logrus.Fields{"fd": fd, "rightsBase": rightsBase.String(), "rightsInheriting": rightsInheriting.String()})
	return errno
}

func (t *tracer) FDFileStatGet(ctx context.Context, fd FD) (FileStat, Errno) {
	filestat, errno := t.system.FDFileStatGet(ctx, fd)
	t.log("FDFileStatGet", errno, logrus.Fields{"fd": fd, "filestat": filestat})
	return filestat, errno
}

func (t *tracer) FDFileStatSetSize(ctx context.Context, fd FD, size FileSize) Errno {
	errno := t.system.FDFileStatSetSize(ctx, fd, size)
	t.log("FDFileStatSetSize", errno, logrus.Fields{"fd": fd, "size": size})
	return errno
}

func (t *tracer) FDFileStatSetTimes(ctx context.Context, fd FD, accessTime, modifyTime Timestamp, flags FSTFlags) Errno {
	errno := t.system.FDFileStatSetTimes(ctx, fd, accessTime, modifyTime, flags)
	t.log("FDFileStatSetTimes", errno, logrus.Fields{"fd": fd, "accessTime": accessTime, "modifyTime": modifyTime, "flags": flags.String()})
	return errno
}

func (t *tracer) FDPread(ctx context.Context, fd FD, iovecs []IOVec, offset FileSize) (Size, Errno) {
	n, errno := t.system.FDPread(ctx, fd, iovecs, offset)
	t.log("FDPread", errno, logrus.Fields{"fd": fd, "offset": offset, "n": n, "data": t.formatIOVecs(iovecs, int(n))})
	return n, errno
}

func (t *tracer) FDPreStatGet(ctx context.Context, fd FD) (PreStat, Errno) {
	prestat, errno := t.system.FDPreStatGet(ctx, fd)
	t.log("FDPreStatGet", errno, logrus.Fields{"fd": fd, "type": prestat.Type.String(), "nameLength": prestat.PreStatDir.NameLength})
	return prestat, errno
}

func (t *tracer) FDPreStatDirName(ctx context.Context, fd FD) (string, Errno) {
	name, errno := t.system.FDPreStatDirName(ctx, fd)
	t.log("FDPreStatDirName", errno, logrus.Fields{"fd": fd, "name": name})
	return name, errno
}

func (t *tracer) FDPwrite(ctx context.Context, fd FD, iovecs []IOVec, offset FileSize) (Size, Errno) {
	n, errno := t.system.FDPwrite(ctx, fd, iovecs, offset)
	t.log("FDPwrite", errno, logrus.Fields{"fd": fd, "offset": offset, "n": n, "data": t.formatIOVecs(iovecs, -1)})
	return n, errno
}

func (t *tracer) FDRead(ctx context.Context, fd FD, iovecs []IOVec) (Size, Errno) {
	n, errno := t.system.FDRead(ctx, fd, iovecs)
	t.log("FDRead", errno, logrus.Fields{"fd": fd, "n": n, "data": t.formatIOVecs(iovecs, int(n))})
	return n, errno
}

func (t *tracer) FDReadDir(ctx context.Context, fd FD, entries []DirEntry, cookie DirCookie, bufferSizeBytes int) (int, Errno) {
	n, errno := t.system.FDReadDir(ctx, fd, entries, cookie, bufferSizeBytes)
	t.log("FDReadDir", errno, logrus.Fields{"fd": fd, "cookie": cookie, "entries": formatDirEntries(entries[:n])})
	return n, errno
}

func (t *tracer) FDRenumber(ctx context.Context, from, to FD) Errno {
	errno := t.system.FDRenumber(ctx, from, to)
	t.log("FDRenumber", errno, logrus.Fields{"from": from, "to": to})
	return errno
}

func (t *tracer) FDSeek(ctx context.Context, fd FD, offset FileDelta, whence Whence) (FileSize, Errno) {
	result, errno := t.system.FDSeek(ctx, fd, offset, whence)
	t.log("FDSeek", errno, logrus.Fields{"fd": fd, "offset": offset, "whence": whence.String(), "result": result})
	return result, errno
}

func (t *tracer) FDSync(ctx context.Context, fd FD) Errno {
	errno := t.system.FDSync(ctx, fd)
	t.log("FDSync", errno, logrus.Fields{"fd": fd})
	return errno
}

func (t *tracer) FDTell(ctx context.Context, fd FD) (FileSize, Errno) {
	fileSize, errno := t.system.FDTell(ctx, fd)
	t.log("FDTell", errno, logrus.Fields{"fd": fd, "offset": fileSize})
	return fileSize, errno
}

func (t *tracer) FDWrite(ctx context.Context, fd FD, iovecs []IOVec) (Size, Errno) {
	n, errno := t.system.FDWrite(ctx, fd, iovecs)
	t.log("FDWrite", errno, logrus.Fields{"fd": fd, "n": n, "data": t.formatIOVecs(iovecs, -1)})
	return n, errno
}

func (t *tracer) PathCreateDirectory(ctx context.Context, fd FD, path string) Errno {
	errno := t.system.PathCreateDirectory(ctx, fd, path)
	t.log("PathCreateDirectory", errno, logrus.Fields{"fd": fd, "path": path})
	return errno
}

func (t *tracer) PathFileStatGet(ctx context.Context, fd FD, lookupFlags LookupFlags, path string) (FileStat, Errno) {
	filestat, errno := t.system.PathFileStatGet(ctx, fd, lookupFlags, path)
	t.log("PathFileStatGet", errno, logrus.Fields{"fd": fd, "lookupFlags": lookupFlags.String(), "path": path, "filestat": filestat})
	return filestat, errno
}

func (t *tracer) PathFileStatSetTimes(ctx context.Context, fd FD, lookupFlags LookupFlags, path string, accessTime, modifyTime Timestamp, flags FSTFlags) Errno {
	errno := t.system.PathFileStatSetTimes(ctx, fd, lookupFlags, path, accessTime, modifyTime, flags)
	t.log("PathFileStatSetTimes", errno, logrus.Fields{"fd": fd, "path": path, "accessTime": accessTime, "modifyTime": modifyTime, "flags": flags.String()})
	return errno
}

func (t *tracer) PathLink(ctx context.Context, oldFD FD, oldFlags LookupFlags, oldPath string, newFD FD, newPath string) Errno {
	errno := t.system.PathLink(ctx, oldFD, oldFlags, oldPath, newFD, newPath)
	t.log("PathLink", errno, logrus.Fields{"oldFD": oldFD, "oldPath": oldPath, "newFD": newFD, "newPath": newPath})
	return errno
}

func (t *tracer) PathOpen(ctx context.Context, fd FD, dirFlags LookupFlags, path string, openFlags OpenFlags, rightsBase, rightsInheriting Rights, fdFlags FDFlags) (FD, Errno) {
	newFD, errno := t.system.PathOpen(ctx, fd, dirFlags, path, openFlags, rightsBase, rightsInheriting, fdFlags)
	t.log("PathOpen", errno, logrus.Fields{
		"fd": fd, "path": path, "openFlags": openFlags.String(),
		"rightsBase": rightsBase.String(), "rightsInheriting": rightsInheriting.String(),
		"newFD": newFD,
	})
	return newFD, errno
}

func (t *tracer) PathReadLink(ctx context.Context, fd FD, path string, buffer []byte) (int, Errno) {
	n, errno := t.system.PathReadLink(ctx, fd, path, buffer)
	t.log("PathReadLink", errno, logrus.Fields{"fd": fd, "path": path, "target": t.formatBytes(buffer[:n])})
	return n, errno
}

func (t *tracer) PathRemoveDirectory(ctx context.Context, fd FD, path string) Errno {
	errno := t.system.PathRemoveDirectory(ctx, fd, path)
	t.log("PathRemoveDirectory", errno, logrus.Fields{"fd": fd, "path": path})
	return errno
}

func (t *tracer) PathRename(ctx context.Context, fd FD, oldPath string, newFD FD, newPath string) Errno {
	errno := t.system.PathRename(ctx, fd, oldPath, newFD, newPath)
	t.log("PathRename", errno, logrus.Fields{"fd": fd, "oldPath": oldPath, "newFD": newFD, "newPath": newPath})
	return errno
}

func (t *tracer) PathSymlink(ctx context.Context, oldPath string, fd FD, newPath string) Errno {
	errno := t.system.PathSymlink(ctx, oldPath, fd, newPath)
	t.log("PathSymlink", errno, logrus.Fields{"oldPath": oldPath, "fd": fd, "newPath": newPath})
	return errno
}

func (t *tracer) PathUnlinkFile(ctx context.Context, fd FD, path string) Errno {
	errno := t.system.PathUnlinkFile(ctx, fd, path)
	t.log("PathUnlinkFile", errno, logrus.Fields{"fd": fd, "path": path})
	return errno
}

func (t *tracer) PollOneOff(ctx context.Context, subscriptions []Subscription, events []Event) (int, Errno) {
	n, errno := t.system.PollOneOff(ctx, subscriptions, events)
	fields := logrus.Fields{"subscriptions": formatSubscriptions(subscriptions)}
	if errno == ESUCCESS {
		fields["events"] = formatEvents(events[:n])
	}
	t.log("PollOneOff", errno, fields)
	return n, errno
}

func (t *tracer) ProcExit(ctx context.Context, exitCode ExitCode) Errno {
	errno := t.system.ProcExit(ctx, exitCode)
	t.log("ProcExit", errno, logrus.Fields{"exitCode": exitCode})
	return errno
}

func (t *tracer) ProcRaise(ctx context.Context, signal Signal) Errno {
	errno := t.system.ProcRaise(ctx, signal)
	t.log("ProcRaise", errno, logrus.Fields{"signal": signal})
	return errno
}

func (t *tracer) SchedYield(ctx context.Context) Errno {
	errno := t.system.SchedYield(ctx)
	t.log("SchedYield", errno, nil)
	return errno
}

func (t *tracer) RandomGet(ctx context.Context, b []byte) Errno {
	errno := t.system.RandomGet(ctx, b)
	t.log("RandomGet", errno, logrus.Fields{"n": len(b)})
	return errno
}

func (t *tracer) Close(ctx context.Context) error {
	err := t.system.Close(ctx)
	fields := logrus.Fields{"call": "Close"}
	if err != nil {
		t.logger.WithFields(fields).WithError(err).Debug("wasi syscall failed")
	} else {
		t.logger.WithFields(fields).Debug("wasi syscall")
	}
	return err
}

func formatFDStat(s FDStat) string {
	var b strings.Builder
	b.WriteString(s.FileType.String())
	if s.Flags != 0 {
		b.WriteString(" flags=" + s.Flags.String())
	}
	b.WriteString(" rightsBase=" + s.RightsBase.String())
	if s.RightsInheriting != 0 {
		b.WriteString(" rightsInheriting=" + s.RightsInheriting.String())
	}
	return b.String()
}

func formatSubscriptions(subs []Subscription) []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		if s.EventType == ClockEvent {
			c := s.GetClock()
			out[i] = "ClockEvent id=" + c.ID.String() + " timeout=" + itoa(int(c.Timeout))
		} else {
			fdrw := s.GetFDReadWrite()
			out[i] = s.EventType.String() + " fd=" + itoa(int(fdrw.FD))
		}
	}
	return out
}

func formatEvents(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		if e.Errno != ESUCCESS {
			out[i] = e.EventType.String() + " errno=" + e.Errno.Name()
		} else {
			out[i] = e.EventType.String() + " nbytes=" + itoa(int(e.FDReadWrite.NBytes))
		}
	}
	return out
}

func formatDirEntries(entries []DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = string(e.Name) + ":" + e.Type.String()
	}
	return out
}

func (t *tracer) formatIOVecs(iovecs []IOVec, size int) []string {
	out := make([]string, len(iovecs))
	for i, iovec := range iovecs {
		switch {
		case size < 0:
			out[i] = t.formatBytes(iovec)
		case size > 0 && len(iovec) > size:
			out[i] = t.formatBytes(iovec[:size])
			size = 0
		case size > 0:
			out[i] = t.formatBytes(iovec)
			size -= len(iovec)
		default:
			out[i] = fmtByteCount(len(iovec))
		}
	}
	return out
}

func fmtByteCount(n int) string {
	return "[" + itoa(n) + "]byte"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (t *tracer) formatBytes(b []byte) string {
	trunc := b
	truncated := false
	if t.stringSize >= 0 && len(b) > t.stringSize {
		trunc = trunc[:t.stringSize]
		truncated = true
	}

	var sb strings.Builder
	sb.WriteByte('"')
	for _, c := range trunc {
		switch {
		case c == '"' || c == '\\':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\t':
			sb.WriteString(`\t`)
		case c < 32 || c >= 127:
			sb.WriteString("\\x")
			const hex = "0123456789abcdef"
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&0xf])
		default:
			sb.WriteByte(c)
		}
	}
	sb.WriteByte('"')
	if truncated {
		sb.WriteString("...")
	}
	return sb.String()
}
