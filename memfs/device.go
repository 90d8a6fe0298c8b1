package memfs

import (
	"io"
	"sync"
)

// deviceIO bridges a kindDevice inode's wrapped host io.Reader/io.Writer to
// the non-blocking semantics WASI's FDFlags.NonBlock and poll_oneoff expect.
// Go gives no way to ask an arbitrary io.Reader "would this block" without
// consuming it, so each side runs its blocking call on a background
// goroutine and hands completed results back through a mutex-guarded
// buffer; Poll (wasi.Pollable) and the non-blocking read/write paths just
// inspect that buffer instead of calling into the host stream directly.
type deviceIO struct {
	reader *asyncReader
	writer *asyncWriter
}

func newDeviceIO(r io.Reader, w io.Writer) *deviceIO {
	d := &deviceIO{}
	if r != nil {
		d.reader = newAsyncReader(r)
	}
	if w != nil {
		d.writer = newAsyncWriter(w)
	}
	return d
}

func (d *deviceIO) poll() (readable, writable bool) {
	readable = d.reader == nil || d.reader.ready()
	writable = d.writer == nil || d.writer.ready()
	return
}

func (d *deviceIO) close() {
	if d.reader != nil {
		d.reader.close()
	}
	if d.writer != nil {
		d.writer.close()
	}
}

type asyncReader struct {
	mu   sync.Mutex
	cond *sync.Cond
	r    io.Reader
	buf  []byte
	err  error
	once sync.Once
}

func newAsyncReader(r io.Reader) *asyncReader {
	a := &asyncReader{r: r}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *asyncReader) start() {
	a.once.Do(func() {
		go func() {
			tmp := make([]byte, 4096)
			for {
				n, err := a.r.Read(tmp)
				a.mu.Lock()
				if n > 0 {
					a.buf = append(a.buf, tmp[:n]...)
				}
				if err != nil && a.err == nil {
					a.err = err
				}
				a.cond.Broadcast()
				a.mu.Unlock()
				if err != nil {
					return
				}
			}
		}()
	})
}

// ready reports whether read would return data or an error without
// blocking on the underlying stream.
func (a *asyncReader) ready() bool {
	a.start()
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buf) > 0 || a.err != nil
}

// read drains buffered bytes into p. When block is true and nothing is
// buffered yet, it waits for the background goroutine to deliver some (or
// an error); otherwise it returns (0, nil, false) immediately to signal
// "not ready yet", which the caller maps to EAGAIN.
func (a *asyncReader) read(p []byte, block bool) (n int, err error, ready bool) {
	a.start()
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.buf) == 0 && a.err == nil && block {
		a.cond.Wait()
	}
	if len(a.buf) == 0 {
		if a.err != nil {
			return 0, a.err, true
		}
		return 0, nil, false
	}
	n = copy(p, a.buf)
	a.buf = a.buf[n:]
	return n, nil, true
}

func (a *asyncReader) close() {
	if c, ok := a.r.(io.Closer); ok {
		c.Close()
	}
}

// asyncWriter accepts a chunk of bytes and hands it to the underlying
// stream on a background goroutine, so FDWrite never blocks on delivery:
// the teacher's systems/unix can rely on the kernel's own write buffering
// for this, but an arbitrary io.Writer (an io.Pipe, notably, used heavily
// by wasitest) has none of its own.
type asyncWriter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	w       io.Writer
	writing bool
	err     error
}

func newAsyncWriter(w io.Writer) *asyncWriter {
	a := &asyncWriter{w: w}
	a.cond = sync.NewCond(&a.mu)
	return a
}

// ready reports whether a write submitted now would be accepted
// immediately: no write is currently in flight and none has failed yet.
func (a *asyncWriter) ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.writing && a.err == nil
}

// write submits p to the background writer. If block is true it waits for
// any in-flight write to finish first; otherwise it returns (0, nil,
// false) immediately when a write is already in flight, which the caller
// maps to EAGAIN.
func (a *asyncWriter) write(p []byte, block bool) (n int, err error, ready bool) {
	a.mu.Lock()
	for a.writing && block {
		a.cond.Wait()
	}
	if a.writing {
		a.mu.Unlock()
		return 0, nil, false
	}
	if a.err != nil {
		err := a.err
		a.mu.Unlock()
		return 0, err, true
	}
	chunk := append([]byte(nil), p...)
	a.writing = true
	a.mu.Unlock()

	go func() {
		_, werr := a.w.Write(chunk)
		a.mu.Lock()
		a.writing = false
		if werr != nil && a.err == nil {
			a.err = werr
		}
		a.cond.Broadcast()
		a.mu.Unlock()
	}()

	return len(p), nil, true
}

func (a *asyncWriter) close() {
	// Let an in-flight write reach the stream before closing it.
	a.mu.Lock()
	for a.writing {
		a.cond.Wait()
	}
	a.mu.Unlock()
	if c, ok := a.w.(io.Closer); ok {
		c.Close()
	}
}
