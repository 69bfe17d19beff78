package capturelog

import (
	"errors"
	"fmt"
	"io"
	"os"

	"firestige.xyz/telemcap/internal/core"
)

// DefaultMaxPending caps bytes held in memory while flushes keep failing.
const DefaultMaxPending = 16 << 20

// ErrWriterClosed is returned by operations on a closed Writer.
var ErrWriterClosed = errors.New("capturelog: writer closed")

// File is the appendable destination of a capture log.
type File interface {
	io.Writer
	Sync() error
	Close() error
}

// Writer buffers encoded records in memory and pushes them to a File on
// Flush. Unlike bufio.Writer a failed flush is not sticky: bytes the OS did
// not accept stay buffered and are retried by the next Flush, so a
// transient disk error degrades durability without ending the capture.
type Writer struct {
	file       File
	buf        []byte
	maxPending int
	closed     bool

	records int64
	flushed int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithMaxPending sets the in-memory cap in bytes; Append fails once it is
// reached.
func WithMaxPending(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.maxPending = n
		}
	}
}

// NewWriter wraps f. The Writer owns f and closes it on Close.
func NewWriter(f File, opts ...Option) *Writer {
	w := &Writer{
		file:       f,
		maxPending: DefaultMaxPending,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OpenAppend opens or creates the log at path for appending.
func OpenAppend(path string, opts ...Option) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open capture log %s: %w", path, err)
	}
	return NewWriter(f, opts...), nil
}

// Append encodes rec and buffers it as one complete line. Either the whole
// line is buffered or nothing is and an error is returned.
func (w *Writer) Append(rec core.PacketRecord) error {
	if w.closed {
		return ErrWriterClosed
	}

	line, err := Encode(rec)
	if err != nil {
		return err
	}
	if len(w.buf)+len(line)+1 > w.maxPending {
		return fmt.Errorf("%w: %d bytes pending after failed flushes, record dropped",
			core.ErrDurability, len(w.buf))
	}

	w.buf = append(w.buf, line...)
	w.buf = append(w.buf, '\n')
	w.records++
	return nil
}

// Flush writes buffered bytes to the file. On failure the unwritten tail
// is kept for the next attempt.
func (w *Writer) Flush() error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(w.buf) == 0 {
		return nil
	}

	n, err := w.file.Write(w.buf)
	if n > 0 {
		w.flushed += int64(n)
		rest := copy(w.buf, w.buf[n:])
		w.buf = w.buf[:rest]
	}
	if err == nil && len(w.buf) > 0 {
		err = io.ErrShortWrite
	}
	if err != nil {
		return fmt.Errorf("%w: flush: %w", core.ErrDurability, err)
	}
	return nil
}

// Sync flushes and then forces the file to stable storage. The disk sync
// is attempted even when the flush fails, so whatever reached the OS is
// still made durable.
func (w *Writer) Sync() error {
	if w.closed {
		return ErrWriterClosed
	}

	flushErr := w.Flush()
	var syncErr error
	if err := w.file.Sync(); err != nil {
		syncErr = fmt.Errorf("%w: sync: %w", core.ErrDurability, err)
	}
	return errors.Join(flushErr, syncErr)
}

// Close releases the file. It does not flush; callers decide the final
// durability steps. Close is idempotent.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}

// Buffered returns the number of bytes waiting for a flush.
func (w *Writer) Buffered() int { return len(w.buf) }

// Records returns how many records were accepted by Append.
func (w *Writer) Records() int64 { return w.records }

// BytesFlushed returns how many bytes reached the file.
func (w *Writer) BytesFlushed() int64 { return w.flushed }
