package capturelog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"firestige.xyz/telemcap/internal/core"
)

// MaxLineSize bounds a single log line. A 65535-byte datagram encodes to
// roughly 87 KiB, so this leaves ample headroom.
const MaxLineSize = 1 << 20

// ErrorFunc receives a decode failure for one line; the line is skipped.
type ErrorFunc func(err *core.RecordError)

// ReadEntries reads a capture log end to end. Blank lines are ignored and a
// line that fails to decode is handed to onError and skipped, so a
// crash-truncated tail never aborts the read. A line longer than
// MaxLineSize is discarded the same way. Only I/O errors from r are
// returned.
func ReadEntries(r io.Reader, onError ErrorFunc) ([]Entry, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	var entries []Entry
	var buf []byte
	lineNo := 0
	for {
		line, oversized, err := readLine(br, buf[:0])
		buf = line
		if err != nil && !errors.Is(err, io.EOF) {
			return entries, fmt.Errorf("read capture log at line %d: %w", lineNo+1, err)
		}
		if errors.Is(err, io.EOF) && len(line) == 0 && !oversized {
			return entries, nil
		}
		lineNo++

		switch {
		case oversized:
			if onError != nil {
				onError(&core.RecordError{Line: lineNo,
					Err: fmt.Errorf("%w: line exceeds %d bytes", core.ErrMalformedRecord, MaxLineSize)})
			}
		case len(bytes.TrimSpace(line)) == 0:
		default:
			e, decErr := DecodeEntry(line)
			if decErr != nil {
				if onError != nil {
					onError(&core.RecordError{Line: lineNo, Err: decErr})
				}
				break
			}
			entries = append(entries, e)
		}

		if err != nil {
			return entries, nil
		}
	}
}

// readLine appends the next line, without its terminator, to dst. Bytes
// past MaxLineSize are consumed but not kept, and oversized is set.
func readLine(br *bufio.Reader, dst []byte) (line []byte, oversized bool, err error) {
	for {
		var chunk []byte
		chunk, err = br.ReadSlice('\n')
		if len(dst)+len(chunk) > MaxLineSize+1 {
			oversized = true
		} else if !oversized {
			dst = append(dst, chunk...)
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		dst = bytes.TrimSuffix(dst, []byte("\n"))
		dst = bytes.TrimSuffix(dst, []byte("\r"))
		return dst, oversized, err
	}
}

// ReadFile opens path and reads all entries from it.
func ReadFile(path string, onError ErrorFunc) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture log: %w", err)
	}
	defer f.Close()

	return ReadEntries(f, onError)
}

// SortByTimestamp orders entries by timestamp, keeping file order for ties.
func SortByTimestamp(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
}
