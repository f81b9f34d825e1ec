package store

import (
	"fmt"
	"os"

	"github.com/pavelkim/flowd/internal/flow"
)

// Writer appends canonical flow records to an open log file. It owns no
// file-lifecycle concerns beyond the write itself; OpenForAppend (or the
// control-channel open_log exchange) is responsible for the header.
type Writer struct {
	f *os.File
}

// NewWriter wraps an already-opened, header-checked log file descriptor.
func NewWriter(f *os.File) *Writer {
	return &Writer{f: f}
}

// WriteRecord buffers r's fixed-order encoding and issues one Write call.
// Per spec.md §4.3/§7, a write failure here is fatal to the caller: the
// log is the collector's entire output, so there is no partial-success
// case worth distinguishing.
func (w *Writer) WriteRecord(r *flow.Record) error {
	buf := Encode(r)
	n, err := w.f.Write(buf)
	if err != nil {
		return fmt.Errorf("store: write record: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("store: short record write: %d of %d bytes", n, len(buf))
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	return w.f.Close()
}
