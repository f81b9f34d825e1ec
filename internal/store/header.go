// Package store implements the append-only flow log: a fixed header
// followed by a sequence of canonical flow records, per spec.md §4.3/§6.
package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

// Magic identifies a flowd log file. Version is the on-disk record
// format version; bumping it is a breaking change to Decode.
const (
	Magic         = "FLOD"
	FormatVersion = uint32(1)
	HeaderSize    = 16 // magic(4) + version(4) + reserved(8)
)

// PutHeader writes the magic + format version + reserved padding to f,
// which must be positioned at offset 0. Called exactly once per file,
// on creation.
func PutHeader(f *os.File) error {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic)
	binary.BigEndian.PutUint32(buf[4:8], FormatVersion)
	// buf[8:16] reserved, left zero.
	n, err := f.WriteAt(buf, 0)
	if err != nil {
		return fmt.Errorf("store: write header: %w", err)
	}
	if n != HeaderSize {
		return fmt.Errorf("store: short header write: %d of %d bytes", n, HeaderSize)
	}
	return nil
}

// CheckHeader validates the magic and format version of an existing,
// non-empty log file. It does not move the file's current offset.
func CheckHeader(f *os.File) error {
	buf := make([]byte, HeaderSize)
	n, err := f.ReadAt(buf, 0)
	if err != nil {
		return fmt.Errorf("store: read header: %w", err)
	}
	if n != HeaderSize {
		return fmt.Errorf("store: short header read: %d of %d bytes", n, HeaderSize)
	}
	if !bytes.Equal(buf[0:4], []byte(Magic)) {
		return fmt.Errorf("store: bad magic %q, want %q", buf[0:4], Magic)
	}
	if got := binary.BigEndian.Uint32(buf[4:8]); got != FormatVersion {
		return fmt.Errorf("store: unsupported log format version %d, want %d", got, FormatVersion)
	}
	return nil
}

// OpenForAppend opens path for append, writing the header if the file is
// new/empty or validating it otherwise, then seeking to end. This stands
// in for the control-channel open_log exchange of spec.md §4.6 when no
// ctlsock.Client is configured (e.g. in tests and the standalone mode
// described in SPEC_FULL.md §7, where the collector owns its log path
// directly instead of receiving an fd from a monitor).
func OpenForAppend(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	return PrepareFile(f)
}

// PrepareFile writes the header to f if it is new/empty, validates the
// header otherwise, then seeks to end. Used both by OpenForAppend (a
// freshly os.OpenFile'd path) and by a *os.File built from a descriptor
// handed back over the control channel via ctlsock.Client.OpenLog,
// since both need identical header handling before the first append.
func PrepareFile(f *os.File) (*os.File, error) {
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("store: stat %s: %w", f.Name(), err)
	}

	if info.Size() == 0 {
		if err := PutHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := CheckHeader(f); err != nil {
			f.Close()
			return nil, err
		}
	}

	if _, err := f.Seek(0, os.SEEK_END); err != nil {
		f.Close()
		return nil, fmt.Errorf("store: seek end %s: %w", f.Name(), err)
	}
	return f, nil
}
