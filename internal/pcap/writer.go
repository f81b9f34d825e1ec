// Package pcap mirrors accepted flow records into rotating pcap files,
// for operators who want to read the flow log with Wireshark/tcpdump
// instead of a flowd-specific tool (see synth.go for how a flow.Record
// becomes a frame).
package pcap

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/pavelkim/flowd/internal/logger"
)

// Writer appends synthesized frames to a size/backup-count-rotated pcap
// file.
type Writer struct {
	filename   string
	maxSizeMB  int
	maxBackups int
	logger     *logger.Logger

	mu           sync.Mutex
	file         *os.File
	writer       *pcapgo.Writer
	bytesWritten int64
}

// NewWriter creates the pcap file (and any missing parent rotation
// state) and writes its header. log receives a warning whenever backup
// rotation can't fully complete (a stale .N file it couldn't remove or
// rename); that never blocks the writer from continuing with a fresh
// current file.
func NewWriter(filename string, maxSizeMB, maxBackups int, log *logger.Logger) (*Writer, error) {
	w := &Writer{
		filename:   filename,
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
		logger:     log,
	}

	if err := w.rotate(); err != nil {
		return nil, err
	}

	return w, nil
}

// WritePacket appends one already-serialized frame, rotating first if
// the current file has grown past maxSizeMB (a maxSizeMB of 0 disables
// size-based rotation).
func (w *Writer) WritePacket(data []byte, timestamp time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSizeMB > 0 && w.bytesWritten > int64(w.maxSizeMB)*1024*1024 {
		if err := w.rotate(); err != nil {
			return fmt.Errorf("pcap: rotate: %w", err)
		}
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     timestamp,
		CaptureLength: len(data),
		Length:        len(data),
	}
	if err := w.writer.WritePacket(ci, data); err != nil {
		return fmt.Errorf("pcap: write packet: %w", err)
	}

	w.bytesWritten += int64(len(data))
	return nil
}

// Close closes the current pcap file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// rotate ages out numbered backups (oldest beyond maxBackups is
// deleted, the rest shift up by one), moves the current file to .1, and
// opens a fresh current file with a pcap header. With maxBackups 0 no
// backup is kept: the current file is recreated empty. Backup housekeeping
// failures are logged and otherwise ignored: losing a stale backup must
// never stop new packets from being captured.
func (w *Writer) rotate() error {
	if w.file != nil {
		w.file.Close()
	}

	if w.maxBackups > 0 {
		for i := w.maxBackups - 1; i >= 0; i-- {
			oldName := w.getBackupName(i)
			if _, err := os.Stat(oldName); err != nil {
				continue
			}
			if i == w.maxBackups-1 {
				if err := os.Remove(oldName); err != nil {
					w.logWarn("pcap: failed to remove oldest backup", err, oldName)
				}
				continue
			}
			newName := w.getBackupName(i + 1)
			if err := os.Rename(oldName, newName); err != nil {
				w.logWarn("pcap: failed to rotate backup", err, oldName)
			}
		}

		if _, err := os.Stat(w.filename); err == nil {
			if err := os.Rename(w.filename, w.getBackupName(0)); err != nil {
				w.logWarn("pcap: failed to move current file to backup", err, w.filename)
			}
		}
	}

	f, err := os.Create(w.filename)
	if err != nil {
		return fmt.Errorf("pcap: create %s: %w", w.filename, err)
	}

	writer := pcapgo.NewWriter(f)
	if err := writer.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		f.Close()
		return fmt.Errorf("pcap: write file header: %w", err)
	}

	w.file = f
	w.writer = writer
	w.bytesWritten = 0

	return nil
}

func (w *Writer) logWarn(msg string, err error, path string) {
	if w.logger == nil {
		return
	}
	w.logger.Warn(msg, "path", path, "error", err)
}

// getBackupName returns the rotated filename for the given backup index
// (0 is the most recent backup, filename+".1").
func (w *Writer) getBackupName(index int) string {
	if index == 0 {
		return w.filename + ".1"
	}
	return fmt.Sprintf("%s.%d", w.filename, index+1)
}
