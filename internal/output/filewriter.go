// Package output adapts accepted flow records into a secondary
// JSON-lines sink, separate from the canonical binary log in
// internal/store, for operators who want a grep-able tail -f view.
package output

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pavelkim/flowd/internal/flow"
)

// FileWriter writes one JSON object per accepted flow record.
type FileWriter struct {
	logger  *logrus.Logger
	enabled bool
}

// NewFileWriter creates a JSON-lines flow record sink. A disabled or
// path-less writer is a harmless no-op, so callers never need to check
// the config flag themselves.
func NewFileWriter(enabled bool, outputFile string) (*FileWriter, error) {
	if !enabled || outputFile == "" {
		return &FileWriter{enabled: false}, nil
	}

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	})

	file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	log.SetOutput(file)
	log.SetLevel(logrus.InfoLevel)

	return &FileWriter{logger: log, enabled: true}, nil
}

// WriteRecord writes r as one JSON line, if enabled.
func (w *FileWriter) WriteRecord(r *flow.Record) {
	if !w.enabled {
		return
	}

	fields := logrus.Fields{
		"protocol":  r.Protocol,
		"src_addr":  r.Src.String(),
		"dst_addr":  r.Dst.String(),
		"src_port":  r.SrcPort,
		"dst_port":  r.DstPort,
		"packets":   r.Packets,
		"octets":    r.Octets,
		"tag":       r.Tag,
		"recv_time": r.RecvTime,
	}
	if r.Has(flow.FieldProtoFlags) && r.TCPFlags != 0 {
		fields["tcp_flags"] = r.TCPFlags
	}

	w.logger.WithFields(fields).Info("flow")
}

// Close is a no-op; the underlying file is released when the process
// exits. Kept for symmetry with pcap.Writer's Close.
func (w *FileWriter) Close() error {
	return nil
}
