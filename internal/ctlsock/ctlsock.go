// Package ctlsock implements the collector side of the control-channel
// contract described in spec.md §4.6: a length-prefixed request/response
// protocol over a unix-domain socket to a privileged monitor that owns
// the listening sockets and the log file path. The monitor itself is
// out of scope for this core; this package only speaks its client half.
package ctlsock

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// msgType tags each control-channel envelope.
type msgType uint32

const (
	msgOpenLog       msgType = 1
	msgOpenLogReply  msgType = 2
	msgReconfigure   msgType = 3
	msgReconfigReply msgType = 4
)

// Client is a connected handle to the privileged monitor.
type Client struct {
	conn *net.UnixConn
	r    *bufio.Reader
}

// Dial connects to the monitor's control socket at path.
func Dial(path string) (*Client, error) {
	addr, err := net.ResolveUnixAddr("unix", path)
	if err != nil {
		return nil, fmt.Errorf("ctlsock: resolve %s: %w", path, err)
	}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("ctlsock: dial %s: %w", path, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// writeEnvelope sends a length-prefixed (type, payload) message.
func (c *Client) writeEnvelope(t msgType, payload []byte) error {
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(t))
	binary.BigEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	if _, err := c.conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) > 0 {
		_, err := c.conn.Write(payload)
		return err
	}
	return nil
}

func (c *Client) readEnvelope() (msgType, []byte, error) {
	var hdr [8]byte
	if _, err := ioFullRead(c.r, hdr[:]); err != nil {
		return 0, nil, err
	}
	t := msgType(binary.BigEndian.Uint32(hdr[0:4]))
	n := binary.BigEndian.Uint32(hdr[4:8])
	payload := make([]byte, n)
	if n > 0 {
		if _, err := ioFullRead(c.r, payload); err != nil {
			return 0, nil, err
		}
	}
	return t, payload, nil
}

func ioFullRead(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// OpenLog requests the configured log path from the monitor and returns
// the file descriptor passed back as unix.Rights ancillary data, per
// spec.md §4.6's "open_log → fd" exchange.
func (c *Client) OpenLog() (int, error) {
	if err := c.writeEnvelope(msgOpenLog, nil); err != nil {
		return -1, fmt.Errorf("ctlsock: send open_log: %w", err)
	}

	oob := make([]byte, unix.CmsgSpace(4))
	buf := make([]byte, 8)
	n, oobn, _, _, err := c.conn.ReadMsgUnix(buf, oob)
	if err != nil {
		return -1, fmt.Errorf("ctlsock: recv open_log reply: %w", err)
	}
	if n < 8 {
		return -1, fmt.Errorf("ctlsock: short open_log reply")
	}
	if msgType(binary.BigEndian.Uint32(buf[0:4])) != msgOpenLogReply {
		return -1, fmt.Errorf("ctlsock: unexpected reply type")
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return -1, fmt.Errorf("ctlsock: parse ancillary data: %w", err)
	}
	for _, scm := range scms {
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			continue
		}
		if len(fds) > 0 {
			return fds[0], nil
		}
	}
	return -1, fmt.Errorf("ctlsock: no file descriptor in open_log reply")
}

// Reconfigure asks the monitor to re-read the configuration file and
// stream back the updated document, per spec.md §4.6.
func (c *Client) Reconfigure() ([]byte, error) {
	if err := c.writeEnvelope(msgReconfigure, nil); err != nil {
		return nil, fmt.Errorf("ctlsock: send reconfigure: %w", err)
	}
	t, payload, err := c.readEnvelope()
	if err != nil {
		return nil, fmt.Errorf("ctlsock: recv reconfigure reply: %w", err)
	}
	if t != msgReconfigReply {
		return nil, fmt.Errorf("ctlsock: unexpected reply type %d", t)
	}
	return payload, nil
}

// Fd returns the underlying descriptor, for inclusion in an event loop's
// poll/select set; readability (or error) signals the monitor exited
// (spec.md §4.5/§7 "control-channel EOF").
func (c *Client) Fd() (uintptr, error) {
	raw, err := c.conn.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd uintptr
	ctrlErr := raw.Control(func(s uintptr) { fd = s })
	if ctrlErr != nil {
		return 0, ctrlErr
	}
	return fd, nil
}

// Close closes the control channel.
func (c *Client) Close() error {
	return c.conn.Close()
}
