package collector

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

const (
	testMsgOpenLog       = 1
	testMsgOpenLogReply  = 2
	testMsgReconfigure   = 3
	testMsgReconfigReply = 4
)

// fakeMonitor stands in for the privileged monitor process on the other
// end of ctlsock.Client: it answers one open_log (passing logFile's fd)
// and any number of reconfigure requests (replaying reconfigureDoc),
// enough for Collector to exercise both exchanges.
func fakeMonitor(t *testing.T, sockPath string, logFile *os.File, reconfigureDoc []byte) {
	t.Helper()
	ln, err := net.Listen("unix", sockPath)
	require.NoError(t, err)

	go func() {
		defer ln.Close()
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		uconn := conn.(*net.UnixConn)

		for {
			var hdr [8]byte
			if _, err := readFullTest(uconn, hdr[:]); err != nil {
				return
			}
			reqType := binary.BigEndian.Uint32(hdr[0:4])
			n := binary.BigEndian.Uint32(hdr[4:8])
			if n > 0 {
				payload := make([]byte, n)
				if _, err := readFullTest(uconn, payload); err != nil {
					return
				}
			}

			switch reqType {
			case testMsgOpenLog:
				var reply [8]byte
				binary.BigEndian.PutUint32(reply[0:4], testMsgOpenLogReply)
				oob := unix.UnixRights(int(logFile.Fd()))
				if _, _, err := uconn.WriteMsgUnix(reply[:], oob, nil); err != nil {
					return
				}

			case testMsgReconfigure:
				var reply [8]byte
				binary.BigEndian.PutUint32(reply[0:4], testMsgReconfigReply)
				binary.BigEndian.PutUint32(reply[4:8], uint32(len(reconfigureDoc)))
				if _, err := uconn.Write(reply[:]); err != nil {
					return
				}
				if len(reconfigureDoc) > 0 {
					if _, err := uconn.Write(reconfigureDoc); err != nil {
						return
					}
				}
			}
		}
	}()
}

func readFullTest(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestCollectorOpensLogThroughCtlSock exercises the privilege-separated
// path: when CtlSockPath is set, New/reopenLog fetch the log fd from the
// control channel instead of opening LogPath directly.
func TestCollectorOpensLogThroughCtlSock(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctl.sock")
	logPath := filepath.Join(dir, "flows.log")

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o640)
	require.NoError(t, err)
	defer logFile.Close()

	fakeMonitor(t, sockPath, logFile, nil)

	c, err := New(Config{
		ListenAddrs: []string{"127.0.0.1:0"},
		LogPath:     logPath,
		CtlSockPath: sockPath,
		MaxPeers:    16,
		Logger:      testLogger(t),
	})
	require.NoError(t, err)
	defer c.closeConns()

	require.NotNil(t, c.ctl)
	require.NotNil(t, c.writer)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(raw), 16) // store.HeaderSize, written via the passed fd
}

// TestCollectorReconfigureRebuildsRules exercises the SIGHUP path: a
// reconfigure reply over the control channel replaces the active rule
// list with freshly compiled rules.
func TestCollectorReconfigureRebuildsRules(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "ctl.sock")
	logPath := filepath.Join(dir, "flows.log")

	logFile, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE, 0o640)
	require.NoError(t, err)
	defer logFile.Close()

	doc := []byte("store:\n  path: " + logPath + "\nlisten:\n  - addr: \"0.0.0.0\"\n    port: 2055\n" +
		"filter:\n  - predicate: protocol\n    value: icmp\n    action: discard\n")
	fakeMonitor(t, sockPath, logFile, doc)

	c, err := New(Config{
		ListenAddrs: []string{"127.0.0.1:0"},
		LogPath:     logPath,
		CtlSockPath: sockPath,
		MaxPeers:    16,
		Logger:      testLogger(t),
	})
	require.NoError(t, err)
	defer c.closeConns()

	require.Empty(t, c.rules)

	require.NoError(t, c.reconfigure())
	require.Len(t, c.rules, 1)
	assert.EqualValues(t, "protocol", c.rules[0].Predicate)
}
