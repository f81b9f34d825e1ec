// Package collector implements the event loop described in spec.md
// §4.5: multiplex listening sockets and signals, decode datagrams into
// canonical flow records, filter them, and append survivors to the log.
//
// The control channel is not part of the select loop: it is used only
// synchronously by reopenLog and reconfigure, so a monitor that has gone
// away is noticed as an error from the next such exchange, which ends
// Run with that error.
//
// The original's poll(2) loop over sig_atomic_t flags is rendered as a
// single goroutine select over one channel per signal and one channel
// fed by per-socket reader goroutines — signals still do no work beyond
// delivery, and all peer-table/log-writer mutation happens only in the
// select loop's goroutine, matching the "no shared mutable state across
// threads" model of spec.md §5.
package collector

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pavelkim/flowd/internal/config"
	"github.com/pavelkim/flowd/internal/ctlsock"
	"github.com/pavelkim/flowd/internal/filter"
	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/logger"
	"github.com/pavelkim/flowd/internal/output"
	"github.com/pavelkim/flowd/internal/pcap"
	"github.com/pavelkim/flowd/internal/peers"
	"github.com/pavelkim/flowd/internal/store"
	"github.com/pavelkim/flowd/internal/webhook"
	"github.com/pavelkim/flowd/internal/wire"
	"github.com/pavelkim/flowd/internal/xaddr"
)

const recvBufferSize = 2048 // spec.md §6: sufficient for v1/v5/v7

// datagram is one received UDP packet queued for processing by the
// single collector goroutine. localAddr is the kernel-reported original
// destination address when the platform and socket family support it
// (nil otherwise); it is diagnostic only.
type datagram struct {
	data      []byte
	source    xaddr.Addr
	localAddr net.IP
	recvTime  time.Time
}

// listener pairs one listening UDP socket with its (optional)
// destination-address-enriched reader.
type listener struct {
	conn *net.UDPConn
	dst  dstReader
}

// Config wires a Collector's dependencies together.
type Config struct {
	ListenAddrs []string // host:port pairs; opened directly in this standalone build
	LogPath     string
	CtlSockPath string // privileged monitor's control socket; empty means standalone mode
	MaxPeers    int
	Rules       filter.RuleList

	JSONOut *output.FileWriter
	PCAPOut *pcap.Writer
	Webhook *webhook.Forwarder

	Logger *logger.Logger
}

// Collector owns the peer table, the current log writer, the
// control-channel client (when configured), the active filter rule
// list, and every listening socket. All of its state is mutated only
// from the goroutine running Run.
type Collector struct {
	cfg       Config
	peers     *peers.Table
	writer    *store.Writer
	listeners []*listener
	ctl       *ctlsock.Client
	rules     filter.RuleList
	logger    *logger.Logger

	datagrams chan datagram
}

// New opens every configured listening socket (and, if CtlSockPath is
// set, dials the control channel) and returns a Collector ready to Run.
// Socket setup happens early, matching flowd.c's startup_listen_init,
// which reports bind errors before any privilege drop.
func New(cfg Config) (*Collector, error) {
	c := &Collector{
		cfg:       cfg,
		peers:     peers.NewTable(cfg.MaxPeers),
		rules:     cfg.Rules,
		logger:    cfg.Logger,
		datagrams: make(chan datagram, 256),
	}

	for _, addr := range cfg.ListenAddrs {
		udpAddr, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			c.closeConns()
			return nil, fmt.Errorf("collector: resolve %s: %w", addr, err)
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			c.closeConns()
			return nil, fmt.Errorf("collector: listen %s: %w", addr, err)
		}
		dst := newDstReader(conn, udpAddr.IP.To4() == nil)
		c.listeners = append(c.listeners, &listener{conn: conn, dst: dst})
		c.logger.Info("listening", "addr", conn.LocalAddr().String())
	}

	if cfg.CtlSockPath != "" {
		ctl, err := ctlsock.Dial(cfg.CtlSockPath)
		if err != nil {
			c.closeConns()
			return nil, fmt.Errorf("collector: dial ctlsock %s: %w", cfg.CtlSockPath, err)
		}
		c.ctl = ctl
		c.logger.Info("control channel connected", "path", cfg.CtlSockPath)
	}

	if err := c.reopenLog(); err != nil {
		c.closeConns()
		return nil, err
	}

	return c, nil
}

func (c *Collector) closeConns() {
	for _, l := range c.listeners {
		l.conn.Close()
	}
	if c.ctl != nil {
		c.ctl.Close()
	}
}

// reopenLog closes the current writer (if any) and opens/recreates the
// log. When a control channel is configured, the fd comes from the
// monitor's open_log reply (spec.md §4.6); otherwise the collector owns
// the path directly. Either way the header is written/validated via the
// same store.PrepareFile path.
func (c *Collector) reopenLog() error {
	if c.writer != nil {
		c.writer.Close()
		c.writer = nil
	}

	if c.ctl != nil {
		fd, err := c.ctl.OpenLog()
		if err != nil {
			return fmt.Errorf("collector: ctlsock open_log: %w", err)
		}
		f, err := store.PrepareFile(os.NewFile(uintptr(fd), c.cfg.LogPath))
		if err != nil {
			return fmt.Errorf("collector: prepare log fd: %w", err)
		}
		c.writer = store.NewWriter(f)
		return nil
	}

	f, err := store.OpenForAppend(c.cfg.LogPath)
	if err != nil {
		return fmt.Errorf("collector: open log: %w", err)
	}
	c.writer = store.NewWriter(f)
	return nil
}

// reconfigure asks the monitor for the current configuration document
// over the control channel and rebuilds the active filter rule list from
// it. A no-op when no control channel is configured, since there is
// nothing upstream of this process to re-fetch from.
func (c *Collector) reconfigure() error {
	if c.ctl == nil {
		return nil
	}
	data, err := c.ctl.Reconfigure()
	if err != nil {
		return fmt.Errorf("collector: ctlsock reconfigure: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("collector: parse reconfigure reply: %w", err)
	}
	rules, err := config.CompileFilter(cfg.Filter)
	if err != nil {
		return fmt.Errorf("collector: compile reconfigured rules: %w", err)
	}
	c.rules = rules
	c.logger.Info("reconfigured filter rules", "count", len(rules))
	return nil
}

// Run drives the event loop until ctx is cancelled or a terminating
// signal arrives. It spawns one reader goroutine per listening socket;
// those goroutines only ever write to the shared datagrams channel, so
// all decode/filter/store/peer-table work still happens on a single
// goroutine (this one).
func (c *Collector) Run(ctx context.Context) error {
	sigExit := make(chan os.Signal, 1)
	sigHup := make(chan os.Signal, 1)
	sigUsr1 := make(chan os.Signal, 1)
	sigUsr2 := make(chan os.Signal, 1)
	signal.Notify(sigExit, syscall.SIGTERM, syscall.SIGINT)
	signal.Notify(sigHup, syscall.SIGHUP)
	signal.Notify(sigUsr1, syscall.SIGUSR1)
	signal.Notify(sigUsr2, syscall.SIGUSR2)
	defer signal.Stop(sigExit)
	defer signal.Stop(sigHup)
	defer signal.Stop(sigUsr1)
	defer signal.Stop(sigUsr2)

	readerCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()
	for _, l := range c.listeners {
		go c.readLoop(readerCtx, l)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("exiting on context cancellation")
			return c.shutdown()

		case sig := <-sigExit:
			c.logger.Info("exiting on signal", "signal", sig.String())
			return c.shutdown()

		case <-sigHup:
			c.logger.Info("reconfiguration requested")
			if err := c.reconfigure(); err != nil {
				return err
			}
			if err := c.reopenLog(); err != nil {
				return err
			}

		case <-sigUsr1:
			c.logger.Info("log reopen requested")
			if err := c.reopenLog(); err != nil {
				return err
			}

		case <-sigUsr2:
			c.DumpState()

		case d := <-c.datagrams:
			c.processDatagram(&d)
		}
	}
}

func (c *Collector) shutdown() error {
	c.closeConns()
	if c.writer != nil {
		return c.writer.Close()
	}
	return nil
}

// readLoop owns one listening socket; it only ever reads and forwards,
// never touching peer/log state, so it needs no synchronization with
// the main loop beyond the channel. When the socket's dstReader is
// available, reads come back with the kernel-reported destination
// address attached; otherwise it falls back to a plain read.
func (c *Collector) readLoop(ctx context.Context, l *listener) {
	buf := make([]byte, recvBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, remoteAddr, localAddr, err := c.readOne(l, buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("recvfrom error", "error", err)
			continue
		}

		remote, ok := remoteAddr.(*net.UDPAddr)
		if !ok {
			c.logger.Warn("unexpected source address type", "addr", remoteAddr.String())
			continue
		}
		source, err := xaddr.FromUDPAddr(remote)
		if err != nil {
			c.logger.Warn("invalid agent address", "addr", remote.String())
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case c.datagrams <- datagram{data: data, source: source, localAddr: localAddr, recvTime: time.Now()}:
		case <-ctx.Done():
			return
		}
	}
}

// readOne performs one read on l, preferring the destination-enriched
// reader when available.
func (c *Collector) readOne(l *listener, buf []byte) (n int, remote net.Addr, local net.IP, err error) {
	if l.dst != nil {
		if err := l.dst.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
			return 0, nil, nil, err
		}
		n, local, remote, err = l.dst.ReadFrom(buf)
		return n, remote, local, err
	}
	l.conn.SetReadDeadline(time.Now().Add(time.Second))
	n, remote, err = l.conn.ReadFrom(buf)
	return n, remote, nil, err
}

// processDatagram implements spec.md §4.5's "on a listening socket
// readable" step: intern the peer, dispatch by version, filter, and
// append surviving records.
func (c *Collector) processDatagram(d *datagram) {
	peer, evicted := c.peers.Intern(d.source, d.recvTime)
	if evicted != nil {
		c.logger.Warn("peer evicted", "peer", evicted.From.String(), "num_forced", c.peers.NumForced)
	}

	if d.localAddr != nil {
		c.logger.Debug("datagram received", "source", d.source.String(), "local_addr", d.localAddr.String())
	}

	if len(d.data) < 4 {
		c.peers.IncrInvalid(peer)
		c.logger.Warn("short packet", "bytes", len(d.data), "source", d.source.String())
		return
	}

	records, err := wire.Dispatch(d.data, d.source, d.recvTime)
	if err != nil {
		if _, unsupported := err.(*wire.UnsupportedVersionError); unsupported {
			c.logger.Info("unsupported netflow version", "source", d.source.String(), "error", err)
			return
		}
		c.peers.IncrInvalid(peer)
		c.logger.Warn("malformed datagram", "source", d.source.String(), "error", err)
		return
	}

	version := wire.Version(d.data)
	if len(records) > 0 {
		version = uint16(records[0].Exporter.NetflowVersion)
	}
	c.peers.Touch(peer, uint64(len(records)), version, d.recvTime)

	for i := range records {
		c.emit(&records[i])
	}
}

func (c *Collector) emit(r *flow.Record) {
	if filter.Evaluate(r, c.rules) == filter.ActionDiscard {
		return
	}

	if err := c.writer.WriteRecord(r); err != nil {
		c.logger.Fatal("log write failed", "error", err)
	}

	if c.cfg.JSONOut != nil {
		c.cfg.JSONOut.WriteRecord(r)
	}
	if c.cfg.PCAPOut != nil {
		if err := pcap.MirrorRecord(c.cfg.PCAPOut, r); err != nil {
			c.logger.Warn("pcap mirror failed", "error", err)
		}
	}
	if c.cfg.Webhook != nil {
		if err := c.cfg.Webhook.Forward(r); err != nil {
			c.logger.Warn("webhook forward failed", "error", err)
		}
	}
}

// DumpState logs the filter rule list and a snapshot of the peer table,
// for spec.md §5's info_flag (USR2/INFO).
func (c *Collector) DumpState() {
	c.logger.Info("--- state dump ---")
	for i, rule := range c.rules {
		c.logger.Info("rule", "index", i, "predicate", rule.Predicate, "value", rule.Value, "action", rule.Action)
	}
	for _, p := range c.peers.Snapshot() {
		c.logger.Info("peer",
			"from", p.From.String(),
			"npackets", p.NPackets,
			"nflows", p.NFlows,
			"ninvalid", p.NInvalid,
			"last_version", p.LastVersion,
			"first_seen", p.FirstSeen.Format(time.RFC3339),
			"last_valid", p.LastValid.Format(time.RFC3339))
	}
}
