// Package webhook forwards accepted flow records to an HTTP endpoint,
// adapted from the teacher's QingPing MQTT/JSON exporter: same
// filter-then-POST shape, same HTTP client setup, but forwarding the
// canonical flow record instead of extracting a sensor JSON payload
// from an MQTT frame (NetFlow carries no such payload).
package webhook

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/logger"
)

// Filter narrows which flow records get forwarded upstream.
type Filter struct {
	SrcCIDR  string
	DstCIDR  string
	DstPort  uint16
	Protocol string // tcp, udp, icmp
}

// Config holds the webhook forwarder configuration.
type Config struct {
	Enabled          bool
	Filter           Filter
	UpstreamURL      string
	IgnoreSSL        bool
	IgnoreHTTPErrors bool
	Logger           *logger.Logger
}

// Forwarder posts matching flow records to an upstream HTTP endpoint.
type Forwarder struct {
	config     Config
	httpClient *http.Client
	logger     *logger.Logger

	srcNet *net.IPNet
	dstNet *net.IPNet
}

// NewForwarder creates a new webhook forwarder. A disabled config
// returns (nil, nil): callers can unconditionally call Forward on a nil
// *Forwarder, which is a no-op.
func NewForwarder(config Config) (*Forwarder, error) {
	if !config.Enabled {
		return nil, nil
	}
	if config.UpstreamURL == "" {
		return nil, fmt.Errorf("webhook: upstream URL is required")
	}

	transport := &http.Transport{
		TLSClientConfig:    &tls.Config{InsecureSkipVerify: config.IgnoreSSL},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: false,
	}
	client := &http.Client{Transport: transport, Timeout: 10 * time.Second}

	f := &Forwarder{config: config, httpClient: client, logger: config.Logger}

	if config.Filter.SrcCIDR != "" {
		_, n, err := net.ParseCIDR(config.Filter.SrcCIDR)
		if err != nil {
			return nil, fmt.Errorf("webhook: bad src_cidr: %w", err)
		}
		f.srcNet = n
	}
	if config.Filter.DstCIDR != "" {
		_, n, err := net.ParseCIDR(config.Filter.DstCIDR)
		if err != nil {
			return nil, fmt.Errorf("webhook: bad dst_cidr: %w", err)
		}
		f.dstNet = n
	}

	f.logger.Info("webhook forwarder initialized",
		"upstream_url", config.UpstreamURL,
		"ignore_ssl", config.IgnoreSSL,
		"ignore_http_errors", config.IgnoreHTTPErrors)

	return f, nil
}

func (f *Forwarder) matchesFilter(r *flow.Record) bool {
	if f.srcNet != nil && !f.srcNet.Contains(r.Src.IP()) {
		return false
	}
	if f.dstNet != nil && !f.dstNet.Contains(r.Dst.IP()) {
		return false
	}
	if f.config.Filter.DstPort != 0 && r.DstPort != f.config.Filter.DstPort {
		return false
	}
	if f.config.Filter.Protocol != "" {
		want := strings.ToLower(f.config.Filter.Protocol)
		if want != protocolName(r.Protocol) {
			return false
		}
	}
	return true
}

func protocolName(proto uint8) string {
	switch proto {
	case 1:
		return "icmp"
	case 6:
		return "tcp"
	case 17:
		return "udp"
	default:
		return strconv.Itoa(int(proto))
	}
}

// recordJSON is the wire shape posted upstream: a stable, documented
// subset of flow.Record rather than a direct struct dump, so the
// upstream contract does not shift every time Record grows a field.
type recordJSON struct {
	SrcAddr  string    `json:"src_addr"`
	DstAddr  string    `json:"dst_addr"`
	SrcPort  uint16    `json:"src_port"`
	DstPort  uint16    `json:"dst_port"`
	Protocol string    `json:"protocol"`
	Packets  uint64    `json:"packets"`
	Octets   uint64    `json:"octets"`
	Tag      uint32    `json:"tag"`
	RecvTime time.Time `json:"recv_time"`
}

// Forward posts r upstream if it matches the configured filter. Called
// on a nil *Forwarder, it is a harmless no-op (the "disabled" case).
func (f *Forwarder) Forward(r *flow.Record) error {
	if f == nil {
		return nil
	}
	if !f.matchesFilter(r) {
		f.logger.Debug("webhook record skipped: filter mismatch",
			"src_addr", r.Src.String(), "dst_addr", r.Dst.String(), "dst_port", r.DstPort)
		return nil
	}

	body, err := json.Marshal(recordJSON{
		SrcAddr:  r.Src.String(),
		DstAddr:  r.Dst.String(),
		SrcPort:  r.SrcPort,
		DstPort:  r.DstPort,
		Protocol: protocolName(r.Protocol),
		Packets:  r.Packets,
		Octets:   r.Octets,
		Tag:      r.Tag,
		RecvTime: r.RecvTime,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal record: %w", err)
	}

	if err := f.submit(body); err != nil {
		if f.config.IgnoreHTTPErrors {
			f.logger.Warn("webhook submit failed (ignored)", "error", err, "upstream_url", f.config.UpstreamURL)
			return nil
		}
		f.logger.Error("webhook submit failed", "error", err, "upstream_url", f.config.UpstreamURL)
		return err
	}

	f.logger.Debug("webhook record forwarded", "upstream_url", f.config.UpstreamURL)
	return nil
}

func (f *Forwarder) submit(body []byte) error {
	req, err := http.NewRequest(http.MethodPost, f.config.UpstreamURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "flowd-webhook/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// Close releases idle HTTP connections. Safe to call on a nil
// *Forwarder.
func (f *Forwarder) Close() error {
	if f == nil {
		return nil
	}
	f.httpClient.CloseIdleConnections()
	return nil
}
