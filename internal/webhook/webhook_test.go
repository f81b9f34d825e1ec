package webhook

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelkim/flowd/internal/flow"
	"github.com/pavelkim/flowd/internal/logger"
	"github.com/pavelkim/flowd/internal/xaddr"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.NewLogger(&logger.Config{ConsoleOutput: false})
	require.NoError(t, err)
	return l
}

func addr(t *testing.T, ip string) xaddr.Addr {
	t.Helper()
	a, err := xaddr.FromNetIP(net.ParseIP(ip))
	require.NoError(t, err)
	return a
}

func TestForwarderDisabledReturnsNil(t *testing.T) {
	f, err := NewForwarder(Config{Enabled: false, Logger: testLogger(t)})
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.NoError(t, f.Forward(&flow.Record{}))
}

func TestForwarderPostsMatchingRecord(t *testing.T) {
	var received recordJSON
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewForwarder(Config{
		Enabled:     true,
		UpstreamURL: srv.URL,
		Filter:      Filter{DstPort: 443},
		Logger:      testLogger(t),
	})
	require.NoError(t, err)

	r := &flow.Record{Src: addr(t, "10.0.0.1"), Dst: addr(t, "10.0.0.2"), DstPort: 443, Protocol: 6}
	require.NoError(t, f.Forward(r))
	assert.Equal(t, "10.0.0.1", received.SrcAddr)
	assert.Equal(t, "tcp", received.Protocol)
}

func TestForwarderSkipsNonMatchingRecord(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f, err := NewForwarder(Config{
		Enabled:     true,
		UpstreamURL: srv.URL,
		Filter:      Filter{DstPort: 443},
		Logger:      testLogger(t),
	})
	require.NoError(t, err)

	r := &flow.Record{Src: addr(t, "10.0.0.1"), Dst: addr(t, "10.0.0.2"), DstPort: 80, Protocol: 6}
	require.NoError(t, f.Forward(r))
	assert.False(t, called)
}

func TestForwarderIgnoresHTTPErrorsWhenConfigured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f, err := NewForwarder(Config{
		Enabled:          true,
		UpstreamURL:      srv.URL,
		IgnoreHTTPErrors: true,
		Logger:           testLogger(t),
	})
	require.NoError(t, err)

	r := &flow.Record{Src: addr(t, "10.0.0.1"), Dst: addr(t, "10.0.0.2")}
	assert.NoError(t, f.Forward(r))
}
