package xaddr

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNetIPV4(t *testing.T) {
	a, err := FromNetIP(net.ParseIP("10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, V4, a.Family)
	assert.Equal(t, "10.0.0.1", a.String())
}

func TestFromNetIPV6(t *testing.T) {
	a, err := FromNetIP(net.ParseIP("2001:db8::1"))
	require.NoError(t, err)
	assert.Equal(t, V6, a.Family)
	assert.Equal(t, "2001:db8::1", a.String())
}

func TestCompareOrdersByFamilyThenBytes(t *testing.T) {
	v4a, _ := FromNetIP(net.ParseIP("10.0.0.1"))
	v4b, _ := FromNetIP(net.ParseIP("10.0.0.2"))
	v6, _ := FromNetIP(net.ParseIP("::1"))

	assert.True(t, v4a.Compare(v4b) < 0)
	assert.True(t, v4b.Compare(v4a) > 0)
	assert.True(t, v4a.Compare(v4a) == 0)
	assert.True(t, v4a.Compare(v6) < 0, "v4 sorts before v6")
}

func TestFromUDPAddrCarriesZone(t *testing.T) {
	ua := &net.UDPAddr{IP: net.ParseIP("fe80::1"), Zone: "eth0"}
	a, err := FromUDPAddr(ua)
	require.NoError(t, err)
	assert.Equal(t, "eth0", a.Zone)
	assert.Equal(t, "fe80::1%eth0", a.String())
}
