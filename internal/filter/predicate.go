package filter

import "strconv"

// protocolNames maps the handful of IP protocol names an operator is
// likely to write in a rule file to their IANA protocol numbers.
var protocolNames = map[string]uint8{
	"icmp": 1,
	"tcp":  6,
	"udp":  17,
	"gre":  47,
	"esp":  50,
	"ah":   51,
}

func protocolMatches(proto uint8, value string) bool {
	if n, err := strconv.Atoi(value); err == nil {
		return uint8(n) == proto
	}
	want, ok := protocolNames[value]
	return ok && want == proto
}

func portMatches(port uint16, value string) bool {
	n, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return uint16(n) == port
}
