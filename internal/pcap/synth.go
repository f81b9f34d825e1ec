package pcap

import (
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/pavelkim/flowd/internal/flow"
)

// synthMAC is a locally-administered placeholder MAC; NetFlow carries no
// layer-2 information, so the pcap mirror fabricates one to keep the
// Ethernet layer gopacket-valid.
var synthMAC = []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}

// SynthesizeFrame builds a representative Ethernet/IPv4/TCP-or-UDP frame
// from r, for operators who want to pipe the flow log into a pcap-aware
// tool (Wireshark, tcpdump -r) rather than a flowd-specific reader. The
// frame carries no payload: only the 5-tuple, flags, and ToS survive the
// round trip through NetFlow, so that is all that can be reconstructed.
func SynthesizeFrame(r *flow.Record) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       synthMAC,
		DstMAC:       synthMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		TOS:      r.ToS,
		SrcIP:    r.Src.IP(),
		DstIP:    r.Dst.IP(),
		Protocol: layers.IPProtocol(r.Protocol),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	var transport gopacket.SerializableLayer
	switch r.Protocol {
	case 6:
		tcp := &layers.TCP{SrcPort: layers.TCPPort(r.SrcPort), DstPort: layers.TCPPort(r.DstPort)}
		applyTCPFlags(tcp, r.TCPFlags)
		tcp.SetNetworkLayerForChecksum(ip)
		transport = tcp
	case 17:
		udp := &layers.UDP{SrcPort: layers.UDPPort(r.SrcPort), DstPort: layers.UDPPort(r.DstPort)}
		udp.SetNetworkLayerForChecksum(ip)
		transport = udp
	default:
		transport = nil
	}

	layersToSerialize := []gopacket.SerializableLayer{eth, ip}
	if transport != nil {
		layersToSerialize = append(layersToSerialize, transport)
	}

	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func applyTCPFlags(tcp *layers.TCP, flags uint8) {
	tcp.FIN = flags&0x01 != 0
	tcp.SYN = flags&0x02 != 0
	tcp.RST = flags&0x04 != 0
	tcp.PSH = flags&0x08 != 0
	tcp.ACK = flags&0x10 != 0
	tcp.URG = flags&0x20 != 0
	tcp.ECE = flags&0x40 != 0
	tcp.CWR = flags&0x80 != 0
}

// MirrorRecord synthesizes a frame for r and writes it via w, tagged
// with the record's receive time.
func MirrorRecord(w *Writer, r *flow.Record) error {
	frame, err := SynthesizeFrame(r)
	if err != nil {
		return err
	}
	ts := r.RecvTime
	if ts.IsZero() {
		ts = time.Now()
	}
	return w.WritePacket(frame, ts)
}
