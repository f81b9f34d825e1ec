package wire

import (
	"encoding/binary"
	"net"
)

// buildV1 constructs a well-formed NetFlow v1 datagram with a single flow
// record, hand-packed field by field with binary.BigEndian.PutUint*.
func buildV1(srcIP, dstIP net.IP, srcPort, dstPort uint16, proto uint8, octets, packets uint32) []byte {
	buf := make([]byte, nf1PacketSize(1))
	binary.BigEndian.PutUint16(buf[0:2], 1)
	binary.BigEndian.PutUint16(buf[2:4], 1)
	binary.BigEndian.PutUint32(buf[4:8], 12345) // sys uptime ms
	binary.BigEndian.PutUint32(buf[8:12], 1700000000)
	binary.BigEndian.PutUint32(buf[12:16], 0)

	rec := buf[nf1HeaderSize:]
	copy(rec[0:4], srcIP.To4())
	copy(rec[4:8], dstIP.To4())
	copy(rec[8:12], net.IPv4zero.To4())
	binary.BigEndian.PutUint16(rec[12:14], 1) // ifIndexIn
	binary.BigEndian.PutUint16(rec[14:16], 2) // ifIndexOut
	binary.BigEndian.PutUint32(rec[16:20], packets)
	binary.BigEndian.PutUint32(rec[20:24], octets)
	binary.BigEndian.PutUint32(rec[24:28], 100)
	binary.BigEndian.PutUint32(rec[28:32], 200)
	binary.BigEndian.PutUint16(rec[32:34], srcPort)
	binary.BigEndian.PutUint16(rec[34:36], dstPort)
	rec[37] = 0x10 // ACK
	rec[38] = proto
	rec[39] = 0

	return buf
}

// buildV5 constructs a well-formed NetFlow v5 datagram with n flow
// records, all identical apart from source port (used to distinguish
// them in assertions).
func buildV5(n int) []byte {
	buf := make([]byte, nf5PacketSize(n))
	binary.BigEndian.PutUint16(buf[0:2], 5)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	binary.BigEndian.PutUint32(buf[4:8], 12345)
	binary.BigEndian.PutUint32(buf[8:12], 1700000000)
	binary.BigEndian.PutUint32(buf[12:16], 0)
	binary.BigEndian.PutUint32(buf[16:20], 42) // flow sequence
	buf[20] = 1                                // engine type
	buf[21] = 0                                // engine id

	for i := 0; i < n; i++ {
		rec := buf[nf5PacketSize(i):nf5PacketSize(i + 1)]
		copy(rec[0:4], net.ParseIP("10.0.0.1").To4())
		copy(rec[4:8], net.ParseIP("10.0.0.2").To4())
		copy(rec[8:12], net.IPv4zero.To4())
		binary.BigEndian.PutUint16(rec[12:14], 1)
		binary.BigEndian.PutUint16(rec[14:16], 2)
		binary.BigEndian.PutUint32(rec[16:20], 10)
		binary.BigEndian.PutUint32(rec[20:24], 1500)
		binary.BigEndian.PutUint32(rec[24:28], 100)
		binary.BigEndian.PutUint32(rec[28:32], 200)
		binary.BigEndian.PutUint16(rec[32:34], uint16(20000+i))
		binary.BigEndian.PutUint16(rec[34:36], 80)
		rec[37] = 0x02 // SYN
		rec[38] = 6    // TCP
		rec[39] = 0
		binary.BigEndian.PutUint16(rec[40:42], 65001)
		binary.BigEndian.PutUint16(rec[42:44], 65002)
		rec[44] = 24
		rec[45] = 24
	}
	return buf
}

func buildV7(n int) []byte {
	buf := make([]byte, nf7PacketSize(n))
	binary.BigEndian.PutUint16(buf[0:2], 7)
	binary.BigEndian.PutUint16(buf[2:4], uint16(n))
	binary.BigEndian.PutUint32(buf[4:8], 12345)
	binary.BigEndian.PutUint32(buf[8:12], 1700000000)
	binary.BigEndian.PutUint32(buf[12:16], 0)
	binary.BigEndian.PutUint32(buf[16:20], 7) // flow sequence

	for i := 0; i < n; i++ {
		rec := buf[nf7PacketSize(i):nf7PacketSize(i + 1)]
		copy(rec[0:4], net.ParseIP("192.168.1.1").To4())
		copy(rec[4:8], net.ParseIP("192.168.1.2").To4())
		copy(rec[8:12], net.IPv4zero.To4())
		binary.BigEndian.PutUint32(rec[16:20], 5)
		binary.BigEndian.PutUint32(rec[20:24], 750)
		rec[38] = 17 // UDP
	}
	return buf
}
