package decoder

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"firestige.xyz/telemcap/internal/core"
)

const (
	ipv4HeaderMinLen = 20
	ipv6HeaderLen    = 40

	protocolUDP = 17
)

// decodeIP dispatches on the version nibble.
func decodeIP(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < 1 {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	switch v := data[0] >> 4; v {
	case 4:
		return decodeIPv4(data)
	case 6:
		return decodeIPv6(data)
	default:
		return core.IPHeader{}, nil, fmt.Errorf("%w: IP version %d", core.ErrUnsupportedProto, v)
	}
}

// decodeIPv4 returns the header and the bytes after it, cut to the total
// length so Ethernet padding is dropped.
func decodeIPv4(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv4HeaderMinLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}
	ihl := int(data[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(data) < ihl {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	ip := core.IPHeader{
		Version:  4,
		TotalLen: binary.BigEndian.Uint16(data[2:4]),
		TTL:      data[8],
		Protocol: data[9],
		SrcIP:    netip.AddrFrom4([4]byte(data[12:16])),
		DstIP:    netip.AddrFrom4([4]byte(data[16:20])),
	}

	end := int(ip.TotalLen)
	if end < ihl || end > len(data) {
		end = len(data)
	}
	return ip, data[ihl:end], nil
}

// decodeIPv6 handles the fixed header only. Extension headers, including
// the fragment header, are reported as unsupported next headers.
func decodeIPv6(data []byte) (core.IPHeader, []byte, error) {
	if len(data) < ipv6HeaderLen {
		return core.IPHeader{}, nil, core.ErrPacketTooShort
	}

	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	ip := core.IPHeader{
		Version:  6,
		TotalLen: uint16(min(ipv6HeaderLen+payloadLen, 0xFFFF)),
		Protocol: data[6],
		TTL:      data[7],
		SrcIP:    netip.AddrFrom16([16]byte(data[8:24])),
		DstIP:    netip.AddrFrom16([16]byte(data[24:40])),
	}

	end := ipv6HeaderLen + payloadLen
	if end > len(data) {
		end = len(data)
	}
	return ip, data[ipv6HeaderLen:end], nil
}

// isIPv4Fragment reports whether the MF flag or a fragment offset is set.
func isIPv4Fragment(ipData []byte) bool {
	if len(ipData) < ipv4HeaderMinLen {
		return false
	}
	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	return flagsOffset&0x2000 != 0 || flagsOffset&0x1FFF != 0
}
