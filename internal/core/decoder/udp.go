package decoder

import (
	"encoding/binary"

	"firestige.xyz/telemcap/internal/core"
)

const udpHeaderLen = 8

// decodeUDP returns the UDP header and payload. A sane length field trims
// trailing bytes; a bogus one leaves the payload as captured.
func decodeUDP(data []byte) (core.UDPHeader, []byte, error) {
	if len(data) < udpHeaderLen {
		return core.UDPHeader{}, nil, core.ErrPacketTooShort
	}

	udp := core.UDPHeader{
		SrcPort: binary.BigEndian.Uint16(data[0:2]),
		DstPort: binary.BigEndian.Uint16(data[2:4]),
		Length:  binary.BigEndian.Uint16(data[4:6]),
	}

	payload := data[udpHeaderLen:]
	if n := int(udp.Length) - udpHeaderLen; n >= 0 && n < len(payload) {
		payload = payload[:n]
	}
	return udp, payload, nil
}
