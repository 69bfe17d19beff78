package decoder

import (
	"fmt"
	"time"

	"firestige.xyz/telemcap/internal/core"
)

// FrameDecoder recovers UDP datagrams from captured Ethernet frames,
// reassembling fragmented IPv4 datagrams along the way. It keeps
// reassembly state and must see the frames of a capture in order.
type FrameDecoder struct {
	reassembler *Reassembler
}

// NewFrameDecoder creates a decoder with its own reassembly state.
func NewFrameDecoder(cfg ReassemblyConfig) *FrameDecoder {
	return &FrameDecoder{reassembler: NewReassembler(cfg)}
}

// Decode returns the UDP datagram carried by frame. ok is false, with a
// nil error, when frame is a fragment of a datagram that is not yet
// complete. Frames that are not UDP over IPv4 or IPv6 fail with
// core.ErrUnsupportedProto.
func (d *FrameDecoder) Decode(frame []byte, ts time.Time) (dg core.Datagram, ok bool, err error) {
	eth, netData, err := decodeEthernet(frame)
	if err != nil {
		return dg, false, fmt.Errorf("ethernet: %w", err)
	}
	dg.Ethernet = eth

	switch eth.EtherType {
	case etherTypeIPv4, etherTypeIPv6:
	default:
		return dg, false, fmt.Errorf("%w: EtherType %#04x", core.ErrUnsupportedProto, eth.EtherType)
	}

	ip, transport, err := decodeIP(netData)
	if err != nil {
		return dg, false, fmt.Errorf("ip: %w", err)
	}
	dg.IP = ip
	if ip.Protocol != protocolUDP {
		return dg, false, fmt.Errorf("%w: IP protocol %d", core.ErrUnsupportedProto, ip.Protocol)
	}

	if ip.Version == 4 && isIPv4Fragment(netData) {
		transport, ok, err = d.reassembler.Process(netData, ts)
		if err != nil {
			return dg, false, fmt.Errorf("reassembly: %w", err)
		}
		if !ok {
			return dg, false, nil
		}
		dg.Reassembled = true
	}

	udp, payload, err := decodeUDP(transport)
	if err != nil {
		return dg, false, fmt.Errorf("udp: %w", err)
	}
	dg.UDP = udp
	dg.Payload = payload
	return dg, true, nil
}

// Reassembler exposes the reassembly state for statistics.
func (d *FrameDecoder) Reassembler() *Reassembler {
	return d.reassembler
}
