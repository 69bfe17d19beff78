// Package export converts capture logs to and from pcap files so recorded
// sessions can be inspected with standard packet tools, and captures taken
// with them can be replayed.
package export

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/core"
)

const (
	snapLen = 262144

	// maxUDPPayload is the largest payload an IPv4 UDP datagram can carry.
	maxUDPPayload = 65535 - 20 - 8
)

var (
	srcMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	dstMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}

	// ErrPayloadTooLarge is reported for records that do not fit one UDP datagram.
	ErrPayloadTooLarge = errors.New("export: payload exceeds UDP datagram size")
)

// Config sets the synthesized destination of every exported datagram. The
// source comes from each record's "from" field.
type Config struct {
	DstAddr netip.AddrPort
}

// Result counts exported and skipped records.
type Result struct {
	Written int
	Skipped int
}

// SkipFunc is told about each record left out of the pcap, by 1-based
// position in timestamp order.
type SkipFunc func(index int, err error)

// WritePCAP writes entries to w as an Ethernet pcap, in timestamp order,
// each record wrapped in synthesized Ethernet/IP/UDP headers and stamped
// with its capture time. Records that cannot be decoded or framed are
// reported to onSkip and left out. Only write errors on w are returned.
func WritePCAP(w io.Writer, entries []capturelog.Entry, cfg Config, onSkip SkipFunc) (Result, error) {
	var res Result

	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return res, fmt.Errorf("write pcap header: %w", err)
	}

	sorted := append([]capturelog.Entry(nil), entries...)
	capturelog.SortByTimestamp(sorted)

	fr := framer{dst: cfg.DstAddr, buf: gopacket.NewSerializeBuffer()}
	for i, e := range sorted {
		data, rec, err := fr.frame(e)
		if err != nil {
			res.Skipped++
			if onSkip != nil {
				onSkip(i+1, err)
			}
			continue
		}

		ci := gopacket.CaptureInfo{
			Timestamp:     rec.Time(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		if err := pw.WritePacket(ci, data); err != nil {
			return res, fmt.Errorf("write pcap record %d: %w", i+1, err)
		}
		res.Written++
	}
	return res, nil
}

type framer struct {
	dst netip.AddrPort
	buf gopacket.SerializeBuffer
	id  uint16
}

// frame decodes e and serializes it as an Ethernet frame. The returned
// slice is only valid until the next call.
func (f *framer) frame(e capturelog.Entry) ([]byte, core.PacketRecord, error) {
	rec, err := e.Record()
	if err != nil {
		return nil, rec, err
	}
	if len(rec.Payload) > maxUDPPayload {
		return nil, rec, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(rec.Payload))
	}

	src, err := parseSource(rec.Source)
	if err != nil {
		return nil, rec, err
	}
	dst := f.dst

	udp := &layers.UDP{
		SrcPort: layers.UDPPort(src.Port()),
		DstPort: layers.UDPPort(dst.Port()),
	}
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}

	var network gopacket.SerializableLayer
	if src.Addr().Is4() && dst.Addr().Is4() {
		f.id++
		ip := &layers.IPv4{
			Version:  4,
			IHL:      5,
			Id:       f.id,
			Flags:    layers.IPv4DontFragment,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    src.Addr().AsSlice(),
			DstIP:    dst.Addr().AsSlice(),
		}
		eth.EthernetType = layers.EthernetTypeIPv4
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, rec, err
		}
		network = ip
	} else {
		s16, d16 := src.Addr().As16(), dst.Addr().As16()
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      net.IP(s16[:]),
			DstIP:      net.IP(d16[:]),
		}
		eth.EthernetType = layers.EthernetTypeIPv6
		if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
			return nil, rec, err
		}
		network = ip
	}

	opts := gopacket.SerializeOptions{
		FixLengths:       true,
		ComputeChecksums: true,
	}
	if err := gopacket.SerializeLayers(f.buf, opts, eth, network, udp, gopacket.Payload(rec.Payload)); err != nil {
		return nil, rec, fmt.Errorf("serialize packet: %w", err)
	}
	return f.buf.Bytes(), rec, nil
}

// parseSource reads an "ip:port" origin. A record without one is framed
// as coming from the unspecified address.
func parseSource(s string) (netip.AddrPort, error) {
	if s == "" {
		return netip.AddrPortFrom(netip.IPv4Unspecified(), 0), nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return ap, fmt.Errorf("%w: from %q: %v", core.ErrMalformedRecord, s, err)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}

// ResolveDestination builds the synthesized destination from a host
// address and port.
func ResolveDestination(address string, port int) (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(address)
	if err != nil {
		ips, lerr := net.LookupIP(address)
		if lerr != nil || len(ips) == 0 {
			return netip.AddrPort{}, fmt.Errorf("%w: destination %q: %v", core.ErrConfigInvalid, address, err)
		}
		addr, _ = netip.AddrFromSlice(ips[0])
	}
	if port < 1 || port > 65535 {
		return netip.AddrPort{}, fmt.Errorf("%w: destination port %d", core.ErrConfigInvalid, port)
	}
	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), nil
}
