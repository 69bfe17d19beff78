// Package core defines core data structures with zero external dependencies.
package core

import "net/netip"

// EthernetHeader is the link layer of a captured frame.
type EthernetHeader struct {
	DstMAC    [6]byte
	SrcMAC    [6]byte
	EtherType uint16   // innermost EtherType after VLAN tags
	VLANs     []uint16 // VLAN IDs, outermost first
}

// IPHeader holds the IPv4 or IPv6 fields needed to recover a datagram.
type IPHeader struct {
	Version  uint8
	Protocol uint8 // IPv4 protocol or IPv6 next header
	TTL      uint8 // IPv4 TTL or IPv6 hop limit
	TotalLen uint16
	SrcIP    netip.Addr
	DstIP    netip.Addr
}

// UDPHeader is the 8-byte UDP header.
type UDPHeader struct {
	SrcPort uint16
	DstPort uint16
	Length  uint16 // header plus payload
}

// Datagram is a UDP payload recovered from a captured frame, with its
// endpoints. Reassembled is set when it was rebuilt from IPv4 fragments.
type Datagram struct {
	Ethernet    EthernetHeader
	IP          IPHeader
	UDP         UDPHeader
	Payload     []byte
	Reassembled bool
}

// Src returns the sender endpoint.
func (d Datagram) Src() netip.AddrPort {
	return netip.AddrPortFrom(d.IP.SrcIP, d.UDP.SrcPort)
}

// Dst returns the destination endpoint.
func (d Datagram) Dst() netip.AddrPort {
	return netip.AddrPortFrom(d.IP.DstIP, d.UDP.DstPort)
}
