// Package decoder implements the fixed-layout telemetry header codec and
// the recovery of UDP datagrams from captured Ethernet frames.
//
// The header is a little-endian projection over the first 24 bytes of a
// datagram. Decoding never copies the payload and never fails on bytes
// past the header, so any captured or live payload can be inspected.
package decoder
