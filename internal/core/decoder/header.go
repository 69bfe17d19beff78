package decoder

import (
	"encoding/binary"
	"math"

	"firestige.xyz/telemcap/internal/core"
)

// Field offsets within the 24-byte telemetry header.
const (
	offPacketFormat     = 0
	offGameMajorVersion = 2
	offGameMinorVersion = 3
	offPacketVersion    = 4
	offPacketID         = 5
	offSessionUID       = 6
	offSessionTime      = 14
	offFrameIdentifier  = 18
	offPlayerCarIndex   = 22
	offSecondaryCar     = 23
)

// DecodeHeader decodes the fixed header prefix of a telemetry datagram.
// Bytes beyond the first 24 are ignored. A nil buffer is rejected as
// invalid input; a short one reports both the required and actual length.
func DecodeHeader(buf []byte) (core.PacketHeader, error) {
	if buf == nil {
		return core.PacketHeader{}, core.ErrInvalidHeader
	}
	if len(buf) < core.HeaderLen {
		return core.PacketHeader{}, &core.HeaderTooShortError{Required: core.HeaderLen, Got: len(buf)}
	}

	return core.PacketHeader{
		PacketFormat:            binary.LittleEndian.Uint16(buf[offPacketFormat:]),
		GameMajorVersion:        buf[offGameMajorVersion],
		GameMinorVersion:        buf[offGameMinorVersion],
		PacketVersion:           buf[offPacketVersion],
		PacketID:                core.PacketID(buf[offPacketID]),
		SessionUID:              binary.LittleEndian.Uint64(buf[offSessionUID:]),
		SessionTime:             math.Float32frombits(binary.LittleEndian.Uint32(buf[offSessionTime:])),
		FrameIdentifier:         binary.LittleEndian.Uint32(buf[offFrameIdentifier:]),
		PlayerCarIndex:          buf[offPlayerCarIndex],
		SecondaryPlayerCarIndex: buf[offSecondaryCar],
	}, nil
}

// EncodeHeader writes h into the first 24 bytes of dst using the wire layout.
// The float is written from its raw bits, so NaN payloads survive a
// decode/encode round trip.
func EncodeHeader(h core.PacketHeader, dst []byte) error {
	if len(dst) < core.HeaderLen {
		return &core.HeaderTooShortError{Required: core.HeaderLen, Got: len(dst)}
	}

	binary.LittleEndian.PutUint16(dst[offPacketFormat:], h.PacketFormat)
	dst[offGameMajorVersion] = h.GameMajorVersion
	dst[offGameMinorVersion] = h.GameMinorVersion
	dst[offPacketVersion] = h.PacketVersion
	dst[offPacketID] = uint8(h.PacketID)
	binary.LittleEndian.PutUint64(dst[offSessionUID:], h.SessionUID)
	binary.LittleEndian.PutUint32(dst[offSessionTime:], math.Float32bits(h.SessionTime))
	binary.LittleEndian.PutUint32(dst[offFrameIdentifier:], h.FrameIdentifier)
	dst[offPlayerCarIndex] = h.PlayerCarIndex
	dst[offSecondaryCar] = h.SecondaryPlayerCarIndex

	return nil
}

// AppendHeader appends the encoded header to dst and returns the extended slice.
func AppendHeader(dst []byte, h core.PacketHeader) []byte {
	var buf [core.HeaderLen]byte
	_ = EncodeHeader(h, buf[:])
	return append(dst, buf[:]...)
}
