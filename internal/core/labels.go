// Package core defines core types.
package core

import "strconv"

// Labels represents key-value metadata derived from a packet header.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelPacketFormat  = "telemetry.packet_format"
	LabelGameVersion   = "telemetry.game_version"
	LabelPacketVersion = "telemetry.packet_version"
	LabelPacketID      = "telemetry.packet_id"
	LabelSessionUID    = "telemetry.session_uid" // hex, 0xXXXXXXXXXXXXXXXX
	LabelSessionTime   = "telemetry.session_time"
	LabelFrame         = "telemetry.frame"
	LabelPlayerCar     = "telemetry.player_car"
	LabelSecondaryCar  = "telemetry.secondary_car" // omitted when no second player
)

// Labels renders the header as flat labels for logs and inspection output.
func (h PacketHeader) Labels() Labels {
	l := Labels{
		LabelPacketFormat:  strconv.FormatUint(uint64(h.PacketFormat), 10),
		LabelGameVersion:   strconv.Itoa(int(h.GameMajorVersion)) + "." + strconv.Itoa(int(h.GameMinorVersion)),
		LabelPacketVersion: strconv.Itoa(int(h.PacketVersion)),
		LabelPacketID:      h.PacketID.String(),
		LabelSessionUID:    "0x" + strconv.FormatUint(h.SessionUID, 16),
		LabelSessionTime:   strconv.FormatFloat(float64(h.SessionTime), 'f', 3, 32),
		LabelFrame:         strconv.FormatUint(uint64(h.FrameIdentifier), 10),
		LabelPlayerCar:     strconv.Itoa(int(h.PlayerCarIndex)),
	}
	if h.HasSecondaryPlayer() {
		l[LabelSecondaryCar] = strconv.Itoa(int(h.SecondaryPlayerCarIndex))
	}
	return l
}
