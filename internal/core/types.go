// Package core defines core types with zero external dependencies.
package core

import "fmt"

// HeaderLen is the size of the fixed telemetry packet header.
const HeaderLen = 24

// NoSecondaryPlayer is the secondaryPlayerCarIndex sentinel for "no second player".
const NoSecondaryPlayer = 255

// PacketHeader is the decoded 24-byte prefix of a telemetry datagram.
// All multi-byte fields are little-endian on the wire.
type PacketHeader struct {
	PacketFormat            uint16   // offset 0, e.g. 2022
	GameMajorVersion        uint8    // offset 2
	GameMinorVersion        uint8    // offset 3
	PacketVersion           uint8    // offset 4
	PacketID                PacketID // offset 5
	SessionUID              uint64   // offset 6
	SessionTime             float32  // offset 14
	FrameIdentifier         uint32   // offset 18
	PlayerCarIndex          uint8    // offset 22
	SecondaryPlayerCarIndex uint8    // offset 23, 255 = none
}

// HasSecondaryPlayer reports whether a split-screen second player is present.
func (h PacketHeader) HasSecondaryPlayer() bool {
	return h.SecondaryPlayerCarIndex != NoSecondaryPlayer
}

// PacketID identifies the packet body that follows the header.
type PacketID uint8

const (
	PacketMotion PacketID = iota
	PacketSession
	PacketLapData
	PacketEvent
	PacketParticipants
	PacketCarSetups
	PacketCarTelemetry
	PacketCarStatus
	PacketFinalClassification
	PacketLobbyInfo
	PacketCarDamage
	PacketSessionHistory
	PacketTyreSets
	PacketMotionEx
)

var packetIDNames = [...]string{
	PacketMotion:              "motion",
	PacketSession:             "session",
	PacketLapData:             "lap_data",
	PacketEvent:               "event",
	PacketParticipants:        "participants",
	PacketCarSetups:           "car_setups",
	PacketCarTelemetry:        "car_telemetry",
	PacketCarStatus:           "car_status",
	PacketFinalClassification: "final_classification",
	PacketLobbyInfo:           "lobby_info",
	PacketCarDamage:           "car_damage",
	PacketSessionHistory:      "session_history",
	PacketTyreSets:            "tyre_sets",
	PacketMotionEx:            "motion_ex",
}

// Known reports whether id is one of the named packet ids.
func (id PacketID) Known() bool {
	return int(id) < len(packetIDNames)
}

func (id PacketID) String() string {
	if id.Known() {
		return packetIDNames[id]
	}
	return fmt.Sprintf("unknown(%d)", uint8(id))
}
