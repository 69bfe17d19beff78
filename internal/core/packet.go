// Package core defines core data structures with zero external dependencies.
package core

import (
	"math"
	"time"
)

// PacketRecord is one captured datagram with its timing and origin metadata.
// Timestamp and Interval are float seconds, the capture log representation,
// so a record survives an encode/decode round trip unchanged.
type PacketRecord struct {
	Timestamp float64 // Wall-clock seconds since the Unix epoch
	Interval  float64 // Seconds since the previous record, 0 for the first
	Source    string  // Originating "ip:port"
	Length    int     // Payload byte count
	Payload   []byte  // Raw datagram bytes
}

// Time returns the record timestamp as a time.Time.
func (r PacketRecord) Time() time.Time {
	return SecondsToTime(r.Timestamp)
}

// TimeToSeconds converts t to float seconds since the Unix epoch.
func TimeToSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// SecondsToTime converts float seconds since the Unix epoch to a time.Time.
func SecondsToTime(s float64) time.Time {
	sec, frac := math.Modf(s)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9)))
}

// SecondsToDuration converts float seconds to a duration, clamping negatives to 0.
func SecondsToDuration(s float64) time.Duration {
	if s <= 0 || math.IsNaN(s) {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}
