package core

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"testing"
	"time"
)

// Test zero values of core structs
func TestStructZeroValues(t *testing.T) {
	t.Run("PacketHeader", func(t *testing.T) {
		var h PacketHeader
		if h.PacketFormat != 0 {
			t.Errorf("expected PacketFormat=0, got %d", h.PacketFormat)
		}
		// Zero is a real car index, so the zero header has a second player.
		if !h.HasSecondaryPlayer() {
			t.Error("expected HasSecondaryPlayer=true for index 0")
		}
	})

	t.Run("PacketRecord", func(t *testing.T) {
		var rec PacketRecord
		if rec.Payload != nil {
			t.Errorf("expected Payload=nil, got %v", rec.Payload)
		}
		if rec.Interval != 0 {
			t.Errorf("expected Interval=0, got %v", rec.Interval)
		}
	})
}

func TestDatagramEndpoints(t *testing.T) {
	d := Datagram{
		IP:  IPHeader{Version: 4, SrcIP: netip.MustParseAddr("192.168.1.50"), DstIP: netip.MustParseAddr("192.168.1.20")},
		UDP: UDPHeader{SrcPort: 54321, DstPort: 20777},
	}
	if got := d.Src().String(); got != "192.168.1.50:54321" {
		t.Errorf("Src() = %s", got)
	}
	if got := d.Dst().String(); got != "192.168.1.20:20777" {
		t.Errorf("Dst() = %s", got)
	}

	var zero Datagram
	if zero.Src().IsValid() {
		t.Errorf("expected invalid Src for zero datagram, got %v", zero.Src())
	}
}

func TestPacketID(t *testing.T) {
	tests := []struct {
		id    PacketID
		name  string
		known bool
	}{
		{PacketMotion, "motion", true},
		{PacketLapData, "lap_data", true},
		{PacketCarTelemetry, "car_telemetry", true},
		{PacketSessionHistory, "session_history", true},
		{PacketMotionEx, "motion_ex", true},
		{PacketID(14), "unknown(14)", false},
		{PacketID(255), "unknown(255)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
			if got := tt.id.Known(); got != tt.known {
				t.Errorf("Known() = %v, want %v", got, tt.known)
			}
		})
	}
}

// Test Labels operations
func TestLabels(t *testing.T) {
	t.Run("FromHeader", func(t *testing.T) {
		h := PacketHeader{
			PacketFormat:            2022,
			GameMajorVersion:        1,
			GameMinorVersion:        17,
			PacketVersion:           1,
			PacketID:                PacketCarTelemetry,
			SessionUID:              0xdeadbeef,
			SessionTime:             12.5,
			FrameIdentifier:         1000,
			PlayerCarIndex:          3,
			SecondaryPlayerCarIndex: NoSecondaryPlayer,
		}
		labels := h.Labels()

		expected := map[string]string{
			LabelPacketFormat:  "2022",
			LabelGameVersion:   "1.17",
			LabelPacketVersion: "1",
			LabelPacketID:      "car_telemetry",
			LabelSessionUID:    "0xdeadbeef",
			LabelSessionTime:   "12.500",
			LabelFrame:         "1000",
			LabelPlayerCar:     "3",
		}
		for key, want := range expected {
			if labels[key] != want {
				t.Errorf("label %s = %q, want %q", key, labels[key], want)
			}
		}
		if _, ok := labels[LabelSecondaryCar]; ok {
			t.Error("secondary car label should be omitted for sentinel 255")
		}
	})

	t.Run("SecondaryPlayer", func(t *testing.T) {
		h := PacketHeader{SecondaryPlayerCarIndex: 7}
		if got := h.Labels()[LabelSecondaryCar]; got != "7" {
			t.Errorf("expected secondary car 7, got %q", got)
		}
	})

	t.Run("NilLabels", func(t *testing.T) {
		var labels Labels
		// Accessing nil map should not panic, but return zero value
		if val := labels[LabelPacketID]; val != "" {
			t.Errorf("expected empty string from nil map, got %s", val)
		}
	})
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrHeaderTooShort, "telemcap: header too short"},
			{ErrInvalidHeader, "telemcap: invalid header input"},
			{ErrMalformedRecord, "telemcap: malformed record"},
			{ErrDurability, "telemcap: durability write failed"},
			{ErrTransport, "telemcap: transport failure"},
			{ErrConfigInvalid, "telemcap: invalid configuration"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})

	t.Run("HeaderTooShort", func(t *testing.T) {
		err := fmt.Errorf("decode: %w", &HeaderTooShortError{Required: HeaderLen, Got: 5})
		if !errors.Is(err, ErrHeaderTooShort) {
			t.Error("errors.Is failed for wrapped HeaderTooShortError")
		}
		var tooShort *HeaderTooShortError
		if !errors.As(err, &tooShort) {
			t.Fatal("errors.As failed for HeaderTooShortError")
		}
		if tooShort.Required != 24 || tooShort.Got != 5 {
			t.Errorf("unexpected counts: required=%d got=%d", tooShort.Required, tooShort.Got)
		}
		if got := tooShort.Error(); got != "telemcap: header too short: need 24 bytes, got 5" {
			t.Errorf("unexpected message %q", got)
		}
	})

	t.Run("RecordError", func(t *testing.T) {
		err := &RecordError{Line: 3, Err: fmt.Errorf("%w: bad base64", ErrMalformedRecord)}
		if !errors.Is(err, ErrMalformedRecord) {
			t.Error("errors.Is failed through RecordError")
		}
		if got := err.Error(); got != "line 3: telemcap: malformed record: bad base64" {
			t.Errorf("unexpected message %q", got)
		}
		noLine := &RecordError{Err: ErrMalformedRecord}
		if noLine.Error() != ErrMalformedRecord.Error() {
			t.Errorf("unexpected message %q", noLine.Error())
		}
	})
}

func TestSecondsConversion(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		ts := time.Unix(1700000000, 250000000)
		s := TimeToSeconds(ts)
		if s != 1700000000.25 {
			t.Errorf("TimeToSeconds = %v, want 1700000000.25", s)
		}
		back := SecondsToTime(s)
		if !back.Equal(ts) {
			t.Errorf("SecondsToTime = %v, want %v", back, ts)
		}
	})

	t.Run("Duration", func(t *testing.T) {
		tests := []struct {
			in   float64
			want time.Duration
		}{
			{0, 0},
			{-1.5, 0},
			{math.NaN(), 0},
			{0.5, 500 * time.Millisecond},
			{1.25, 1250 * time.Millisecond},
		}
		for _, tt := range tests {
			if got := SecondsToDuration(tt.in); got != tt.want {
				t.Errorf("SecondsToDuration(%v) = %v, want %v", tt.in, got, tt.want)
			}
		}
	})
}

func TestEventKind(t *testing.T) {
	if EventSkipped.String() != "skipped" {
		t.Errorf("unexpected name %q", EventSkipped.String())
	}
	if EventKind(99).String() != "unknown" {
		t.Errorf("unexpected name %q", EventKind(99).String())
	}
	if !EventDurabilityWarning.IsError() || EventRecorded.IsError() {
		t.Error("IsError classification mismatch")
	}

	var called int
	var h EventHandler = func(Event) { called++ }
	h.Emit(Event{Kind: EventSent})
	EventHandler(nil).Emit(Event{Kind: EventSent})
	if called != 1 {
		t.Errorf("expected 1 call, got %d", called)
	}
}
