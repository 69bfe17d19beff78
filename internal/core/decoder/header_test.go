package decoder

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"math/rand"
	"testing"

	"firestige.xyz/telemcap/internal/core"
)

// makeScenarioHeader builds the documented 2022 header followed by a body.
func makeScenarioHeader() []byte {
	buf := []byte{
		0xE6, 0x07, // packetFormat: 2022
		0x01,       // gameMajorVersion: 1
		0x00,       // gameMinorVersion: 0
		0x01,       // packetVersion: 1
		0x00,       // packetId: motion
	}
	// sessionUID: 1
	buf = append(buf, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00)
	// sessionTime: 12.5
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(12.5))
	// frameIdentifier: 1000
	buf = append(buf, 0xE8, 0x03, 0x00, 0x00)
	// playerCarIndex: 0, secondaryPlayerCarIndex: none
	buf = append(buf, 0x00, 0xFF)
	// body bytes are ignored
	return append(buf, 0xAA, 0xBB, 0xCC)
}

func TestDecodeHeaderScenario(t *testing.T) {
	h, err := DecodeHeader(makeScenarioHeader())
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}

	want := core.PacketHeader{
		PacketFormat:            2022,
		GameMajorVersion:        1,
		GameMinorVersion:        0,
		PacketVersion:           1,
		PacketID:                core.PacketMotion,
		SessionUID:              1,
		SessionTime:             12.5,
		FrameIdentifier:         1000,
		PlayerCarIndex:          0,
		SecondaryPlayerCarIndex: 255,
	}
	if h != want {
		t.Errorf("DecodeHeader = %+v, want %+v", h, want)
	}
	if h.HasSecondaryPlayer() {
		t.Error("expected no secondary player for sentinel 255")
	}
}

func TestDecodeHeaderTooShort(t *testing.T) {
	for n := 0; n < core.HeaderLen; n++ {
		buf := make([]byte, n)
		_, err := DecodeHeader(buf)
		if !errors.Is(err, core.ErrHeaderTooShort) {
			t.Fatalf("len %d: expected ErrHeaderTooShort, got %v", n, err)
		}
		var tooShort *core.HeaderTooShortError
		if !errors.As(err, &tooShort) {
			t.Fatalf("len %d: expected *HeaderTooShortError, got %T", n, err)
		}
		if tooShort.Required != 24 {
			t.Errorf("len %d: expected Required=24, got %d", n, tooShort.Required)
		}
		if tooShort.Got != n {
			t.Errorf("len %d: expected Got=%d, got %d", n, n, tooShort.Got)
		}
	}
}

func TestDecodeHeaderNil(t *testing.T) {
	_, err := DecodeHeader(nil)
	if !errors.Is(err, core.ErrInvalidHeader) {
		t.Errorf("expected ErrInvalidHeader for nil input, got %v", err)
	}
}

func TestDecodeHeaderExactLength(t *testing.T) {
	buf := makeScenarioHeader()[:core.HeaderLen]
	if _, err := DecodeHeader(buf); err != nil {
		t.Errorf("DecodeHeader on exactly 24 bytes failed: %v", err)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		buf := make([]byte, core.HeaderLen+rng.Intn(64))
		rng.Read(buf)

		h, err := DecodeHeader(buf)
		if err != nil {
			t.Fatalf("iteration %d: DecodeHeader failed: %v", i, err)
		}

		out := make([]byte, core.HeaderLen)
		if err := EncodeHeader(h, out); err != nil {
			t.Fatalf("iteration %d: EncodeHeader failed: %v", i, err)
		}
		if !bytes.Equal(out, buf[:core.HeaderLen]) {
			t.Fatalf("iteration %d: round trip mismatch\n got  % x\n want % x", i, out, buf[:core.HeaderLen])
		}
	}
}

func TestHeaderRoundTripNaN(t *testing.T) {
	buf := makeScenarioHeader()
	// Signalling NaN with a payload must keep its exact bits.
	binary.LittleEndian.PutUint32(buf[offSessionTime:], 0x7fa00001)

	h, err := DecodeHeader(buf)
	if err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	out := AppendHeader(nil, h)
	if !bytes.Equal(out, buf[:core.HeaderLen]) {
		t.Errorf("NaN round trip mismatch: % x", out)
	}
}

func TestEncodeHeaderShortDestination(t *testing.T) {
	err := EncodeHeader(core.PacketHeader{}, make([]byte, 10))
	var tooShort *core.HeaderTooShortError
	if !errors.As(err, &tooShort) || tooShort.Got != 10 {
		t.Errorf("expected HeaderTooShortError{Got: 10}, got %v", err)
	}
}

func TestDecodeHeaderDoesNotMutate(t *testing.T) {
	buf := makeScenarioHeader()
	orig := append([]byte(nil), buf...)
	if _, err := DecodeHeader(buf); err != nil {
		t.Fatalf("DecodeHeader failed: %v", err)
	}
	if !bytes.Equal(buf, orig) {
		t.Error("DecodeHeader mutated its input")
	}
}
