// Package capturelog implements the line-oriented capture log: one JSON
// object per datagram, payload carried as base64.
package capturelog

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"firestige.xyz/telemcap/internal/core"
)

// wireRecord is the on-disk shape of one line. Field names are shared with
// the companion Python capture tools and must not change.
type wireRecord struct {
	Timestamp  *float64 `json:"timestamp"`
	Interval   *float64 `json:"interval,omitempty"`
	From       string   `json:"from"`
	Length     *int     `json:"length,omitempty"`
	PayloadB64 *string  `json:"payload_b64"`
}

// Entry is a capture log line whose envelope parsed. The payload stays
// encoded until Record is called, so a reader can keep the timing of an
// entry whose payload later turns out to be corrupt.
type Entry struct {
	Timestamp   float64
	Interval    float64
	HasInterval bool
	Source      string
	Length      int
	HasLength   bool
	payload     *string
}

// Encode serialises rec as a single JSON line without the trailing newline.
func Encode(rec core.PacketRecord) ([]byte, error) {
	ts := rec.Timestamp
	interval := rec.Interval
	length := len(rec.Payload)
	payload := base64.StdEncoding.EncodeToString(rec.Payload)

	line, err := json.Marshal(wireRecord{
		Timestamp:  &ts,
		Interval:   &interval,
		From:       rec.Source,
		Length:     &length,
		PayloadB64: &payload,
	})
	if err != nil {
		// Only NaN or Inf timings can get here.
		return nil, fmt.Errorf("%w: encode: %v", core.ErrMalformedRecord, err)
	}
	return line, nil
}

// Decode parses one line into a record. Every structural problem, including
// a bad payload encoding, is reported as core.ErrMalformedRecord.
func Decode(line []byte) (core.PacketRecord, error) {
	e, err := DecodeEntry(line)
	if err != nil {
		return core.PacketRecord{}, err
	}
	return e.Record()
}

// DecodeEntry parses the envelope of one line. Only the timestamp is
// required at this stage.
func DecodeEntry(line []byte) (Entry, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Entry{}, fmt.Errorf("%w: empty line", core.ErrMalformedRecord)
	}

	var w wireRecord
	if err := json.Unmarshal(line, &w); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", core.ErrMalformedRecord, err)
	}
	if w.Timestamp == nil {
		return Entry{}, fmt.Errorf("%w: missing timestamp", core.ErrMalformedRecord)
	}

	e := Entry{
		Timestamp: *w.Timestamp,
		Source:    w.From,
		payload:   w.PayloadB64,
	}
	if w.Interval != nil {
		e.Interval = *w.Interval
		e.HasInterval = true
	}
	if w.Length != nil {
		e.Length = *w.Length
		e.HasLength = true
	}
	return e, nil
}

// Record decodes the payload and returns the full record.
func (e Entry) Record() (core.PacketRecord, error) {
	if e.payload == nil {
		return core.PacketRecord{}, fmt.Errorf("%w: missing payload_b64", core.ErrMalformedRecord)
	}
	payload, err := base64.StdEncoding.DecodeString(*e.payload)
	if err != nil {
		return core.PacketRecord{}, fmt.Errorf("%w: payload_b64: %v", core.ErrMalformedRecord, err)
	}
	if e.HasLength && e.Length != len(payload) {
		return core.PacketRecord{}, fmt.Errorf("%w: length %d does not match payload of %d bytes",
			core.ErrMalformedRecord, e.Length, len(payload))
	}

	return core.PacketRecord{
		Timestamp: e.Timestamp,
		Interval:  e.Interval,
		Source:    e.Source,
		Length:    len(payload),
		Payload:   payload,
	}, nil
}

// EntryOf builds the entry that Encode followed by DecodeEntry would yield.
func EntryOf(rec core.PacketRecord) Entry {
	payload := base64.StdEncoding.EncodeToString(rec.Payload)
	return Entry{
		Timestamp:   rec.Timestamp,
		Interval:    rec.Interval,
		HasInterval: true,
		Source:      rec.Source,
		Length:      len(rec.Payload),
		HasLength:   true,
		payload:     &payload,
	}
}
