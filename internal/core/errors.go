// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors, wrapped with %w and matched with errors.Is at the edges.
var (
	// Header decoding errors
	ErrHeaderTooShort = errors.New("telemcap: header too short")
	ErrInvalidHeader  = errors.New("telemcap: invalid header input")

	// Frame decoding errors
	ErrPacketTooShort   = errors.New("telemcap: packet too short")
	ErrUnsupportedProto = errors.New("telemcap: unsupported protocol")

	// Capture log errors
	ErrMalformedRecord = errors.New("telemcap: malformed record")
	ErrDurability      = errors.New("telemcap: durability write failed")

	// Transport errors
	ErrTransport = errors.New("telemcap: transport failure")

	// Configuration errors
	ErrConfigInvalid = errors.New("telemcap: invalid configuration")
)

// HeaderTooShortError reports a buffer shorter than the fixed header.
type HeaderTooShortError struct {
	Required int
	Got      int
}

func (e *HeaderTooShortError) Error() string {
	return fmt.Sprintf("%v: need %d bytes, got %d", ErrHeaderTooShort, e.Required, e.Got)
}

// Is makes errors.Is(err, ErrHeaderTooShort) hold.
func (e *HeaderTooShortError) Is(target error) bool {
	return target == ErrHeaderTooShort
}

// RecordError ties a capture log decode failure to its position in the log.
// Line is 1-based; 0 means the position is unknown.
type RecordError struct {
	Line int
	Err  error
}

func (e *RecordError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %v", e.Line, e.Err)
	}
	return e.Err.Error()
}

func (e *RecordError) Unwrap() error { return e.Err }
