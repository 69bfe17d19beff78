package recorder

import "sync/atomic"

// Stats is a snapshot of recorder counters.
type Stats struct {
	Received           uint64
	Recorded           uint64
	Bytes              uint64
	HeaderErrors       uint64
	ReceiveErrors      uint64
	WriteErrors        uint64
	Flushes            uint64
	Syncs              uint64
	DurabilityWarnings uint64
}

// counters are updated by the receive loop and read by Stats from any
// goroutine.
type counters struct {
	received           atomic.Uint64
	recorded           atomic.Uint64
	bytes              atomic.Uint64
	headerErrors       atomic.Uint64
	receiveErrors      atomic.Uint64
	writeErrors        atomic.Uint64
	flushes            atomic.Uint64
	syncs              atomic.Uint64
	durabilityWarnings atomic.Uint64
}

// Stats returns the current counters. Safe for concurrent use.
func (r *Recorder) Stats() Stats {
	c := &r.stats
	return Stats{
		Received:           c.received.Load(),
		Recorded:           c.recorded.Load(),
		Bytes:              c.bytes.Load(),
		HeaderErrors:       c.headerErrors.Load(),
		ReceiveErrors:      c.receiveErrors.Load(),
		WriteErrors:        c.writeErrors.Load(),
		Flushes:            c.flushes.Load(),
		Syncs:              c.syncs.Load(),
		DurabilityWarnings: c.durabilityWarnings.Load(),
	}
}
