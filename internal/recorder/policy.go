package recorder

import "time"

// DefaultBufferSize is the amount of unflushed log data that forces a flush
// regardless of the count and time triggers.
const DefaultBufferSize = 64 * 1024

// Policy decides when buffered log lines are handed to the OS (flush) and
// when the file is forced to stable storage (sync). A zero field disables
// its trigger; with everything zero data is only flushed at shutdown or
// when BufferSize is reached.
type Policy struct {
	FlushEvery       int           // records since the last flush
	FlushInterval    time.Duration // time since the last flush
	BufferSize       int           // unflushed bytes held by the writer
	SyncEveryPackets int           // records since the last sync
	SyncEvery        time.Duration // time since the last sync
}

// SyncEnabled reports whether any disk-sync trigger is configured. The
// final sync at shutdown only happens when it is.
func (p Policy) SyncEnabled() bool {
	return p.SyncEveryPackets > 0 || p.SyncEvery > 0
}

// policyState tracks progress towards the next flush and sync.
type policyState struct {
	sinceFlush int
	lastFlush  time.Time
	sinceSync  int
	lastSync   time.Time
}

func newPolicyState(now time.Time) policyState {
	return policyState{lastFlush: now, lastSync: now}
}

func (s *policyState) recorded() {
	s.sinceFlush++
	s.sinceSync++
}

func (s *policyState) flushed(now time.Time) {
	s.sinceFlush = 0
	s.lastFlush = now
}

// synced resets both counters because a sync always flushes first.
func (s *policyState) synced(now time.Time) {
	s.flushed(now)
	s.sinceSync = 0
	s.lastSync = now
}

func (p Policy) shouldFlush(s *policyState, now time.Time, buffered int) bool {
	if p.BufferSize > 0 && buffered >= p.BufferSize {
		return true
	}
	if s.sinceFlush == 0 && buffered == 0 {
		return false
	}
	if p.FlushEvery > 0 && s.sinceFlush >= p.FlushEvery {
		return true
	}
	return p.FlushInterval > 0 && now.Sub(s.lastFlush) >= p.FlushInterval
}

func (p Policy) shouldSync(s *policyState, now time.Time) bool {
	if s.sinceSync == 0 {
		return false
	}
	if p.SyncEveryPackets > 0 && s.sinceSync >= p.SyncEveryPackets {
		return true
	}
	return p.SyncEvery > 0 && now.Sub(s.lastSync) >= p.SyncEvery
}
