package decoder

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"firestige.xyz/telemcap/internal/core"
)

// IPv4 reassembly limits (RFC 791).
const (
	ipv4MaxSize       = 65535
	ipv4MaxFragOffset = 8183 // in 8-byte units
)

// ReassemblyConfig bounds IPv4 fragment reassembly.
type ReassemblyConfig struct {
	MaxFragments      int           // per datagram, default 64
	MaxReassembleSize int           // default 65535
	Timeout           time.Duration // incomplete datagram lifetime on the capture timeline, default 30s
	MaxFragsPerSource int           // per source per RateLimitWindow, 0 = unlimited
	RateLimitWindow   time.Duration // default 10s
}

type fragmentKey struct {
	src, dst [4]byte
	protocol uint8
	id       uint16
}

type fragment struct {
	offset  int
	payload []byte
}

func (f *fragment) end() int { return f.offset + len(f.payload) }

// fragmentList keeps the fragments of one datagram ordered by offset.
type fragmentList struct {
	frags    list.List // *fragment
	total    int       // datagram length, known once the last fragment arrived
	lastSeen time.Time
}

// Reassembler rebuilds fragmented IPv4 datagrams. Data already held wins
// over a later overlapping fragment. Incomplete datagrams expire after
// Timeout, measured on the timestamps given to Process.
type Reassembler struct {
	mu        sync.Mutex
	cfg       ReassemblyConfig
	flows     map[fragmentKey]*fragmentList
	limiter   *FragmentRateLimiter
	lastSweep time.Time
	expired   int64
}

// NewReassembler creates a reassembler with defaults applied to cfg.
func NewReassembler(cfg ReassemblyConfig) *Reassembler {
	if cfg.MaxFragments <= 0 {
		cfg.MaxFragments = 64
	}
	if cfg.MaxReassembleSize <= 0 || cfg.MaxReassembleSize > ipv4MaxSize {
		cfg.MaxReassembleSize = ipv4MaxSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Reassembler{
		cfg:     cfg,
		flows:   make(map[fragmentKey]*fragmentList),
		limiter: NewFragmentRateLimiter(cfg.MaxFragsPerSource, cfg.RateLimitWindow),
	}
}

// Process takes a raw IPv4 packet and returns its payload once complete:
//   - unfragmented: (payload, true, nil), without copying
//   - fragment of an incomplete datagram: (nil, false, nil)
//   - last missing fragment: (reassembled payload, true, nil)
//   - rejected fragment: (nil, false, err)
func (r *Reassembler) Process(ipData []byte, ts time.Time) ([]byte, bool, error) {
	if len(ipData) < ipv4HeaderMinLen {
		return nil, false, fmt.Errorf("%w: IPv4 packet of %d bytes", core.ErrPacketTooShort, len(ipData))
	}
	ihl := int(ipData[0]&0x0F) * 4
	if ihl < ipv4HeaderMinLen || len(ipData) < ihl {
		return nil, false, fmt.Errorf("%w: IPv4 header length %d", core.ErrPacketTooShort, ihl)
	}
	totalLen := int(binary.BigEndian.Uint16(ipData[2:4]))
	if totalLen < ihl || totalLen > len(ipData) {
		totalLen = len(ipData)
	}

	flagsOffset := binary.BigEndian.Uint16(ipData[6:8])
	more := flagsOffset&0x2000 != 0
	offset8 := flagsOffset & 0x1FFF
	if !more && offset8 == 0 {
		return ipData[ihl:totalLen], true, nil
	}

	data := ipData[ihl:totalLen]
	if err := checkFragment(len(data), offset8); err != nil {
		return nil, false, err
	}

	key := fragmentKey{
		src:      [4]byte(ipData[12:16]),
		dst:      [4]byte(ipData[16:20]),
		protocol: ipData[9],
		id:       binary.BigEndian.Uint16(ipData[4:6]),
	}
	if !r.limiter.Allow(key.src, ts) {
		return nil, false, fmt.Errorf("fragment rate limit exceeded for %d.%d.%d.%d",
			key.src[0], key.src[1], key.src[2], key.src[3])
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweep(ts)

	fl, ok := r.flows[key]
	if !ok {
		fl = &fragmentList{}
		r.flows[key] = fl
	}
	if fl.frags.Len() >= r.cfg.MaxFragments {
		delete(r.flows, key)
		return nil, false, fmt.Errorf("datagram %#04x exceeded %d fragments", key.id, r.cfg.MaxFragments)
	}
	fl.lastSeen = ts

	start := int(offset8) * 8
	if !more {
		fl.total = start + len(data)
	}
	// The buffer behind ipData belongs to the caller.
	insertFragment(fl, &fragment{offset: start, payload: append([]byte(nil), data...)})

	if !fl.complete() {
		return nil, false, nil
	}
	delete(r.flows, key)
	if fl.total > r.cfg.MaxReassembleSize {
		return nil, false, fmt.Errorf("reassembled size %d exceeds limit %d", fl.total, r.cfg.MaxReassembleSize)
	}

	out := make([]byte, fl.total)
	for e := fl.frags.Front(); e != nil; e = e.Next() {
		f := e.Value.(*fragment)
		if f.offset >= fl.total {
			break
		}
		copy(out[f.offset:], f.payload)
	}
	return out, true, nil
}

// Pending returns the number of incomplete datagrams held.
func (r *Reassembler) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flows)
}

// Expired returns how many incomplete datagrams were dropped on timeout.
func (r *Reassembler) Expired() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired
}

// Rejected returns how many fragments the rate limit refused.
func (r *Reassembler) Rejected() int64 {
	return r.limiter.Rejected()
}

func checkFragment(size int, offset8 uint16) error {
	if size < 1 {
		return fmt.Errorf("%w: empty fragment", core.ErrPacketTooShort)
	}
	if offset8 > ipv4MaxFragOffset {
		return fmt.Errorf("fragment offset too large: %d", offset8)
	}
	if end := int(offset8)*8 + size; end > ipv4MaxSize {
		return fmt.Errorf("fragment would exceed max IP size: offset=%d size=%d", int(offset8)*8, size)
	}
	return nil
}

// insertFragment adds the parts of f that fall into gaps between held
// fragments, so bytes already held are never overwritten.
func insertFragment(fl *fragmentList, f *fragment) {
	pos, end := f.offset, f.end()
	e := fl.frags.Front()
	for pos < end {
		for e != nil && e.Value.(*fragment).end() <= pos {
			e = e.Next()
		}
		gapEnd := end
		if e != nil {
			held := e.Value.(*fragment)
			if held.offset <= pos {
				pos = held.end()
				e = e.Next()
				continue
			}
			gapEnd = min(gapEnd, held.offset)
		}

		piece := &fragment{offset: pos, payload: f.payload[pos-f.offset : gapEnd-f.offset]}
		if e != nil {
			fl.frags.InsertBefore(piece, e)
		} else {
			fl.frags.PushBack(piece)
		}
		pos = gapEnd
	}
}

// complete reports whether the held fragments cover [0, total).
func (fl *fragmentList) complete() bool {
	if fl.total == 0 {
		return false
	}
	pos := 0
	for e := fl.frags.Front(); e != nil && pos < fl.total; e = e.Next() {
		f := e.Value.(*fragment)
		if f.offset > pos {
			return false
		}
		pos = max(pos, f.end())
	}
	return pos >= fl.total
}

// sweep drops incomplete datagrams idle for longer than the timeout. It
// runs at most once per timeout period. Must be called with r.mu held.
func (r *Reassembler) sweep(now time.Time) {
	if !r.lastSweep.IsZero() && now.Sub(r.lastSweep) < r.cfg.Timeout {
		return
	}
	r.lastSweep = now
	for key, fl := range r.flows {
		if now.Sub(fl.lastSeen) > r.cfg.Timeout {
			delete(r.flows, key)
			r.expired++
		}
	}
}
