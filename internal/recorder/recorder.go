// Package recorder captures UDP telemetry datagrams into a capture log.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/core/decoder"
	"firestige.xyz/telemcap/internal/log"
	"firestige.xyz/telemcap/internal/metrics"
	"firestige.xyz/telemcap/internal/timeutil"
	"firestige.xyz/telemcap/internal/transport"
)

// DefaultReadTimeout bounds each receive so cancellation and time-based
// durability triggers are observed while no traffic arrives.
const DefaultReadTimeout = 100 * time.Millisecond

// ErrAlreadyRun is returned when Run is called on a recorder that has
// already run.
var ErrAlreadyRun = errors.New("recorder: already run")

// LogWriter is the capture log destination. *capturelog.Writer implements it.
type LogWriter interface {
	Append(rec core.PacketRecord) error
	Flush() error
	Sync() error
	Close() error
	Buffered() int
}

// Config contains recorder configuration.
type Config struct {
	Policy      Policy
	ReadBuffer  int           // SO_RCVBUF in bytes, 0 leaves the OS default
	ReadTimeout time.Duration // per-receive deadline, defaults to DefaultReadTimeout
	SessionID   string        // tags log lines, generated when empty
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithClock replaces the wall clock used for timestamps and policy timing.
func WithClock(c timeutil.Clock) Option {
	return func(r *Recorder) { r.clock = c }
}

// WithEventHandler installs a per-datagram observer.
func WithEventHandler(h core.EventHandler) Option {
	return func(r *Recorder) { r.events = h }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// Recorder owns one bound socket and one capture log. It appends every
// datagram it receives, in receipt order, with its receive time and the
// interval since the previous datagram.
type Recorder struct {
	cfg    Config
	sock   transport.Socket
	log    LogWriter
	clock  timeutil.Clock
	events core.EventHandler
	logger *slog.Logger

	started   atomic.Bool
	closeOnce sync.Once

	// Loop state, owned by the Run goroutine.
	state   policyState
	last    time.Time
	hasLast bool

	stats counters
}

// New creates a recorder. It takes ownership of sock and w: both are
// closed when Run returns or Close is called.
func New(cfg Config, sock transport.Socket, w LogWriter, opts ...Option) *Recorder {
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	r := &Recorder{
		cfg:   cfg,
		sock:  sock,
		log:   w,
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Component("recorder")
	}
	r.logger = r.logger.With("session", cfg.SessionID)
	return r
}

// SessionID returns the id tagging this recorder's log lines.
func (r *Recorder) SessionID() string { return r.cfg.SessionID }

// Run receives datagrams until ctx is cancelled or the socket fails, then
// shuts down: a final flush, a final sync when a sync policy is set, then
// the log and the socket are closed, exactly once. Cancellation is not an
// error; a dead socket is returned wrapped in core.ErrTransport.
func (r *Recorder) Run(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	defer r.shutdown()

	if r.cfg.ReadBuffer > 0 {
		if err := r.sock.SetReadBuffer(r.cfg.ReadBuffer); err != nil {
			r.logger.Warn("failed to set receive buffer size", "bytes", r.cfg.ReadBuffer, "error", err)
		}
	}

	r.state = newPolicyState(r.clock.Now())
	r.logger.Info("capture started", "addr", addrString(r.sock.LocalAddr()))

	return r.loop(ctx)
}

// Close shuts the recorder down without running it. It is safe to call
// after Run has returned.
func (r *Recorder) Close() {
	r.shutdown()
}

func (r *Recorder) loop(ctx context.Context) error {
	buf := make([]byte, transport.MaxDatagramSize)

	for {
		if ctx.Err() != nil {
			return nil
		}

		// Deadlines are enforced by the OS, so they use real time.
		if err := r.sock.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout)); err != nil && transport.IsClosed(err) {
			return fmt.Errorf("%w: receive: %w", core.ErrTransport, err)
		}

		n, from, err := r.sock.ReadFromUDP(buf)
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				r.applyPolicy(r.clock.Now())
				continue
			case ctx.Err() != nil:
				return nil
			case transport.IsClosed(err):
				return fmt.Errorf("%w: receive: %w", core.ErrTransport, err)
			}
			r.stats.receiveErrors.Add(1)
			metrics.CaptureErrorsTotal.WithLabelValues(metrics.StageReceive).Inc()
			r.logger.Error("receive failed", "error", err)
			r.events.Emit(core.Event{Kind: core.EventReceiveError, Err: err})
			continue
		}

		r.handle(buf[:n], from)
	}
}

// handle records one datagram. Header decoding is for observability only:
// the raw bytes are recorded whether or not it succeeds.
func (r *Recorder) handle(data []byte, from *net.UDPAddr) {
	// Wall reading only: intervals are differences of recorded timestamps.
	now := r.clock.Now().Round(0)
	interval := 0.0
	if r.hasLast {
		// A wall clock stepped backwards yields 0, never a negative interval.
		interval = max(now.Sub(r.last).Seconds(), 0)
	}
	r.last, r.hasLast = now, true

	index := int(r.stats.received.Add(1))
	source := addrString(from)
	rec := core.PacketRecord{
		Timestamp: core.TimeToSeconds(now),
		Interval:  interval,
		Source:    source,
		Length:    len(data),
		Payload:   data,
	}
	ev := core.Event{Index: index, Source: source, Length: len(data), Interval: interval}

	ev.Kind = core.EventReceived
	r.events.Emit(ev)

	hdr, hdrErr := decoder.DecodeHeader(data)
	if hdrErr == nil {
		ev.Header = &hdr
	}

	if err := r.log.Append(rec); err != nil {
		r.stats.writeErrors.Add(1)
		metrics.CaptureErrorsTotal.WithLabelValues(metrics.StageAppend).Inc()
		r.logger.Error("append to capture log failed", "index", index, "from", source, "error", err)
		ev.Kind, ev.Err = core.EventWriteError, err
		r.events.Emit(ev)
	} else {
		r.state.recorded()
		r.stats.recorded.Add(1)
		r.stats.bytes.Add(uint64(len(data)))
		metrics.CapturePacketsTotal.Inc()
		metrics.CaptureBytesTotal.Add(float64(len(data)))
		ev.Kind = core.EventRecorded
		r.events.Emit(ev)
	}

	if hdrErr != nil {
		r.stats.headerErrors.Add(1)
		reason := metrics.ReasonInvalid
		if errors.Is(hdrErr, core.ErrHeaderTooShort) {
			reason = metrics.ReasonTooShort
		}
		metrics.HeaderErrorsTotal.WithLabelValues(reason).Inc()
		r.logger.Debug("undecodable header", "index", index, "from", source, "bytes", len(data), "error", hdrErr)
		r.events.Emit(core.Event{
			Kind: core.EventHeaderInvalid, Index: index, Source: source, Length: len(data), Err: hdrErr,
		})
	} else {
		metrics.CapturePacketsByID.WithLabelValues(hdr.PacketID.String()).Inc()
		r.logger.Debug("datagram",
			"index", index,
			"from", source,
			"bytes", len(data),
			"packet_id", hdr.PacketID.String(),
			"frame", hdr.FrameIdentifier,
			"interval", interval,
		)
	}

	r.applyPolicy(now)
}

// applyPolicy runs the flush check before the sync check.
func (r *Recorder) applyPolicy(now time.Time) {
	p := r.cfg.Policy
	if p.shouldFlush(&r.state, now, r.log.Buffered()) {
		r.flush(now)
	}
	if p.shouldSync(&r.state, now) {
		r.sync(now)
	}
	metrics.LogPendingBytes.Set(float64(r.log.Buffered()))
}

func (r *Recorder) flush(now time.Time) {
	err := r.log.Flush()
	r.state.flushed(now)
	if err != nil {
		r.durabilityWarning("flush", err)
		metrics.LogFlushesTotal.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	r.stats.flushes.Add(1)
	metrics.LogFlushesTotal.WithLabelValues(metrics.ResultOK).Inc()
	r.events.Emit(core.Event{Kind: core.EventFlushed})
}

func (r *Recorder) sync(now time.Time) {
	err := r.log.Sync()
	r.state.synced(now)
	if err != nil {
		r.durabilityWarning("sync", err)
		metrics.LogSyncsTotal.WithLabelValues(metrics.ResultError).Inc()
		return
	}
	r.stats.syncs.Add(1)
	metrics.LogSyncsTotal.WithLabelValues(metrics.ResultOK).Inc()
	r.events.Emit(core.Event{Kind: core.EventSynced})
}

func (r *Recorder) durabilityWarning(op string, err error) {
	r.stats.durabilityWarnings.Add(1)
	r.logger.Warn("capture log "+op+" failed, capture continues", "pending_bytes", r.log.Buffered(), "error", err)
	r.events.Emit(core.Event{Kind: core.EventDurabilityWarning, Err: err})
}

func (r *Recorder) shutdown() {
	r.closeOnce.Do(func() {
		now := r.clock.Now()
		if r.log.Buffered() > 0 {
			r.flush(now)
		}
		if r.cfg.Policy.SyncEnabled() {
			r.sync(now)
		}
		metrics.LogPendingBytes.Set(float64(r.log.Buffered()))

		if err := r.log.Close(); err != nil {
			r.logger.Error("close capture log failed", "error", err)
		}
		if err := r.sock.Close(); err != nil {
			r.logger.Error("close socket failed", "error", err)
		}

		s := r.Stats()
		r.logger.Info("capture stopped",
			"received", s.Received,
			"recorded", s.Recorded,
			"bytes", s.Bytes,
			"header_errors", s.HeaderErrors,
			"receive_errors", s.ReceiveErrors,
			"write_errors", s.WriteErrors,
			"flushes", s.Flushes,
			"syncs", s.Syncs,
			"durability_warnings", s.DurabilityWarnings,
		)
	})
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	if u, ok := a.(*net.UDPAddr); ok && u == nil {
		return ""
	}
	return a.String()
}
