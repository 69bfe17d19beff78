// Package replayer sends the datagrams of a capture log to a UDP
// destination, reproducing the recorded pacing scaled by a speed factor.
package replayer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/log"
	"firestige.xyz/telemcap/internal/metrics"
	"firestige.xyz/telemcap/internal/timeutil"
	"firestige.xyz/telemcap/internal/transport"
)

// Config contains replayer configuration.
type Config struct {
	// Speed divides every recorded delay: 2.0 replays twice as fast.
	Speed float64
}

// Summary reports the outcome of one replay.
type Summary struct {
	Total      int
	Sent       int
	Skipped    int
	SendErrors int
	Elapsed    time.Duration
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithClock replaces the clock used for pacing.
func WithClock(c timeutil.Clock) Option {
	return func(r *Replayer) { r.clock = c }
}

// WithEventHandler installs a per-record observer.
func WithEventHandler(h core.EventHandler) Option {
	return func(r *Replayer) { r.events = h }
}

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) { r.logger = l }
}

// Replayer paces and sends capture log records. The caller owns dst.
type Replayer struct {
	speed  float64
	dst    transport.Sender
	clock  timeutil.Clock
	events core.EventHandler
	logger *slog.Logger
}

// New creates a replayer. Speed must be positive and finite.
func New(cfg Config, dst transport.Sender, opts ...Option) (*Replayer, error) {
	if math.IsNaN(cfg.Speed) || math.IsInf(cfg.Speed, 0) || cfg.Speed <= 0 {
		return nil, fmt.Errorf("%w: replay speed must be a positive finite number, got %v",
			core.ErrConfigInvalid, cfg.Speed)
	}

	r := &Replayer{
		speed: cfg.Speed,
		dst:   dst,
		clock: timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = log.Component("replayer")
	}
	return r, nil
}

// Replay sends entries in timestamp order. The first record goes out
// immediately; each later one is delayed by its recorded interval, or by
// the timestamp gap to the previous record when the interval is absent,
// divided by the speed factor. Delays accumulate into a running schedule
// so time spent sending does not add up as drift.
//
// A record whose payload cannot be decoded is skipped but its timestamp
// still counts as the previous one. Send failures are reported and the
// replay continues. Cancellation aborts the pending wait and is returned
// wrapped, so callers can test it with errors.Is(err, context.Canceled).
func (r *Replayer) Replay(ctx context.Context, entries []capturelog.Entry) (Summary, error) {
	sorted := slices.Clone(entries)
	capturelog.SortByTimestamp(sorted)

	sum := Summary{Total: len(sorted)}
	start := r.clock.Now()
	var schedule time.Duration
	var prevTS float64

	r.logger.Info("replay started", "records", len(sorted), "speed", r.speed)

	for i, e := range sorted {
		index := i + 1

		var wait time.Duration
		if i > 0 {
			wait = r.delay(e, prevTS)
			schedule += wait
		}
		if err := r.sleep(ctx, schedule-r.clock.Since(start)); err != nil {
			sum.Elapsed = r.clock.Since(start)
			r.logger.Info("replay interrupted", "index", index, "sent", sum.Sent)
			return sum, fmt.Errorf("replay interrupted before record %d: %w", index, err)
		}
		prevTS = e.Timestamp

		ev := core.Event{Index: index, Source: e.Source, Length: e.Length, Interval: e.Interval, Wait: wait}

		rec, err := e.Record()
		if err != nil {
			sum.Skipped++
			metrics.ReplayPacketsTotal.WithLabelValues(metrics.ResultSkipped).Inc()
			r.logger.Error("skipping undecodable record", "index", index, "error", err)
			ev.Kind, ev.Err = core.EventSkipped, err
			r.events.Emit(ev)
			continue
		}
		ev.Length = len(rec.Payload)

		metrics.ReplayLagSeconds.Observe(max(r.clock.Since(start)-schedule, 0).Seconds())
		if _, err := r.dst.Write(rec.Payload); err != nil {
			sum.SendErrors++
			metrics.ReplayPacketsTotal.WithLabelValues(metrics.ResultFailed).Inc()
			err = fmt.Errorf("%w: send record %d: %w", core.ErrTransport, index, err)
			r.logger.Error("send failed", "index", index, "error", err)
			ev.Kind, ev.Err = core.EventSendError, err
			r.events.Emit(ev)
			continue
		}

		sum.Sent++
		metrics.ReplayPacketsTotal.WithLabelValues(metrics.ResultSent).Inc()
		r.logger.Debug("sent", "index", index, "bytes", len(rec.Payload), "wait", wait)
		ev.Kind = core.EventSent
		r.events.Emit(ev)
	}

	sum.Elapsed = r.clock.Since(start)
	r.logger.Info("replay finished",
		"total", sum.Total,
		"sent", sum.Sent,
		"skipped", sum.Skipped,
		"send_errors", sum.SendErrors,
		"elapsed", sum.Elapsed,
	)
	return sum, nil
}

// delay is the scaled wait before e; negative gaps clamp to zero.
func (r *Replayer) delay(e capturelog.Entry, prevTS float64) time.Duration {
	gap := e.Timestamp - prevTS
	if e.HasInterval {
		gap = e.Interval
	}
	return core.SecondsToDuration(gap / r.speed)
}

// sleep waits for d or until ctx is done. It returns at once when d is not
// positive, but never when ctx is already cancelled.
func (r *Replayer) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d <= 0 {
		return nil
	}

	t := r.clock.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
