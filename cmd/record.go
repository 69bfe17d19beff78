package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/recorder"
	"firestige.xyz/telemcap/internal/transport"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Capture telemetry datagrams into a capture log",
	Long: `Bind a UDP port and append every datagram received to a capture log,
one JSON object per line with its receive time, the interval since the
previous datagram, the sender address and the base64 payload.

The log is opened in append mode. Buffered lines are flushed every
--flush-every datagrams or --flush-interval, whichever comes first, and
forced to disk every --fsync-every-packets datagrams or --fsync-every.
Ctrl-C stops the capture after a final flush and sync.

Examples:
  telemcap record
  telemcap record -p 20778 -o sessions/monza.jsonl
  telemcap record --fsync-every-packets 1000 --fsync-every 0s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, map[string]string{
			"address":             "capture.address",
			"port":                "capture.port",
			"out":                 "capture.out_file",
			"read-buffer":         "capture.read_buffer",
			"flush-every":         "capture.flush_every",
			"flush-interval":      "capture.flush_interval",
			"buffer-size":         "capture.buffer_size",
			"fsync-every-packets": "capture.fsync_every_packets",
			"fsync-every":         "capture.fsync_every",
		})
		if err != nil {
			return err
		}
		return runRecord(cmd.Context(), cfg, cmd.OutOrStdout())
	},
}

func init() {
	f := recordCmd.Flags()
	f.StringP("address", "a", config.DefaultCaptureAddress, "address to bind")
	f.IntP("port", "p", config.DefaultPort, "UDP port to bind")
	f.StringP("out", "o", config.DefaultCaptureFile, "capture log to append to")
	f.Int("read-buffer", 256*1024, "socket receive buffer in bytes, 0 = OS default")
	f.Int("flush-every", 100, "flush after this many datagrams, 0 = off")
	f.Duration("flush-interval", time.Second, "flush at least this often, 0 = off")
	f.Int("buffer-size", recorder.DefaultBufferSize, "flush once this many bytes are pending, 0 = off")
	f.Int("fsync-every-packets", 0, "fsync after this many datagrams, 0 = off")
	f.Duration("fsync-every", 10*time.Second, "fsync at least this often, 0 = off")
}

func runRecord(ctx context.Context, cfg *config.Config, out io.Writer) error {
	c := cfg.Capture

	// Bind first so a busy port leaves no empty log behind.
	sock, err := transport.Listen(c.Address, c.Port)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(c.OutFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			sock.Close()
			return fmt.Errorf("create output directory: %w", err)
		}
	}

	w, err := capturelog.OpenAppend(c.OutFile)
	if err != nil {
		sock.Close()
		return err
	}

	stopMetrics, err := startMetrics(ctx, cfg.Metrics)
	if err != nil {
		w.Close()
		sock.Close()
		return err
	}
	defer stopMetrics()

	rec := recorder.New(recorder.Config{
		Policy:      policyFrom(c),
		ReadBuffer:  c.ReadBuffer,
		ReadTimeout: c.ReadTimeout,
	}, sock, w)

	fmt.Fprintf(out, "Recording %s to %s (session %s), Ctrl-C to stop\n",
		sock.LocalAddr(), c.OutFile, rec.SessionID())

	runErr := rec.Run(ctx)

	s := rec.Stats()
	fmt.Fprintf(out, "Recorded %d datagrams (%d bytes) to %s\n", s.Recorded, s.Bytes, c.OutFile)
	if s.WriteErrors > 0 || s.DurabilityWarnings > 0 {
		fmt.Fprintf(out, "Warning: %d datagrams dropped, %d flush/sync failures\n",
			s.WriteErrors, s.DurabilityWarnings)
	}
	return runErr
}

func policyFrom(c config.CaptureConfig) recorder.Policy {
	return recorder.Policy{
		FlushEvery:       c.FlushEvery,
		FlushInterval:    c.FlushInterval,
		BufferSize:       c.BufferSize,
		SyncEveryPackets: c.FsyncEveryPackets,
		SyncEvery:        c.FsyncEvery,
	}
}
