package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/replayer"
	"firestige.xyz/telemcap/internal/transport"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send a capture log to a UDP listener with its recorded pacing",
	Long: `Read a capture log, order it by timestamp and send every payload to the
destination. The first datagram goes out at once; each later one waits for
its recorded interval divided by --speed. Undecodable lines are reported
and skipped.

Examples:
  telemcap replay -i recordings/packets.jsonl
  telemcap replay -i monza.jsonl --address 192.168.1.20 --speed 4
  telemcap replay -i monza.jsonl --address 239.0.0.1 --ttl 2`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, map[string]string{
			"in":      "replay.in_file",
			"address": "replay.address",
			"port":    "replay.port",
			"speed":   "replay.speed",
			"ttl":     "replay.ttl",
		})
		if err != nil {
			return err
		}
		if cfg.Replay.InFile == "" {
			return fmt.Errorf("%w: no capture log given (--in or replay.in_file)", core.ErrConfigInvalid)
		}

		r := cfg.Replay
		dst, err := transport.Dial(r.Address, r.Port, r.TTL)
		if err != nil {
			return err
		}
		defer dst.Close()

		stopMetrics, err := startMetrics(cmd.Context(), cfg.Metrics)
		if err != nil {
			return err
		}
		defer stopMetrics()

		return runReplay(cmd.Context(), cfg.Replay, dst, cmd.OutOrStdout())
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringP("in", "i", "", "capture log to replay")
	f.StringP("address", "a", config.DefaultReplayAddress, "destination address")
	f.IntP("port", "p", config.DefaultPort, "destination UDP port")
	f.Float64P("speed", "s", 1.0, "speed factor, 2 = twice as fast")
	f.Int("ttl", 0, "IPv4 TTL (multicast TTL for group destinations), 0 = OS default")
}

// runReplay replays rc.InFile into dst and prints a summary. An interrupt
// is a normal way to stop and is not reported as an error.
func runReplay(ctx context.Context, rc config.ReplayConfig, dst transport.Sender, out io.Writer, opts ...replayer.Option) error {
	entries, err := capturelog.ReadFile(rc.InFile, func(err *core.RecordError) {
		slog.Warn("skipping malformed capture log line", "file", rc.InFile, "error", err)
	})
	if err != nil {
		return err
	}

	rp, err := replayer.New(replayer.Config{Speed: rc.Speed}, dst, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Replaying %d records from %s to %s at %gx\n",
		len(entries), rc.InFile, transport.JoinHostPort(rc.Address, rc.Port), rc.Speed)

	sum, err := rp.Replay(ctx, entries)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if err != nil {
		fmt.Fprintln(out, "Interrupted")
	}

	fmt.Fprintf(out, "Sent %d of %d records in %s", sum.Sent, sum.Total, sum.Elapsed.Round(time.Millisecond))
	if sum.Skipped > 0 || sum.SendErrors > 0 {
		fmt.Fprintf(out, " (%d skipped, %d send errors)", sum.Skipped, sum.SendErrors)
	}
	fmt.Fprintln(out)
	return nil
}
