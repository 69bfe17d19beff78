package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/core/decoder"
	"firestige.xyz/telemcap/internal/transport"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print the header of every telemetry datagram received",
	Long: `Bind a UDP port and print the decoded packet header of each datagram
without recording anything. Useful to check that the game is sending and
which packet types arrive.

Examples:
  telemcap listen
  telemcap listen -p 20778 -n 50`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, map[string]string{
			"address": "capture.address",
			"port":    "capture.port",
		})
		if err != nil {
			return err
		}

		sock, err := transport.Listen(cfg.Capture.Address, cfg.Capture.Port)
		if err != nil {
			return err
		}
		defer sock.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Listening on %s, Ctrl-C to stop\n", sock.LocalAddr())
		return runListen(cmd.Context(), sock, listenCount, cfg.Capture.ReadTimeout, out)
	},
}

var listenCount int

func init() {
	f := listenCmd.Flags()
	f.StringP("address", "a", config.DefaultCaptureAddress, "address to bind")
	f.IntP("port", "p", config.DefaultPort, "UDP port to bind")
	f.IntVarP(&listenCount, "count", "n", 0, "stop after this many datagrams, 0 = until interrupted")
}

// runListen prints one line per datagram until ctx is done or count
// datagrams were seen. The caller owns sock.
func runListen(ctx context.Context, sock transport.Socket, count int, readTimeout time.Duration, out io.Writer) error {
	buf := make([]byte, transport.MaxDatagramSize)
	seen := 0

	for ctx.Err() == nil && (count <= 0 || seen < count) {
		if err := sock.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return fmt.Errorf("%w: set read deadline: %w", core.ErrTransport, err)
		}
		n, from, err := sock.ReadFromUDP(buf)
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				continue
			case transport.IsClosed(err):
				return fmt.Errorf("%w: socket closed: %w", core.ErrTransport, err)
			default:
				slog.Warn("receive failed", "error", err)
				continue
			}
		}
		seen++

		h, err := decoder.DecodeHeader(buf[:n])
		if err != nil {
			fmt.Fprintf(out, "%6d  %-21s  %5d bytes  %v\n", seen, from, n, err)
			continue
		}
		fmt.Fprintf(out, "%6d  %-21s  %5d bytes  %s\n", seen, from, n, formatLabels(h.Labels()))
	}
	return nil
}

// formatLabels renders labels as key=value pairs in key order.
func formatLabels(l core.Labels) string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + l[k]
	}
	return strings.Join(parts, " ")
}
