package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/core/decoder"
	"firestige.xyz/telemcap/internal/export"
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Convert a pcap or pcapng capture into a capture log",
	Long: `Read a packet capture taken with tcpdump or Wireshark and write the UDP
telemetry datagrams it contains as a capture log that can be inspected
and replayed. Fragmented IPv4 datagrams are reassembled. Only datagrams
sent to --port are kept; --port 0 keeps every UDP datagram.

The output file is replaced.

Examples:
  telemcap import -i monza.pcap
  telemcap import -i lan.pcapng -o sessions/lan.jsonl --port 20778`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, map[string]string{
			"out":                  "import.out_file",
			"port":                 "import.port",
			"reassembly-timeout":   "import.reassembly_timeout",
			"max-frags-per-source": "import.max_frags_per_source",
		})
		if err != nil {
			return err
		}
		return runImport(importIn, cfg.Import, cmd.OutOrStdout())
	},
}

var importIn string

const importFlushSize = 1 << 20

func init() {
	f := importCmd.Flags()
	f.StringVarP(&importIn, "in", "i", "", "pcap or pcapng file to read (required)")
	f.StringP("out", "o", config.DefaultImportFile, "capture log to write")
	f.IntP("port", "p", config.DefaultPort, "destination UDP port to keep, 0 = any")
	f.Duration("reassembly-timeout", 30*time.Second, "drop incomplete fragmented datagrams after this much capture time")
	f.Int("max-frags-per-source", 0, "fragments accepted per source per 10s of capture, 0 = unlimited")
	importCmd.MarkFlagRequired("in")
}

func runImport(in string, ic config.ImportConfig, out io.Writer) error {
	src, err := os.Open(in)
	if err != nil {
		return fmt.Errorf("open capture: %w", err)
	}
	defer src.Close()

	records, res, err := export.ReadPCAP(src, export.ImportConfig{
		Port: ic.Port,
		Reassembly: decoder.ReassemblyConfig{
			Timeout:           ic.ReassemblyTimeout,
			MaxFragsPerSource: ic.MaxFragsPerSource,
		},
	}, func(index int, err error) {
		slog.Debug("frame not imported", "frame", index, "error", err)
	})
	if err != nil {
		return err
	}

	if dir := filepath.Dir(ic.OutFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(ic.OutFile)
	if err != nil {
		return fmt.Errorf("create capture log: %w", err)
	}

	w := capturelog.NewWriter(f)
	for _, rec := range records {
		if err := w.Append(rec); err != nil {
			w.Close()
			return err
		}
		if w.Buffered() >= importFlushSize {
			if err := w.Flush(); err != nil {
				w.Close()
				return err
			}
		}
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close capture log: %w", err)
	}

	fmt.Fprintf(out, "Imported %d of %d frames from %s to %s\n", res.Imported, res.Frames, in, ic.OutFile)
	if res.Filtered > 0 || res.Skipped > 0 || res.Incomplete > 0 || res.Expired > 0 {
		fmt.Fprintf(out, "  %d to other ports, %d not UDP or undecodable, %d incomplete fragmented datagrams\n",
			res.Filtered, res.Skipped, res.Incomplete+int(res.Expired))
	}
	return nil
}
