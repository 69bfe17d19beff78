package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/config"
	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/export"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Convert a capture log to a pcap file",
	Long: `Write every record of a capture log as an Ethernet/IP/UDP frame into a
pcap file that Wireshark and tcpdump can open. Frames carry the recorded
capture time and sender; the destination is synthesized from
--dst-address and --dst-port.

Examples:
  telemcap export -i recordings/packets.jsonl
  telemcap export -i monza.jsonl -o monza.pcap --dst-port 20778`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := setup(cmd, map[string]string{
			"out":         "export.out_file",
			"dst-address": "export.dst_address",
			"dst-port":    "export.dst_port",
		})
		if err != nil {
			return err
		}
		return runExport(exportIn, cfg.Export, cmd.OutOrStdout())
	},
}

var exportIn string

func init() {
	f := exportCmd.Flags()
	f.StringVarP(&exportIn, "in", "i", "", "capture log to convert (required)")
	f.StringP("out", "o", config.DefaultExportFile, "pcap file to write")
	f.String("dst-address", config.DefaultReplayAddress, "destination address written into every frame")
	f.Int("dst-port", config.DefaultPort, "destination UDP port written into every frame")
	exportCmd.MarkFlagRequired("in")
}

func runExport(in string, ec config.ExportConfig, out io.Writer) error {
	dst, err := export.ResolveDestination(ec.DstAddress, ec.DstPort)
	if err != nil {
		return err
	}

	entries, err := capturelog.ReadFile(in, func(err *core.RecordError) {
		slog.Warn("skipping malformed capture log line", "file", in, "error", err)
	})
	if err != nil {
		return err
	}

	if dir := filepath.Dir(ec.OutFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(ec.OutFile)
	if err != nil {
		return fmt.Errorf("create pcap file: %w", err)
	}

	res, err := export.WritePCAP(f, entries, export.Config{DstAddr: dst}, func(index int, err error) {
		slog.Warn("record left out of pcap", "index", index, "error", err)
	})
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close pcap file: %w", cerr)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Wrote %d frames to %s", res.Written, ec.OutFile)
	if res.Skipped > 0 {
		fmt.Fprintf(out, " (%d records skipped)", res.Skipped)
	}
	fmt.Fprintln(out)
	return nil
}
