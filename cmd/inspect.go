package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/core/decoder"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect FILE",
	Short: "Summarize the records of a capture log",
	Long: `Decode a capture log and print one line per record (time, interval,
sender, length, packet type and frame), followed by totals per packet
type. Malformed lines and payloads without a valid header are counted.

Examples:
  telemcap inspect recordings/packets.jsonl
  telemcap inspect recordings/packets.jsonl --summary
  telemcap inspect recordings/packets.jsonl --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := setup(cmd, nil); err != nil {
			return err
		}
		return runInspect(args[0], inspectSummaryOnly, inspectJSON, cmd.OutOrStdout())
	},
}

var (
	inspectSummaryOnly bool
	inspectJSON        bool
)

func init() {
	inspectCmd.Flags().BoolVar(&inspectSummaryOnly, "summary", false, "print totals only")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print totals as JSON")
}

// inspectReport is the aggregate view of a capture log.
type inspectReport struct {
	File         string         `json:"file"`
	Records      int            `json:"records"`
	Malformed    int            `json:"malformed"`
	HeaderErrors int            `json:"header_errors"`
	Bytes        int64          `json:"bytes"`
	Duration     float64        `json:"duration_seconds"`
	Sessions     []string       `json:"sessions"`
	ByPacket     map[string]int `json:"by_packet"`
}

func runInspect(path string, summaryOnly, asJSON bool, out io.Writer) error {
	rep := inspectReport{File: path, ByPacket: map[string]int{}, Sessions: []string{}}
	var problems []error

	entries, err := capturelog.ReadFile(path, func(err *core.RecordError) {
		rep.Malformed++
		problems = append(problems, err)
	})
	if err != nil {
		return err
	}
	capturelog.SortByTimestamp(entries)

	printRecords := !summaryOnly && !asJSON
	if printRecords {
		fmt.Fprintf(out, "%6s  %-23s  %9s  %-21s  %6s  %-22s  %s\n",
			"#", "TIME", "INTERVAL", "FROM", "LENGTH", "PACKET", "FRAME")
	}

	for i, e := range entries {
		rec, err := e.Record()
		if err != nil {
			rep.Malformed++
			problems = append(problems, fmt.Errorf("record %d: %w", i+1, err))
			continue
		}
		rep.Records++
		rep.Bytes += int64(len(rec.Payload))

		packet, frame := "-", "-"
		h, herr := decoder.DecodeHeader(rec.Payload)
		if herr != nil {
			rep.HeaderErrors++
			packet = "invalid"
		} else {
			packet = h.PacketID.String()
			frame = fmt.Sprint(h.FrameIdentifier)
			if uid := h.Labels()[core.LabelSessionUID]; !slices.Contains(rep.Sessions, uid) {
				rep.Sessions = append(rep.Sessions, uid)
			}
		}
		rep.ByPacket[packet]++

		if printRecords {
			fmt.Fprintf(out, "%6d  %-23s  %9.6f  %-21s  %6d  %-22s  %s\n",
				i+1, rec.Time().UTC().Format("2006-01-02 15:04:05.000"), rec.Interval,
				rec.Source, len(rec.Payload), packet, frame)
		}
	}
	if len(entries) > 1 {
		rep.Duration = entries[len(entries)-1].Timestamp - entries[0].Timestamp
	}

	if asJSON {
		data, err := json.MarshalIndent(rep, "", "  ")
		if err != nil {
			return fmt.Errorf("format report: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, p := range problems {
		fmt.Fprintf(out, "malformed: %v\n", p)
	}
	fmt.Fprintf(out, "\n%s: %d records, %d bytes over %.3fs, %d malformed, %d without a valid header\n",
		rep.File, rep.Records, rep.Bytes, rep.Duration, rep.Malformed, rep.HeaderErrors)
	for _, uid := range rep.Sessions {
		fmt.Fprintf(out, "  session %s\n", uid)
	}

	names := make([]string, 0, len(rep.ByPacket))
	for name := range rep.ByPacket {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-22s %d\n", name, rep.ByPacket[name])
	}
	return nil
}
