package export

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/telemcap/internal/core"
	"firestige.xyz/telemcap/internal/core/decoder"
	"firestige.xyz/telemcap/internal/metrics"
)

// pcapngMagic opens every pcapng section header block.
var pcapngMagic = []byte{0x0A, 0x0D, 0x0D, 0x0A}

// ImportConfig selects which datagrams of a packet capture are imported.
type ImportConfig struct {
	Port       int // destination UDP port to keep, 0 keeps every UDP datagram
	Reassembly decoder.ReassemblyConfig
}

// ImportResult counts what happened to the frames of a capture.
type ImportResult struct {
	Frames     int   // frames read
	Imported   int   // datagrams turned into records
	Filtered   int   // datagrams to another port
	Skipped    int   // frames that are not UDP or failed to decode
	Fragments  int   // fragments absorbed into a later datagram or left incomplete
	Incomplete int   // datagrams still missing fragments at end of file
	Expired    int64 // datagrams dropped for missing fragments past the timeout
}

type packetSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// ReadPCAP turns a pcap or pcapng capture of telemetry traffic into
// capture log records, in file order. Each record takes its timestamp
// from the frame, its interval from the previous imported record (clamped
// at zero) and its source from the IP and UDP headers. Fragmented IPv4
// datagrams are reassembled. Frames that cannot be used are reported to
// onSkip with their 1-based position in the file. Only read errors are
// returned, together with the records read so far.
func ReadPCAP(r io.Reader, cfg ImportConfig, onSkip SkipFunc) ([]core.PacketRecord, ImportResult, error) {
	var res ImportResult

	src, err := openCapture(r)
	if err != nil {
		return nil, res, err
	}
	if lt := src.LinkType(); lt != layers.LinkTypeEthernet {
		return nil, res, fmt.Errorf("%w: link type %s, only Ethernet captures can be imported", core.ErrUnsupportedProto, lt)
	}

	dec := decoder.NewFrameDecoder(cfg.Reassembly)
	var records []core.PacketRecord
	var prevTS float64

	for {
		data, ci, err := src.ReadPacketData()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, res, fmt.Errorf("read frame %d: %w", res.Frames+1, err)
		}
		res.Frames++

		dg, ok, err := dec.Decode(data, ci.Timestamp)
		switch {
		case err != nil:
			res.Skipped++
			metrics.ImportFramesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
			if onSkip != nil {
				onSkip(res.Frames, err)
			}
			continue
		case !ok:
			res.Fragments++
			metrics.ImportFramesTotal.WithLabelValues(metrics.ResultFragment).Inc()
			continue
		case cfg.Port != 0 && int(dg.UDP.DstPort) != cfg.Port:
			res.Filtered++
			metrics.ImportFramesTotal.WithLabelValues(metrics.ResultFiltered).Inc()
			continue
		}

		ts := core.TimeToSeconds(ci.Timestamp)
		rec := core.PacketRecord{
			Timestamp: ts,
			Source:    dg.Src().String(),
			Length:    len(dg.Payload),
			Payload:   append([]byte(nil), dg.Payload...),
		}
		if len(records) > 0 {
			rec.Interval = max(ts-prevTS, 0)
		}
		prevTS = ts

		records = append(records, rec)
		res.Imported++
		metrics.ImportFramesTotal.WithLabelValues(metrics.ResultImported).Inc()
	}

	res.Incomplete = dec.Reassembler().Pending()
	res.Expired = dec.Reassembler().Expired()
	return records, res, nil
}

// openCapture sniffs the file magic and opens a pcap or pcapng reader.
func openCapture(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return ng, nil
	}

	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return pr, nil
}
