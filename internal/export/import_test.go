package export

import (
	"bytes"
	"encoding/binary"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/telemcap/internal/capturelog"
	"firestige.xyz/telemcap/internal/core"
)

// rawFrame wraps an IPv4 packet carrying data in an Ethernet header. The
// decoder does not check checksums, so they are left zero.
func rawFrame(src [4]byte, id, flags uint16, data []byte) []byte {
	frame := make([]byte, 14+20+len(data))
	binary.BigEndian.PutUint16(frame[12:14], 0x0800)

	ip := frame[14:]
	ip[0] = 0x45
	binary.BigEndian.PutUint16(ip[2:4], uint16(20+len(data)))
	binary.BigEndian.PutUint16(ip[4:6], id)
	binary.BigEndian.PutUint16(ip[6:8], flags)
	ip[8] = 64
	ip[9] = 17
	copy(ip[12:16], src[:])
	copy(ip[16:20], []byte{192, 168, 1, 20})
	copy(ip[20:], data)
	return frame
}

func udpData(srcPort, dstPort uint16, payload []byte) []byte {
	seg := make([]byte, 8+len(payload))
	binary.BigEndian.PutUint16(seg[0:2], srcPort)
	binary.BigEndian.PutUint16(seg[2:4], dstPort)
	binary.BigEndian.PutUint16(seg[4:6], uint16(len(seg)))
	copy(seg[8:], payload)
	return seg
}

func writeCapture(t *testing.T, t0 time.Time, frames ...[]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65536, layers.LinkTypeEthernet))
	for i, f := range frames {
		ci := gopacket.CaptureInfo{
			Timestamp:     t0.Add(time.Duration(i) * 100 * time.Millisecond),
			CaptureLength: len(f),
			Length:        len(f),
		}
		require.NoError(t, w.WritePacket(ci, f))
	}
	return buf.Bytes()
}

func TestReadPCAPRoundTrip(t *testing.T) {
	entries := []capturelog.Entry{
		entry(1718000000.000000, "192.168.1.50:54321", []byte{0xE6, 0x07, 0x01}),
		entry(1718000000.016667, "192.168.1.50:54321", bytes.Repeat([]byte{0x5A}, 1464)),
		entry(1718000000.050000, "[fe80::1]:54321", []byte{0xE6, 0x07, 0x03}),
	}

	var pcap bytes.Buffer
	_, err := WritePCAP(&pcap, entries, Config{DstAddr: netip.MustParseAddrPort("127.0.0.1:20777")}, nil)
	require.NoError(t, err)

	records, res, err := ReadPCAP(&pcap, ImportConfig{Port: 20777}, nil)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Frames: 3, Imported: 3}, res)
	require.Len(t, records, 3)

	for i, rec := range records {
		want, err := entries[i].Record()
		require.NoError(t, err)
		assert.InDelta(t, want.Timestamp, rec.Timestamp, 2e-6, "record %d timestamp", i)
		assert.Equal(t, want.Source, rec.Source)
		assert.Equal(t, want.Payload, rec.Payload)
		assert.Equal(t, len(want.Payload), rec.Length)
	}
	assert.Zero(t, records[0].Interval)
	assert.InDelta(t, 0.016667, records[1].Interval, 2e-6)
	assert.InDelta(t, 0.033333, records[2].Interval, 2e-6)
}

func TestReadPCAPFiltersAndReassembles(t *testing.T) {
	src := [4]byte{192, 168, 1, 50}
	big := udpData(54321, 20777, bytes.Repeat([]byte{0x42}, 1464))

	frames := [][]byte{
		rawFrame(src, 1, 0, udpData(54321, 20777, []byte{0x01})),
		rawFrame(src, 2, 0, udpData(54321, 9999, []byte{0x02})),
		append(make([]byte, 12), 0x08, 0x06, 0x00, 0x01), // ARP
		rawFrame(src, 3, 0x2000, big[:1016]),
		rawFrame(src, 3, 1016/8, big[1016:]),
		rawFrame(src, 4, 0x2000, big[:512]),
	}
	t0 := time.Unix(1718000000, 0)

	var skipped []int
	records, res, err := ReadPCAP(bytes.NewReader(writeCapture(t, t0, frames...)), ImportConfig{Port: 20777},
		func(index int, err error) {
			skipped = append(skipped, index)
			assert.ErrorIs(t, err, core.ErrUnsupportedProto)
		})
	require.NoError(t, err)

	assert.Equal(t, ImportResult{Frames: 6, Imported: 2, Filtered: 1, Skipped: 1, Fragments: 2, Incomplete: 1}, res)
	assert.Equal(t, []int{3}, skipped)

	require.Len(t, records, 2)
	assert.Equal(t, []byte{0x01}, records[0].Payload)
	assert.Equal(t, "192.168.1.50:54321", records[1].Source)
	assert.Equal(t, 1464, records[1].Length)
	assert.InDelta(t, 0.4, records[1].Interval, 1e-6, "interval spans the filtered and skipped frames")
}

func TestReadPCAPAnyPort(t *testing.T) {
	src := [4]byte{10, 0, 0, 1}
	data := writeCapture(t, time.Unix(0, 0),
		rawFrame(src, 1, 0, udpData(1000, 20777, []byte{1})),
		rawFrame(src, 2, 0, udpData(1000, 20778, []byte{2})),
	)

	records, res, err := ReadPCAP(bytes.NewReader(data), ImportConfig{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Len(t, records, 2)
}

func TestReadPCAPNg(t *testing.T) {
	var buf bytes.Buffer
	w, err := pcapgo.NewNgWriter(&buf, layers.LinkTypeEthernet)
	require.NoError(t, err)
	frame := rawFrame([4]byte{10, 0, 0, 1}, 1, 0, udpData(1000, 20777, []byte("ng")))
	require.NoError(t, w.WritePacket(gopacket.CaptureInfo{
		Timestamp:     time.Unix(1718000000, 0),
		CaptureLength: len(frame),
		Length:        len(frame),
	}, frame))
	require.NoError(t, w.Flush())

	records, res, err := ReadPCAP(&buf, ImportConfig{Port: 20777}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)
	require.Len(t, records, 1)
	assert.Equal(t, []byte("ng"), records[0].Payload)
	assert.InDelta(t, 1718000000.0, records[0].Timestamp, 1e-6)
}

func TestReadPCAPRejects(t *testing.T) {
	t.Run("raw IP link type", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, pcapgo.NewWriter(&buf).WriteFileHeader(65536, layers.LinkTypeRaw))
		_, _, err := ReadPCAP(&buf, ImportConfig{}, nil)
		assert.ErrorIs(t, err, core.ErrUnsupportedProto)
	})

	t.Run("empty input", func(t *testing.T) {
		_, _, err := ReadPCAP(bytes.NewReader(nil), ImportConfig{}, nil)
		assert.Error(t, err)
	})

	t.Run("not a capture", func(t *testing.T) {
		_, _, err := ReadPCAP(bytes.NewReader([]byte(`{"timestamp":1}`+"\n")), ImportConfig{}, nil)
		assert.Error(t, err)
	})
}
