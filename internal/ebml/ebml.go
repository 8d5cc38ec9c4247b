// Package ebml is a small, hand-rolled Extensible Binary Meta Language
// writer/reader engine — there is no public Go library in the reachable
// ecosystem that both writes and reads Matroska trees, so the container
// engine's structure (internal/mkv) is built directly on this package.
// Element IDs below are the Matroska specification's IDs (one to four octets).
package ebml

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/pkg/errors"
)

// Element IDs used by this module, written as their raw (marker-bit
// included) big-endian byte sequences.
var (
	IDEBMLHeader   = []byte{0x1A, 0x45, 0xDF, 0xA3}
	IDVersion      = []byte{0x42, 0x86}
	IDReadVersion  = []byte{0x42, 0xF7}
	IDMaxIDLength  = []byte{0x42, 0xF2}
	IDMaxSizeLen   = []byte{0x42, 0xF3}
	IDDocType      = []byte{0x42, 0x82}
	IDDocTypeVer   = []byte{0x42, 0x87}
	IDDocTypeRead  = []byte{0x42, 0x85}

	IDSegment = []byte{0x18, 0x53, 0x80, 0x67}

	IDSeekHead  = []byte{0x11, 0x4D, 0x9B, 0x74}
	IDSeek      = []byte{0x4D, 0xBB}
	IDSeekID    = []byte{0x53, 0xAB}
	IDSeekPos   = []byte{0x53, 0xAC}

	IDInfo          = []byte{0x15, 0x49, 0xA9, 0x66}
	IDTimecodeScale = []byte{0x2A, 0xD7, 0xB1}
	IDDuration      = []byte{0x44, 0x89}
	IDMuxingApp     = []byte{0x4D, 0x80}
	IDWritingApp    = []byte{0x57, 0x41}
	IDSegmentUID    = []byte{0x73, 0xA4}

	IDTracks     = []byte{0x16, 0x54, 0xAE, 0x6B}
	IDTrackEntry = []byte{0xAE}

	IDTrackNumber        = []byte{0xD7}
	IDTrackUID           = []byte{0x73, 0xC5}
	IDTrackType          = []byte{0x83}
	IDFlagEnabled        = []byte{0xB9}
	IDFlagDefault        = []byte{0x88}
	IDFlagForced         = []byte{0x55, 0xAA}
	IDFlagLacing         = []byte{0x9C}
	IDMinCache           = []byte{0x6D, 0xE7}
	IDMaxBlockAdditionID = []byte{0x55, 0xEE}
	IDCodecID            = []byte{0x86}
	IDCodecPrivate       = []byte{0x63, 0xA2}
	IDCodecDecodeAll     = []byte{0xAA}

	IDVideo          = []byte{0xE0}
	IDFlagInterlaced = []byte{0x9A}
	IDPixelWidth     = []byte{0xB0}
	IDPixelHeight    = []byte{0xBA}

	IDAudio              = []byte{0xE1}
	IDSamplingFrequency  = []byte{0xB5}
	IDChannels           = []byte{0x9F}

	IDCluster   = []byte{0x1F, 0x43, 0xB6, 0x75}
	IDTimecode  = []byte{0xE7}
	IDSimpleBlock = []byte{0xA3}

	IDCues             = []byte{0x1C, 0x53, 0xBB, 0x6B}
	IDCuePoint         = []byte{0xBB}
	IDCueTime          = []byte{0xB3}
	IDCueTrackPos      = []byte{0xB7}
	IDCueTrack         = []byte{0xF7}
	IDCueClusterPos    = []byte{0xF1}

	IDVoid = []byte{0xEC}
)

const TrackTypeVideo = 1
const TrackTypeAudio = 2

// SimpleBlock flag bits.
const (
	SimpleBlockKeyframe     = 0x80
	SimpleBlockDiscardable  = 0x01
)

var errUnsupportedVIntWidth = errors.New("ebml: value does not fit in 8 octets")

// vintMax is the largest value representable in a VINT of the given width
// (width*7 data bits, with the all-ones pattern reserved for "unknown size").
func vintMax(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64 >> 8 // includes the all-ones value; size fields never approach it
	}
	return (uint64(1) << uint(width*7)) - 2
}

// MinWidth returns the smallest VINT width that can hold v without colliding
// with the reserved all-ones ("unknown size") encoding.
func MinWidth(v uint64) int {
	for w := 1; w <= 8; w++ {
		if v <= vintMax(w) {
			return w
		}
	}
	return 8
}

// EncodeVInt encodes v as an EBML variable-length integer of exactly width
// octets, with the width's marker bit set in the leading octet.
func EncodeVInt(v uint64, width int) ([]byte, error) {
	if width < 1 || width > 8 {
		return nil, errUnsupportedVIntWidth
	}
	if v > vintMax(width) {
		return nil, errUnsupportedVIntWidth
	}
	buf := make([]byte, width)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	buf[0] |= 1 << uint(8-width)
	return buf, nil
}

// DecodeVInt reads one EBML VINT (ID or size) from b, returning its raw
// decoded value (marker bit stripped) and the number of octets consumed.
func DecodeVInt(b []byte) (value uint64, width int, err error) {
	if len(b) == 0 {
		return 0, 0, io.ErrUnexpectedEOF
	}
	lead := b[0]
	width = 1
	mask := byte(0x80)
	for mask != 0 && lead&mask == 0 {
		mask >>= 1
		width++
	}
	if width > 8 || mask == 0 {
		return 0, 0, errors.New("ebml: invalid VINT leading octet")
	}
	if len(b) < width {
		return 0, 0, io.ErrUnexpectedEOF
	}
	value = uint64(lead &^ mask)
	for i := 1; i < width; i++ {
		value = value<<8 | uint64(b[i])
	}
	return value, width, nil
}

// IsUnknownSize reports whether a decoded size VINT of the given width was
// the reserved all-ones ("unknown size") pattern.
func IsUnknownSize(value uint64, width int) bool {
	if width < 1 || width > 8 {
		return false
	}
	return value == (uint64(1)<<uint(width*7))-1
}

func writeAll(w io.Writer, chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := w.Write(c); err != nil {
			return err
		}
	}
	return nil
}

// WriteElementWithSize writes id, a size VINT for len(payload), then payload.
func WriteElementWithSize(w io.Writer, id []byte, payload []byte) error {
	sizeW := MinWidth(uint64(len(payload)))
	size, err := EncodeVInt(uint64(len(payload)), sizeW)
	if err != nil {
		return err
	}
	return writeAll(w, id, size, payload)
}

func encodeUint(v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < 7 && tmp[i] == 0 {
		i++
	}
	return tmp[i:]
}

// WriteUint writes an element carrying a big-endian minimal-width unsigned
// integer, the encoding Matroska uses for all Uint-typed elements.
func WriteUint(w io.Writer, id []byte, v uint64) error {
	return WriteElementWithSize(w, id, encodeUint(v))
}

// WriteFloat64 writes an 8-byte IEEE-754 float element (Matroska's Duration
// and SamplingFrequency use the Float EBML type).
func WriteFloat64(w io.Writer, id []byte, v float64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return WriteElementWithSize(w, id, buf[:])
}

// WriteString writes a UTF-8/ASCII string element.
func WriteString(w io.Writer, id []byte, s string) error {
	return WriteElementWithSize(w, id, []byte(s))
}

// WriteBytes writes a binary element verbatim.
func WriteBytes(w io.Writer, id []byte, b []byte) error {
	return WriteElementWithSize(w, id, b)
}

// WriteMaster writes id, a size VINT for len(payload), then payload — used
// for any master element whose full rendered payload is already known (every
// element except Segment and Cluster, which stream their children and must
// be back-patched; see StartUnknownSizeMaster and MasterPatch in this package).
func WriteMaster(w io.Writer, id []byte, payload []byte) error {
	return WriteElementWithSize(w, id, payload)
}
