package ebml

import (
	"io"

	"github.com/pkg/errors"
)

// ErrGapTooSmall is returned when a Segment-child gap cannot be filled by a
// valid Void element (a Void needs at least 2 bytes: a 1-byte ID plus a
// 1-byte size VINT) — spec's invariant that a 1-byte gap is a hard error.
var ErrGapTooSmall = errors.New("ebml: gap of 1 byte cannot be filled (invariant violation)")

// UnknownSizeVInt returns the reserved "unknown size" encoding of the given
// width: marker bit plus all-ones data bits, which collapses to 0xFF in
// every octet regardless of width.
func UnknownSizeVInt(width int) []byte {
	buf := make([]byte, width)
	for i := range buf {
		buf[i] = 0xFF
	}
	return buf
}

// MasterPatch records where an unknown-size master element's header was
// written so its size can be back-patched once its payload is complete.
type MasterPatch struct {
	IDOffset      int64
	SizeOffset    int64
	Width         int
	PayloadStart  int64
}

// StartUnknownSizeMaster writes id followed by a reserved size field of the
// given width (always 8 for Segment/Cluster per spec) and returns a patch
// descriptor used to back-patch the real size once the element is closed.
func StartUnknownSizeMaster(w io.WriteSeeker, id []byte, width int) (*MasterPatch, error) {
	idOffset, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	if err := writeAll(w, id); err != nil {
		return nil, err
	}
	sizeOffset := idOffset + int64(len(id))
	if err := writeAll(w, UnknownSizeVInt(width)); err != nil {
		return nil, err
	}
	payloadStart := sizeOffset + int64(width)
	return &MasterPatch{IDOffset: idOffset, SizeOffset: sizeOffset, Width: width, PayloadStart: payloadStart}, nil
}

// PatchSize seeks back to the reserved size field, writes the element's now-
// known payload size at the same width (the width is never changed once
// reserved), then restores the write cursor to end-of-stream.
func (p *MasterPatch) PatchSize(w io.WriteSeeker) (payloadSize int64, err error) {
	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	payloadSize = end - p.PayloadStart
	sizeBytes, err := EncodeVInt(uint64(payloadSize), p.Width)
	if err != nil {
		return 0, err
	}
	if _, err = w.Seek(p.SizeOffset, io.SeekStart); err != nil {
		return 0, err
	}
	if err = writeAll(w, sizeBytes); err != nil {
		return 0, err
	}
	if _, err = w.Seek(end, io.SeekStart); err != nil {
		return 0, err
	}
	return payloadSize, nil
}

// Footprint is the element's total on-disk byte span, ID through payload.
func (p *MasterPatch) Footprint(w io.WriteSeeker) (int64, error) {
	end, err := w.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	return end - p.IDOffset, nil
}

// WriteVoidFootprint writes a single Void element whose total on-disk size
// (ID + size VINT + payload) is exactly total bytes. It picks the smallest
// size-VINT width for which a valid payload length exists.
func WriteVoidFootprint(w io.Writer, total int64) error {
	if total < 2 {
		return ErrGapTooSmall
	}
	for width := 1; width <= 8; width++ {
		payload := total - 1 - int64(width)
		if payload < 0 {
			continue
		}
		if uint64(payload) > vintMax(width) {
			continue
		}
		sizeBytes, err := EncodeVInt(uint64(payload), width)
		if err != nil {
			return err
		}
		if err := writeAll(w, IDVoid, sizeBytes); err != nil {
			return err
		}
		if payload > 0 {
			if err := writeAll(w, make([]byte, payload)); err != nil {
				return err
			}
		}
		return nil
	}
	return errors.New("ebml: gap too large to fill with one Void element")
}

// ReplaceWithVoid seeks to an element's start and overwrites its entire
// on-disk footprint with a single Void of identical size — used both for
// empty-Cluster elision and for rewriting a reserved placeholder region that
// turned out larger than what was actually written into it.
func ReplaceWithVoid(w io.WriteSeeker, offset, footprint int64) error {
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	return WriteVoidFootprint(w, footprint)
}

// RewriteReservedRegion seeks to a previously-reserved Void region and
// overwrites it with element, padding any leftover space with a trailing
// Void. It fails if element does not fit within the reservation.
func RewriteReservedRegion(w io.WriteSeeker, offset int64, reserved int64, element []byte) error {
	if int64(len(element)) > reserved {
		return errors.New("ebml: rendered element does not fit reserved region")
	}
	if _, err := w.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	if err := writeAll(w, element); err != nil {
		return err
	}
	remaining := reserved - int64(len(element))
	if remaining == 0 {
		return nil
	}
	return WriteVoidFootprint(w, remaining)
}

func idWidth(lead byte) int {
	mask := byte(0x80)
	w := 1
	for mask != 0 && lead&mask == 0 {
		mask >>= 1
		w++
	}
	if mask == 0 {
		return 0
	}
	return w
}

// ElementHeader is a raw (ID, size) pair read from a structural walk, used
// by the recorder's open-append path to re-link Segment children without a
// full Matroska parse.
type ElementHeader struct {
	ID            []byte
	Size          uint64
	UnknownSize   bool
	Offset        int64
	DataOffset    int64
}

// ReadElementHeader reads one element's ID and size VINTs from r.
func ReadElementHeader(r io.ReadSeeker) (*ElementHeader, error) {
	offset, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, err
	}
	var first [1]byte
	if _, err := io.ReadFull(r, first[:]); err != nil {
		return nil, err
	}
	idW := idWidth(first[0])
	if idW == 0 {
		return nil, errors.New("ebml: invalid element ID octet")
	}
	id := make([]byte, idW)
	id[0] = first[0]
	if idW > 1 {
		if _, err := io.ReadFull(r, id[1:]); err != nil {
			return nil, err
		}
	}
	var sizeFirst [1]byte
	if _, err := io.ReadFull(r, sizeFirst[:]); err != nil {
		return nil, err
	}
	sW := idWidth(sizeFirst[0])
	if sW == 0 {
		return nil, errors.New("ebml: invalid size VINT octet")
	}
	sizeBuf := make([]byte, sW)
	sizeBuf[0] = sizeFirst[0]
	if sW > 1 {
		if _, err := io.ReadFull(r, sizeBuf[1:]); err != nil {
			return nil, err
		}
	}
	val, _, err := DecodeVInt(sizeBuf)
	if err != nil {
		return nil, err
	}
	dataOffset := offset + int64(idW) + int64(sW)
	return &ElementHeader{
		ID:          id,
		Size:        val,
		UnknownSize: IsUnknownSize(val, sW),
		Offset:      offset,
		DataOffset:  dataOffset,
	}, nil
}

// SkipToEnd advances r past this element's payload.
func (h *ElementHeader) SkipToEnd(r io.ReadSeeker) (int64, error) {
	end := h.DataOffset + int64(h.Size)
	return r.Seek(end, io.SeekStart)
}
