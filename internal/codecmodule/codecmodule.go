// Package codecmodule implements the per-codec strategy table that adapts
// between realtime packet shapes and the container's frame-oriented storage:
// H.264 (RTP/AVCC), pcmu (WAV-private µ-law) and opus. The registry is a
// read-only, process-wide constant, matching the "mutable global state" note
// that the only such state in this system is this table.
package codecmodule

import (
	"strings"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// ID selects a strategy from the registry. NoneID is the zero value and no
// registry row carries it: ByRFCName and ByCodecID report an unrecognized
// name with ok=false. A Module built from an Entry whose optional
// capabilities are nil falls back to the documented defaults.
type ID int

const (
	NoneID ID = iota
	H264ID
	PCMUID
	OpusID
)

// State is the opaque per-instance codec state a registry entry's functions
// operate on (an *h264State, *wavState or *opusState).
type State interface{}

// Entry is one registry row: the capability set spec.md §3/§4.1 describes.
// A nil function means the capability is absent and the documented default
// applies (see Module's wrapper methods below).
type Entry struct {
	ID      ID
	RFCName string
	CodecID string

	New func() State

	Set        func(st State, fmt media.Format) error
	Preprocess func(st State, in []*media.Buffer) ([]*media.Buffer, error)
	Process    func(st State, in *media.Buffer) (*media.Frame, error)
	Reverse    func(st State, fr *media.Frame, isFirstFrame bool) ([]*media.Buffer, error)
	IsKeyframe func(st State, fr *media.Frame) bool

	SerializePrivate func(st State) []byte
	LoadPrivate      func(st State, data []byte, size int) error
}

var registry = []*Entry{
	h264Entry,
	pcmuEntry,
	opusEntry,
}

// ByRFCName looks up a registry entry by the encoder-facing name (e.g. "H264"),
// ignoring case, so "PCMU" and "pcmu" select the same entry.
func ByRFCName(name string) (*Entry, bool) {
	for _, e := range registry {
		if strings.EqualFold(e.RFCName, name) {
			return e, true
		}
	}
	return nil, false
}

// ByCodecID looks up a registry entry by the Matroska CodecID string stored
// in a track (e.g. "V_MPEG4/ISO/AVC"), recovering the RFC name of a track
// discovered on file open — the original's codec_id_to_rfc_name lookup.
func ByCodecID(codecID string) (*Entry, bool) {
	for _, e := range registry {
		if e.CodecID == codecID {
			return e, true
		}
	}
	return nil, false
}

// Module wraps one live codec-module instance: a registry entry plus its
// per-track state, applying the documented fallback behavior for absent
// capabilities so callers never need to nil-check a function pointer.
type Module struct {
	entry *Entry
	state State
}

// New instantiates a fresh Module for the given registry entry.
func New(e *Entry) *Module {
	return &Module{entry: e, state: e.New()}
}

func (m *Module) ID() ID           { return m.entry.ID }
func (m *Module) RFCName() string  { return m.entry.RFCName }
func (m *Module) CodecID() string  { return m.entry.CodecID }
func (m *Module) State() State     { return m.state }

func (m *Module) Set(fmt media.Format) error {
	if m.entry.Set == nil {
		return nil
	}
	return m.entry.Set(m.state, fmt)
}

// Preprocess defaults to identity pass-through.
func (m *Module) Preprocess(in []*media.Buffer) ([]*media.Buffer, error) {
	if m.entry.Preprocess == nil {
		return in, nil
	}
	return m.entry.Preprocess(m.state, in)
}

// Process defaults to marking every buffer a keyframe and carrying its bytes
// through unchanged.
func (m *Module) Process(in *media.Buffer) (*media.Frame, error) {
	if m.entry.Process == nil {
		return &media.Frame{Timestamp: in.Timestamp, Data: in.Bytes(), Keyframe: true}, nil
	}
	return m.entry.Process(m.state, in)
}

// Reverse defaults to identity: the frame's bytes become the sole output
// buffer at the frame's timestamp.
func (m *Module) Reverse(fr *media.Frame, isFirstFrame bool) ([]*media.Buffer, error) {
	if m.entry.Reverse == nil {
		return []*media.Buffer{{Timestamp: fr.Timestamp, Chunks: [][]byte{fr.Data}, Keyframe: fr.Keyframe}}, nil
	}
	return m.entry.Reverse(m.state, fr, isFirstFrame)
}

// IsKeyframe defaults to true, consistent with Process's default of marking
// every buffer a keyframe.
func (m *Module) IsKeyframe(fr *media.Frame) bool {
	if m.entry.IsKeyframe == nil {
		return true
	}
	return m.entry.IsKeyframe(m.state, fr)
}

func (m *Module) SerializePrivate() []byte {
	return m.entry.SerializePrivate(m.state)
}

func (m *Module) LoadPrivate(data []byte, size int) error {
	return m.entry.LoadPrivate(m.state, data, size)
}
