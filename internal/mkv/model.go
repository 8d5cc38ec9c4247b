// Package mkv implements the Matroska/EBML container engine: element tree
// build/load, SeekHead/SegmentInfo/Tracks/Cues placement with back-patched
// sizes and forward-reserved placeholders, and cluster segmentation.
package mkv

import "github.com/bugVanisher/mkvrecorder/internal/media"

// TimecodeScaleNS is fixed at 1 ms per tick, matching spec's invariant that
// TimecodeScale is never adjusted.
const TimecodeScaleNS = 1000000

// ClusterMaxDurationMS forces a cluster closed after this many milliseconds
// regardless of keyframe arrival.
const ClusterMaxDurationMS = 5000

// TrackInfo describes one Matroska track, written on creation or recovered
// from an existing file's Tracks element on open.
type TrackInfo struct {
	Number       int
	Kind         media.Kind
	CodecID      string
	CodecPrivate []byte
	Width        int
	Height       int
	SamplingFreq float64
	Channels     int
}
