package mkv

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"

	"github.com/bugVanisher/mkvrecorder/internal/ebml"
	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// findChild walks the immediate (non-recursive) children of a master
// element's already-read payload, returning the first one matching id.
func findChild(payload, id []byte) ([]byte, bool) {
	r := bytes.NewReader(payload)
	for {
		hdr, err := ebml.ReadElementHeader(r)
		if err != nil {
			return nil, false
		}
		data := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, false
		}
		if bytes.Equal(hdr.ID, id) {
			return data, true
		}
	}
}

func findUint(payload, id []byte) (uint64, bool) {
	b, ok := findChild(payload, id)
	if !ok {
		return 0, false
	}
	var v uint64
	for _, o := range b {
		v = v<<8 | uint64(o)
	}
	return v, true
}

func findString(payload []byte, id []byte) (string, bool) {
	b, ok := findChild(payload, id)
	if !ok {
		return "", false
	}
	return string(b), true
}

func findBytes(payload, id []byte) ([]byte, bool) {
	return findChild(payload, id)
}

func findFloat(payload, id []byte) (float64, bool) {
	b, ok := findChild(payload, id)
	if !ok || len(b) != 8 {
		return 0, false
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), true
}

// parseTracks decodes a Tracks element's payload into TrackInfo rows,
// recovering per-track CodecID/CodecPrivate/geometry on open-append.
func parseTracks(payload []byte) ([]TrackInfo, error) {
	var tracks []TrackInfo
	r := bytes.NewReader(payload)
	for {
		hdr, err := ebml.ReadElementHeader(r)
		if err != nil {
			break
		}
		data := make([]byte, hdr.Size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if !bytes.Equal(hdr.ID, ebml.IDTrackEntry) {
			continue
		}
		t := TrackInfo{}
		if n, ok := findUint(data, ebml.IDTrackNumber); ok {
			t.Number = int(n)
		}
		if typ, ok := findUint(data, ebml.IDTrackType); ok {
			if typ == ebml.TrackTypeVideo {
				t.Kind = media.Video
			} else {
				t.Kind = media.Audio
			}
		}
		if id, ok := findString(data, ebml.IDCodecID); ok {
			t.CodecID = id
		}
		if priv, ok := findBytes(data, ebml.IDCodecPrivate); ok {
			t.CodecPrivate = priv
		}
		if video, ok := findChild(data, ebml.IDVideo); ok {
			if w, ok := findUint(video, ebml.IDPixelWidth); ok {
				t.Width = int(w)
			}
			if h, ok := findUint(video, ebml.IDPixelHeight); ok {
				t.Height = int(h)
			}
		}
		if audio, ok := findChild(data, ebml.IDAudio); ok {
			if f, ok := findFloat(audio, ebml.IDSamplingFrequency); ok {
				t.SamplingFreq = f
			}
			if c, ok := findUint(audio, ebml.IDChannels); ok {
				t.Channels = int(c)
			}
		}
		tracks = append(tracks, t)
	}
	return tracks, nil
}
