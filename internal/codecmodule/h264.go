package codecmodule

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/bugVanisher/mkvrecorder/internal/bits/pio"
	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/internal/rtppack"
)

const (
	naluSPS = 7
	naluPPS = 8
	naluIDR = 5
)

func naluType(b []byte) byte {
	return b[0] & 0x1f
}

// h264Private mirrors spec.md §3's H.264 Private: profile/level recovered
// from the first SPS seen, the AVCC NALU length-size, and the deduplicated
// SPS/PPS chains (first occurrence wins).
type h264Private struct {
	profile  uint8
	level    uint8
	lenSizeM1 uint8
	spsList  [][]byte
	ppsList  [][]byte
}

func (p *h264Private) addSPS(nalu []byte) {
	for _, s := range p.spsList {
		if bytes.Equal(s, nalu) {
			return
		}
	}
	if len(p.spsList) == 0 && len(nalu) >= 4 {
		p.profile = nalu[1]
		p.level = nalu[3]
	}
	p.spsList = append(p.spsList, nalu)
}

func (p *h264Private) addPPS(nalu []byte) {
	for _, s := range p.ppsList {
		if bytes.Equal(s, nalu) {
			return
		}
	}
	p.ppsList = append(p.ppsList, nalu)
}

// serialize follows the AVCDecoderConfigurationRecord layout of spec.md §3:
// version=1, profile, constraint byte (always zero, per DESIGN NOTES),
// level, length-size nibble, SPS count+list, PPS count+list.
func (p *h264Private) serialize() []byte {
	n := 7
	for _, s := range p.spsList {
		n += 2 + len(s)
	}
	for _, s := range p.ppsList {
		n += 2 + len(s)
	}
	b := make([]byte, n)
	b[0] = 1
	b[1] = p.profile
	b[2] = 0
	b[3] = p.level
	b[4] = 0xfc | p.lenSizeM1
	b[5] = 0xe0 | uint8(len(p.spsList))
	off := 6
	for _, s := range p.spsList {
		pio.PutU16BE(b[off:], uint16(len(s)))
		off += 2
		copy(b[off:], s)
		off += len(s)
	}
	b[off] = uint8(len(p.ppsList))
	off++
	for _, s := range p.ppsList {
		pio.PutU16BE(b[off:], uint16(len(s)))
		off += 2
		copy(b[off:], s)
		off += len(s)
	}
	return b
}

var errAVCCTruncated = errors.New("codecmodule: truncated AVCDecoderConfigurationRecord")

// load validates strictly against size (open question #3: the original
// ignores size and trusts the record; this implementation fails closed on
// truncation instead).
func (p *h264Private) load(b []byte, size int) error {
	if size < 7 || len(b) < size {
		return errAVCCTruncated
	}
	b = b[:size]
	p.profile = b[1]
	p.level = b[3]
	p.lenSizeM1 = b[4] & 0x03
	spsCount := int(b[5] & 0x1f)
	off := 6
	p.spsList = nil
	for i := 0; i < spsCount; i++ {
		if off+2 > len(b) {
			return errAVCCTruncated
		}
		l := int(pio.U16BE(b[off:]))
		off += 2
		if off+l > len(b) {
			return errAVCCTruncated
		}
		sps := append([]byte{}, b[off:off+l]...)
		off += l
		p.spsList = append(p.spsList, sps)
	}
	if off >= len(b) {
		return errAVCCTruncated
	}
	ppsCount := int(b[off])
	off++
	p.ppsList = nil
	for i := 0; i < ppsCount; i++ {
		if off+2 > len(b) {
			return errAVCCTruncated
		}
		l := int(pio.U16BE(b[off:]))
		off += 2
		if off+l > len(b) {
			return errAVCCTruncated
		}
		pps := append([]byte{}, b[off:off+l]...)
		off += l
		p.ppsList = append(p.ppsList, pps)
	}
	if len(p.spsList) > 0 {
		p.profile = p.spsList[0][1]
		p.level = p.spsList[0][3]
	}
	return nil
}

type h264State struct {
	priv h264Private
	rtp  rtppack.Codec
}

var h264Entry = &Entry{
	ID:      H264ID,
	RFCName: "H264",
	CodecID: "V_MPEG4/ISO/AVC",
	New: func() State {
		return &h264State{priv: h264Private{lenSizeM1: 3}, rtp: rtppack.NewDefault()}
	},
	Preprocess:       h264Preprocess,
	Process:          h264Process,
	Reverse:          h264Reverse,
	IsKeyframe:       h264IsKeyframe,
	SerializePrivate: func(st State) []byte { return st.(*h264State).priv.serialize() },
	LoadPrivate: func(st State, data []byte, size int) error {
		return st.(*h264State).priv.load(data, size)
	},
}

// h264Preprocess feeds each input packet to the RFC 3984 depacketizer and
// concatenates all NALUs produced before the depacketizer signals an
// access-unit boundary into a single chained buffer, preserving the
// boundary the depacketizer itself observes.
func h264Preprocess(st State, in []*media.Buffer) ([]*media.Buffer, error) {
	s := st.(*h264State)
	var out []*media.Buffer
	var chain [][]byte
	var chainTS int64
	chainKeyframe := false
	haveChain := false
	flush := func() {
		out = append(out, &media.Buffer{Timestamp: chainTS, Chunks: chain, Keyframe: chainKeyframe})
		chain = nil
		chainKeyframe = false
		haveChain = false
	}
	for _, pkt := range in {
		payload := pkt.Bytes()
		nalus, auEnd := s.rtp.Depacketize(payload)
		if len(nalus) > 0 && !haveChain {
			chainTS = pkt.Timestamp
			haveChain = true
		}
		for _, nalu := range nalus {
			if len(nalu) > 0 && naluType(nalu) == naluIDR {
				chainKeyframe = true
			}
		}
		chain = append(chain, nalus...)
		if auEnd && haveChain {
			flush()
		}
	}
	if len(chain) > 0 {
		flush()
	}
	return out, nil
}

// h264Process walks the chained NALUs of one access unit, routing SPS/PPS
// into the private store and keyframe/other NALUs into the AVCC frame body
// with 4-byte big-endian length prefixes.
func h264Process(st State, in *media.Buffer) (*media.Frame, error) {
	s := st.(*h264State)
	var body bytes.Buffer
	keyframe := false
	for _, nalu := range in.Chunks {
		if len(nalu) == 0 {
			continue
		}
		switch naluType(nalu) {
		case naluSPS:
			s.priv.addSPS(nalu)
			continue
		case naluPPS:
			s.priv.addPPS(nalu)
			continue
		case naluIDR:
			keyframe = true
		}
		var lenPrefix [4]byte
		pio.PutU32BE(lenPrefix[:], uint32(len(nalu)))
		body.Write(lenPrefix[:])
		body.Write(nalu)
	}
	return &media.Frame{Timestamp: in.Timestamp, Data: body.Bytes(), Keyframe: keyframe}, nil
}

// h264IsKeyframe rescans an AVCC frame's length-prefixed NALUs for a type-5
// (IDR) unit, independent of the Keyframe flag Process already set.
func h264IsKeyframe(_ State, fr *media.Frame) bool {
	b := fr.Data
	off := 0
	for off+4 <= len(b) {
		n := int(pio.U32BE(b[off:]))
		off += 4
		if off+n > len(b) || n == 0 {
			break
		}
		if naluType(b[off:off+n]) == naluIDR {
			return true
		}
		off += n
	}
	return false
}

// h264Reverse splits an AVCC frame back into NALUs, prepends the stored
// SPS/PPS on keyframes, and re-packetizes through RFC 3984. The timestamp
// must be captured before any buffer release — open question #2 notes the
// original reads it after freeing the input frame, a use-after-free this
// implementation avoids by taking it from the Frame value directly.
func h264Reverse(st State, fr *media.Frame, isFirstFrame bool) ([]*media.Buffer, error) {
	s := st.(*h264State)
	ts := fr.Timestamp
	var nalus [][]byte
	b := fr.Data
	off := 0
	for off+4 <= len(b) {
		n := int(pio.U32BE(b[off:]))
		off += 4
		if n < 0 || off+n > len(b) {
			return nil, errAVCCTruncated
		}
		nalus = append(nalus, b[off:off+n])
		off += n
	}
	if fr.Keyframe && len(s.priv.spsList) > 0 && len(s.priv.ppsList) > 0 {
		nalus = append([][]byte{s.priv.spsList[0], s.priv.ppsList[0]}, nalus...)
	}
	_ = isFirstFrame // current policy: identical to subsequent frames
	packets := s.rtp.Packetize(nalus, rtppack.DefaultMTU)
	out := make([]*media.Buffer, 0, len(packets))
	for _, p := range packets {
		out = append(out, &media.Buffer{Timestamp: ts, Chunks: [][]byte{p}})
	}
	return out, nil
}
