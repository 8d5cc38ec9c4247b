// Package rtppack wraps the RFC 3984 H.264-over-RTP packetizer/depacketizer
// behind a local interface. The container engine and codec-module layer only
// ever see this interface, never a concrete transport dependency — per the
// specification the packetizer/depacketizer is an external collaborator
// consumed as a black box.
package rtppack

// Depacketizer accumulates RTP payloads and yields complete NAL units,
// signaling accessUnitEnd when it has observed the boundary of one decoded
// picture's worth of NALUs (the RFC 3984 single-NAL-unit and FU-A modes
// both signal this on the payload carrying a VCL NALU).
type Depacketizer interface {
	Depacketize(payload []byte) (nalus [][]byte, accessUnitEnd bool)
}

// Packetizer fragments a NALU sequence into RTP-payload-sized chunks.
type Packetizer interface {
	Packetize(nalus [][]byte, mtu int) [][]byte
}

// Codec is the full collaborator surface the H.264 codec module depends on.
type Codec interface {
	Depacketizer
	Packetizer
}

const DefaultMTU = 1400

// fuA is the FU-A NAL unit type; fuStartBit/fuEndBit are the start/end flags
// of the FU-A header; nalTypeBit isolates the 5-bit NAL unit type.
const (
	fuA        = 28
	fuStartBit = 0x80
	fuEndBit   = 0x40
	nalTypeBit = 0x1f
)

// NewDefault returns a reference RFC 3984 codec supporting single-NAL-unit
// packets and FU-A fragmentation, the two modes real UAs overwhelmingly use.
// It is deliberately the only concrete implementation in this module; a
// production deployment would swap it for whatever depacketizer the
// filter-graph host already wires in.
func NewDefault() Codec {
	return &defaultCodec{}
}

type defaultCodec struct {
	fuBuf []byte
	fuNal byte
}

func (c *defaultCodec) Depacketize(payload []byte) ([][]byte, bool) {
	if len(payload) == 0 {
		return nil, false
	}
	naluType := payload[0] & nalTypeBit
	if naluType != fuA {
		return [][]byte{payload}, isVCL(naluType)
	}
	if len(payload) < 2 {
		return nil, false
	}
	fuHeader := payload[1]
	fragType := fuHeader & nalTypeBit
	if fuHeader&fuStartBit != 0 {
		c.fuNal = (payload[0] & 0xe0) | fragType
		c.fuBuf = append([]byte{}, payload[2:]...)
		return nil, false
	}
	c.fuBuf = append(c.fuBuf, payload[2:]...)
	if fuHeader&fuEndBit == 0 {
		return nil, false
	}
	nalu := append([]byte{c.fuNal}, c.fuBuf...)
	c.fuBuf = nil
	return [][]byte{nalu}, isVCL(fragType)
}

func isVCL(naluType byte) bool {
	return naluType >= 1 && naluType <= 5
}

func (c *defaultCodec) Packetize(nalus [][]byte, mtu int) [][]byte {
	if mtu <= 2 {
		mtu = DefaultMTU
	}
	var out [][]byte
	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}
		if len(nalu) <= mtu {
			out = append(out, nalu)
			continue
		}
		header := nalu[0]
		payload := nalu[1:]
		first := true
		for len(payload) > 0 {
			chunkLen := mtu - 2
			if chunkLen > len(payload) {
				chunkLen = len(payload)
			}
			chunk := payload[:chunkLen]
			payload = payload[chunkLen:]
			var fuHeader byte
			if first {
				fuHeader = fuStartBit
				first = false
			}
			if len(payload) == 0 {
				fuHeader |= fuEndBit
			}
			fuHeader |= header & nalTypeBit
			indicator := (header & 0xe0) | fuA
			pkt := make([]byte, 0, len(chunk)+2)
			pkt = append(pkt, indicator, fuHeader)
			pkt = append(pkt, chunk...)
			out = append(out, pkt)
		}
	}
	return out
}
