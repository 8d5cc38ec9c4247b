package rtppack

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSingleNALUPassesThrough(t *testing.T) {
	c := NewDefault()
	nalus, end := c.Depacketize([]byte{0x65, 1, 2, 3})
	require.Len(t, nalus, 1)
	require.True(t, end)
}

func TestFUAFragmentReassembly(t *testing.T) {
	nalu := bytes.Repeat([]byte{0xAB}, 3000)
	nalu[0] = 0x65
	c := NewDefault()
	packets := c.Packetize([][]byte{nalu}, 200)
	require.Greater(t, len(packets), 1)

	d := NewDefault()
	var got [][]byte
	var end bool
	for _, p := range packets {
		var nalusOut [][]byte
		nalusOut, end = d.Depacketize(p)
		got = append(got, nalusOut...)
	}
	require.True(t, end)
	require.Len(t, got, 1)
	require.True(t, bytes.Equal(got[0], nalu))
}
