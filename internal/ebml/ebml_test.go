package ebml

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVIntRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 126, 127, 128, 16383, 16384, 1 << 20, 1<<40 - 1}
	for _, v := range cases {
		w := MinWidth(v)
		enc, err := EncodeVInt(v, w)
		require.NoError(t, err)
		got, gotW, err := DecodeVInt(enc)
		require.NoError(t, err)
		require.Equal(t, w, gotW)
		require.Equal(t, v, got)
	}
}

func TestUnknownSizeVIntIsAllOnes(t *testing.T) {
	for w := 1; w <= 8; w++ {
		b := UnknownSizeVInt(w)
		for _, o := range b {
			require.Equal(t, byte(0xFF), o)
		}
	}
}

func TestVoidFootprintExactSize(t *testing.T) {
	for total := int64(2); total < 300; total++ {
		var buf bytes.Buffer
		err := WriteVoidFootprint(&buf, total)
		require.NoError(t, err)
		require.Equal(t, total, int64(buf.Len()))
	}
}

func TestVoidFootprintRejectsSubTwoByteGap(t *testing.T) {
	var buf bytes.Buffer
	err := WriteVoidFootprint(&buf, 1)
	require.ErrorIs(t, err, ErrGapTooSmall)
}

func TestMasterPatchRoundTrip(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ebml-*.bin")
	require.NoError(t, err)
	defer f.Close()

	patch, err := StartUnknownSizeMaster(f, IDCluster, 8)
	require.NoError(t, err)
	require.Equal(t, int64(0), patch.IDOffset)

	_, err = f.Write(bytes.Repeat([]byte{0xAB}, 37))
	require.NoError(t, err)

	size, err := patch.PatchSize(f)
	require.NoError(t, err)
	require.Equal(t, int64(37), size)

	_, err = f.Seek(patch.SizeOffset, io.SeekStart)
	require.NoError(t, err)
	sizeField := make([]byte, patch.Width)
	_, err = io.ReadFull(f, sizeField)
	require.NoError(t, err)
	got, gotW, err := DecodeVInt(sizeField)
	require.NoError(t, err)
	require.Equal(t, 8, gotW)
	require.Equal(t, uint64(37), got)
}

func TestReplaceWithVoidMatchesFootprint(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "ebml-*.bin")
	require.NoError(t, err)
	defer f.Close()

	patch, err := StartUnknownSizeMaster(f, IDCluster, 8)
	require.NoError(t, err)
	_, err = f.Write(bytes.Repeat([]byte{0x00}, 20))
	require.NoError(t, err)
	footprint, err := patch.Footprint(f)
	require.NoError(t, err)

	err = ReplaceWithVoid(f, patch.IDOffset, footprint)
	require.NoError(t, err)

	info, err := f.Stat()
	require.NoError(t, err)
	require.Equal(t, footprint, info.Size())
}
