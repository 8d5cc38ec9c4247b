package timecorrect

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

func TestProceedFreezesOffsetPerPinUntilReset(t *testing.T) {
	c := New(2, 1000)

	b1 := &media.Buffer{Timestamp: 100}
	c.Proceed(b1, 0, 900)
	require.Equal(t, int64(1000), b1.Timestamp)

	b2 := &media.Buffer{Timestamp: 150}
	c.Proceed(b2, 0, 950)
	require.Equal(t, int64(1050), b2.Timestamp)

	b3 := &media.Buffer{Timestamp: 500}
	c.Proceed(b3, 1, 950)
	require.Equal(t, int64(1050), b3.Timestamp)
}

func TestResetRecomputesOffsets(t *testing.T) {
	c := New(1, 0)
	b1 := &media.Buffer{Timestamp: 100}
	c.Proceed(b1, 0, 0)
	require.Equal(t, int64(0), b1.Timestamp)

	c.Reset()
	c.SetOrigin(5000)

	b2 := &media.Buffer{Timestamp: 200}
	c.Proceed(b2, 0, 4900)
	require.Equal(t, int64(5000), b2.Timestamp)
}
