package mux

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

func TestGetReturnsAscendingTimestampAcrossPins(t *testing.T) {
	m := New(2)
	m.Put(&media.Buffer{Timestamp: 30}, 0)
	m.Put(&media.Buffer{Timestamp: 10}, 1)
	m.Put(&media.Buffer{Timestamp: 20}, 0)

	buf, pin, ok := m.Get()
	require.True(t, ok)
	require.Equal(t, int64(10), buf.Timestamp)
	require.Equal(t, 1, pin)

	buf, pin, ok = m.Get()
	require.True(t, ok)
	require.Equal(t, int64(30), buf.Timestamp)
	require.Equal(t, 0, pin)

	buf, pin, ok = m.Get()
	require.True(t, ok)
	require.Equal(t, int64(20), buf.Timestamp)
	require.Equal(t, 0, pin)

	_, _, ok = m.Get()
	require.False(t, ok)
}

func TestGetBreaksTiesByLowestPinIndex(t *testing.T) {
	m := New(3)
	m.Put(&media.Buffer{Timestamp: 5}, 2)
	m.Put(&media.Buffer{Timestamp: 5}, 0)
	m.Put(&media.Buffer{Timestamp: 5}, 1)

	_, pin, ok := m.Get()
	require.True(t, ok)
	require.Equal(t, 0, pin)
}

func TestFlushDiscardsAllQueues(t *testing.T) {
	m := New(2)
	m.Put(&media.Buffer{Timestamp: 1}, 0)
	m.Put(&media.Buffer{Timestamp: 2}, 1)
	m.Flush()
	_, _, ok := m.Get()
	require.False(t, ok)
	require.Equal(t, 0, m.Len(0))
	require.Equal(t, 0, m.Len(1))
}
