package cmd

import "time"

// wallTicker paces the recorder/player filters against real elapsed time,
// standing in for the filter-graph host's own ticker, which is named out of
// scope by the filters' specification.
type wallTicker struct {
	start    time.Time
	interval time.Duration
}

func newWallTicker(interval time.Duration) *wallTicker {
	return &wallTicker{start: time.Now(), interval: interval}
}

func (t *wallTicker) Time() time.Duration     { return time.Since(t.start) }
func (t *wallTicker) Interval() time.Duration { return t.interval }
