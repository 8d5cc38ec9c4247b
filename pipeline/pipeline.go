// Package pipeline declares the external collaborators the recorder and
// player filters are driven by and feed into: the ticker that drives each
// tick, the per-pin queues either side of a filter, and the notification
// sink for asynchronous events such as end-of-file.
//go:generate mockgen -source=pipeline.go -destination=mock_pipeline.go -package=pipeline

package pipeline

import (
	"time"

	"github.com/bugVanisher/mkvrecorder/internal/media"
)

// Ticker drives per-tick processing; Time is the pipeline's monotonically
// increasing clock as a time.Duration (the filters read it at millisecond
// resolution), Interval the nominal tick period.
type Ticker interface {
	Time() time.Duration
	Interval() time.Duration
}

// InputPin supplies realtime buffers to a recorder input.
type InputPin interface {
	Dequeue() (*media.Buffer, bool)
}

// OutputPin receives realtime buffers produced by a player output.
type OutputPin interface {
	Enqueue(*media.Buffer)
}

// Event is an asynchronous notification a filter raises outside the normal
// buffer flow.
type Event int

const (
	EventEndOfFile Event = iota + 1
)

// Notifier is the sink filters raise Events on.
type Notifier interface {
	Notify(Event)
}
