// Package recorder implements the Matroska recorder filter: a cooperative,
// single-locked state machine that pulls realtime buffers off N input pins,
// normalizes and orders them, and writes a Matroska file through
// internal/mkv.
package recorder

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/mkvrecorder/common/errs"
	"github.com/bugVanisher/mkvrecorder/internal/codecmodule"
	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/internal/mkv"
	"github.com/bugVanisher/mkvrecorder/internal/mux"
	"github.com/bugVanisher/mkvrecorder/internal/timecorrect"
	"github.com/bugVanisher/mkvrecorder/pipeline"
)

// State is one of the recorder's three lifecycle states.
type State int

const (
	Closed State = iota
	Paused
	Running
)

// DefaultPinCount matches spec's default of two recorder input pins.
const DefaultPinCount = 2

type pin struct {
	format       media.Format
	module       *codecmodule.Module
	trackNumber  int
	needKeyFrame bool
	configured   bool
}

// Recorder is the filter instance. All exported methods hold mu for their
// full duration; there is no suspension point inside a locked section.
type Recorder struct {
	mu     sync.Mutex
	state  State
	ticker pipeline.Ticker
	inputs []pipeline.InputPin

	pins   []pin
	writer *mkv.Writer
	muxer  *mux.Muxer
	corr   *timecorrect.Corrector
}

// New creates a recorder with one input pin per element of inputs, driven
// by ticker. len(inputs) becomes the pin count (DefaultPinCount by default).
func New(ticker pipeline.Ticker, inputs []pipeline.InputPin) *Recorder {
	return &Recorder{
		ticker: ticker,
		inputs: inputs,
		pins:   make([]pin, len(inputs)),
		state:  Closed,
	}
}

// State reports the current lifecycle state (GET_STATE).
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Duration is the running duration in milliseconds, readable in any state.
func (r *Recorder) Duration() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writer == nil {
		return 0
	}
	return r.writer.Duration()
}

// Open transitions Closed→Paused, auto-detecting create-vs-append by
// probing read+write access to path, and on append recovers each track's
// codec module and private data.
func (r *Recorder) Open(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Closed {
		return errs.ErrAlreadyOpen
	}

	appendMode := false
	if f, err := os.OpenFile(path, os.O_RDWR, 0644); err == nil {
		f.Close()
		appendMode = true
	}

	var w *mkv.Writer
	var err error
	if appendMode {
		w, err = mkv.OpenAppend(path)
	} else {
		w, err = mkv.Create(path)
	}
	if err != nil {
		return errs.New(errs.KindIO, errs.CodeIO, fmt.Sprintf("recorder: open %s: %v", path, err))
	}

	if appendMode {
		for _, t := range w.Tracks() {
			pinIdx := t.Number - 1
			if pinIdx < 0 || pinIdx >= len(r.pins) {
				continue
			}
			entry, ok := codecmodule.ByCodecID(t.CodecID)
			if !ok {
				log.Warn().Str("codec_id", t.CodecID).Msg("recorder: unrecognized codec id on append, leaving pin unconfigured")
				continue
			}
			m := codecmodule.New(entry)
			if err := m.LoadPrivate(t.CodecPrivate, len(t.CodecPrivate)); err != nil {
				log.Warn().Err(err).Msg("recorder: load_private failed on append")
				continue
			}
			r.pins[pinIdx] = pin{
				trackNumber: t.Number,
				configured:  true,
				module:      m,
				format: media.Format{
					RFCName:    entry.RFCName,
					Kind:       t.Kind,
					Width:      t.Width,
					Height:     t.Height,
					Channels:   t.Channels,
					SampleRate: int(t.SamplingFreq),
				},
			}
		}
	}

	r.writer = w
	r.muxer = mux.New(len(r.pins))
	r.corr = timecorrect.New(len(r.pins), w.GlobalOrigin())
	r.state = Paused
	return nil
}

// Start transitions Paused→Running, arming the keyframe gate on every
// configured video pin.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Paused {
		return errs.ErrNotOpen
	}
	for i := range r.pins {
		if r.pins[i].configured && r.pins[i].format.Kind == media.Video {
			r.pins[i].needKeyFrame = true
		}
	}
	r.state = Running
	return nil
}

// Pause transitions Running→Paused and flushes pending muxer queues.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Running {
		return errs.ErrNotOpen
	}
	r.muxer.Flush()
	r.state = Paused
	return nil
}

// Stop is Pause's synonym per spec's Running→Paused transition.
func (r *Recorder) Stop() error {
	return r.Pause()
}

// Close finalizes the file per §4.2/§4.5 and transitions to Closed. It is
// idempotent after the first call.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == Closed {
		return nil
	}
	if r.muxer != nil {
		r.muxer.Flush()
	}

	tracks := make([]mkv.TrackInfo, 0, len(r.pins))
	for _, p := range r.pins {
		if !p.configured {
			continue
		}
		tracks = append(tracks, mkv.TrackInfo{
			Number:       p.trackNumber,
			Kind:         p.format.Kind,
			CodecID:      p.module.CodecID(),
			CodecPrivate: p.module.SerializePrivate(),
			Width:        p.format.Width,
			Height:       p.format.Height,
			SamplingFreq: float64(p.format.SampleRate),
			Channels:     p.format.Channels,
		})
	}
	r.writer.SetTracks(tracks)

	err := r.writer.Close("libmediastreamer2", "libmediastreamer2")
	r.state = Closed
	if err != nil {
		return errs.New(errs.KindIO, errs.CodeIO, fmt.Sprintf("recorder: close: %v", err))
	}
	return nil
}

// SetInputFormat configures pin's codec and clock rate. Allowed at any
// time; while open (Paused/Running), only a video-size change of the same
// codec/rate is permitted on an already-configured pin.
func (r *Recorder) SetInputFormat(pinIdx int, format media.Format) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pinIdx < 0 || pinIdx >= len(r.pins) {
		return errs.ErrPinOutOfRange
	}
	cur := &r.pins[pinIdx]
	if r.state != Closed && cur.configured {
		if cur.format.RFCName != format.RFCName || cur.format.ClockRate != format.ClockRate {
			return errs.New(errs.KindPrecondition, errs.CodeIncompatibleFmtChange, "recorder: incompatible format change while open")
		}
		cur.format.Width = format.Width
		cur.format.Height = format.Height
		return nil
	}

	entry, ok := codecmodule.ByRFCName(format.RFCName)
	if !ok {
		return errs.ErrUnsupportedCodec
	}
	m := codecmodule.New(entry)
	if err := m.Set(format); err != nil {
		return errs.New(errs.KindPrecondition, errs.CodeUnsupportedCodec, fmt.Sprintf("recorder: set_input_fmt pin %d: %v", pinIdx, err))
	}
	*cur = pin{
		format:      format,
		module:      m,
		trackNumber: pinIdx + 1,
		configured:  true,
	}
	return nil
}

// Process runs one pipeline tick: drains and discards all inputs unless
// Running, otherwise preprocesses/normalizes/gates/time-corrects each pin's
// buffers into the muxer, then drains the muxer in ascending timestamp
// order into the container.
func (r *Recorder) Process() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Running {
		for _, in := range r.inputs {
			for {
				if _, ok := in.Dequeue(); !ok {
					break
				}
			}
		}
		return nil
	}

	tickerTimeMS := int64(r.ticker.Time() / time.Millisecond)

	for i, in := range r.inputs {
		p := &r.pins[i]
		if !p.configured {
			for {
				if _, ok := in.Dequeue(); !ok {
					break
				}
			}
			continue
		}
		var pending []*media.Buffer
		for {
			buf, ok := in.Dequeue()
			if !ok {
				break
			}
			pending = append(pending, buf)
		}
		if len(pending) > 0 {
			bufs, err := p.module.Preprocess(pending)
			if err != nil {
				log.Warn().Err(err).Int("pin", i).Msg("recorder: preprocess failed")
				continue
			}
			for _, b := range bufs {
				if p.format.ClockRate > 0 {
					b.Timestamp = b.Timestamp * 1000 / int64(p.format.ClockRate)
				}
				if p.format.Kind == media.Video && p.needKeyFrame {
					if !b.Keyframe {
						continue
					}
					p.needKeyFrame = false
				}
				r.corr.Proceed(b, i, tickerTimeMS)
				r.muxer.Put(b, i)
			}
		}
	}

	for {
		buf, pinIdx, ok := r.muxer.Get()
		if !ok {
			break
		}
		p := &r.pins[pinIdx]
		frame, err := p.module.Process(buf)
		if err != nil {
			log.Warn().Err(err).Int("pin", pinIdx).Msg("recorder: codec process failed")
			continue
		}
		keyframe := p.module.IsKeyframe(frame)

		if err := r.ensureCluster(frame, p, keyframe); err != nil {
			log.Warn().Err(err).Msg("recorder: cluster management failed")
			continue
		}
		if err := r.writer.WriteBlock(frame, p.trackNumber, keyframe); err != nil {
			log.Warn().Err(err).Msg("recorder: write_block failed")
			continue
		}
		if p.format.Kind == media.Video && keyframe {
			if err := r.writer.AddCue(frame, p.trackNumber); err != nil {
				log.Warn().Err(err).Msg("recorder: add_cue failed")
			}
		}
	}
	return nil
}

// ensureCluster applies the recorder-owned cluster segmentation policy
// (spec §4.2): start a new cluster when none is open, when a video
// keyframe arrives and a prior cluster exists, or when the running
// duration has drifted more than ClusterMaxDurationMS from the open
// cluster's own Timecode.
func (r *Recorder) ensureCluster(frame *media.Frame, p *pin, keyframe bool) error {
	startNew := !r.writer.ClusterOpen()
	if !startNew && p.format.Kind == media.Video && keyframe {
		startNew = true
	}
	if !startNew && r.writer.Duration()-r.writer.ClusterTimeMS() > mkv.ClusterMaxDurationMS {
		startNew = true
	}
	if !startNew {
		return nil
	}
	if r.writer.ClusterOpen() {
		if err := r.writer.CloseCluster(); err != nil {
			return err
		}
	}
	return r.writer.StartCluster(frame.Timestamp)
}
