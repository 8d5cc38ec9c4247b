// Package player implements the Matroska player filter: a cooperative,
// single-locked state machine that reads blocks sequentially from an
// internal/mkv.Reader, paces them against the pipeline ticker, and reverses
// each block through its codec module onto an output pin.
package player

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/bugVanisher/mkvrecorder/common/errs"
	"github.com/bugVanisher/mkvrecorder/internal/codecmodule"
	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/internal/mkv"
	"github.com/bugVanisher/mkvrecorder/pipeline"
)

// State is one of the player's three lifecycle states.
type State int

const (
	Closed State = iota
	Paused
	Playing
)

// DefaultPinCount matches spec's default of two player output pins.
const DefaultPinCount = 2

type pin struct {
	trackNumber int
	bound       bool
	module      *codecmodule.Module
	format      media.Format
	firstFrame  bool
}

type pendingBlock struct {
	track int
	frame *media.Frame
}

// Player is the filter instance.
type Player struct {
	mu       sync.Mutex
	state    State
	ticker   pipeline.Ticker
	outputs  []pipeline.OutputPin
	notifier pipeline.Notifier

	path        string
	reader      *mkv.Reader
	pins        []pin
	virtualTime int64
	pending     *pendingBlock
}

// New creates a player with one output pin per element of outputs, driven
// by ticker and raising events on notifier.
func New(ticker pipeline.Ticker, outputs []pipeline.OutputPin, notifier pipeline.Notifier) *Player {
	return &Player{
		ticker:   ticker,
		outputs:  outputs,
		notifier: notifier,
		pins:     make([]pin, len(outputs)),
		state:    Closed,
	}
}

// State reports the current lifecycle state (GET_STATE).
func (p *Player) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Length is the file's total declared duration in milliseconds.
func (p *Player) Length() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reader == nil {
		return 0
	}
	return p.reader.Duration()
}

// Position is the current virtual playback time in milliseconds.
func (p *Player) Position() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.virtualTime
}

// GetOutputFmt reports the format bound to pinIdx (RFC name, clock rate,
// geometry), valid once Open has discovered that pin's track.
func (p *Player) GetOutputFmt(pinIdx int) (media.Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pinIdx < 0 || pinIdx >= len(p.pins) {
		return media.Format{}, errs.ErrPinOutOfRange
	}
	if !p.pins[pinIdx].bound {
		return media.Format{}, errs.New(errs.KindPrecondition, errs.CodePinOutOfRange, "player: pin has no bound track")
	}
	return p.pins[pinIdx].format, nil
}

// Open discovers one default video track and one default audio track
// (falling back to the first track of each kind), loads their codec
// modules and private data, and positions the reader at the first block.
func (p *Player) Open(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Closed {
		return errs.ErrAlreadyOpen
	}

	r, err := mkv.OpenReader(path)
	if err != nil {
		return errs.New(errs.KindIO, errs.CodeIO, "player: open "+path+": "+err.Error())
	}

	pins := make([]pin, len(p.outputs))
	haveVideo, haveAudio := false, false
	for _, t := range r.Tracks() {
		isVideo := t.Kind == media.Video
		if isVideo && haveVideo {
			continue
		}
		if !isVideo && haveAudio {
			continue
		}
		pinIdx := 1
		if isVideo {
			pinIdx = 0
		}
		if pinIdx >= len(pins) {
			continue
		}
		entry, ok := codecmodule.ByCodecID(t.CodecID)
		if !ok {
			log.Warn().Str("codec_id", t.CodecID).Msg("player: unrecognized codec id, track skipped")
			continue
		}
		m := codecmodule.New(entry)
		if err := m.LoadPrivate(t.CodecPrivate, len(t.CodecPrivate)); err != nil {
			log.Warn().Err(err).Msg("player: load_private failed")
			continue
		}
		pins[pinIdx] = pin{
			trackNumber: t.Number,
			bound:       true,
			module:      m,
			format: media.Format{
				RFCName:    entry.RFCName,
				Kind:       t.Kind,
				ClockRate:  clockRateFor(t),
				Width:      t.Width,
				Height:     t.Height,
				Channels:   t.Channels,
				SampleRate: int(t.SamplingFreq),
			},
			firstFrame: true,
		}
		if isVideo {
			haveVideo = true
		} else {
			haveAudio = true
		}
	}

	p.reader = r
	p.path = path
	p.pins = pins
	p.virtualTime = 0
	if err := p.prefetch(); err != nil {
		log.Warn().Err(err).Msg("player: prefetch failed on open")
	}
	p.state = Paused
	return nil
}

// clockRateFor recovers the codec clock rate an output pin rescales to,
// from the track's own stored parameters (audio: sampling frequency;
// video: a fixed 90 kHz RTP clock, the only rate spec's H.264 module uses).
func clockRateFor(t mkv.TrackInfo) int {
	if t.Kind == media.Video {
		return 90000
	}
	if t.SamplingFreq > 0 {
		return int(t.SamplingFreq)
	}
	return 8000
}

// prefetch reads the next block into p.pending, or clears it on EOF.
func (p *Player) prefetch() error {
	track, frame, err := p.reader.NextBlock()
	if err != nil {
		return err
	}
	if p.reader.EOF() {
		p.pending = nil
		return nil
	}
	p.pending = &pendingBlock{track: track, frame: frame}
	return nil
}

// Start transitions Paused→Playing.
func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Paused {
		return errs.ErrNotOpen
	}
	p.state = Playing
	return nil
}

// Pause transitions Playing→Paused.
func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return errs.ErrNotOpen
	}
	p.state = Paused
	return nil
}

// Close releases the reader and transitions to Closed. Idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state == Closed {
		return nil
	}
	if p.reader != nil {
		if err := p.reader.Close(); err != nil {
			log.Warn().Err(err).Msg("player: close reader failed")
		}
	}
	p.reader = nil
	p.pending = nil
	p.state = Closed
	return nil
}

// Process runs one pipeline tick: advances virtual_time, emits every block
// whose timecode has come due by reversing it through its pin's codec
// module, and rewinds/pauses with an EOF notification once the stream is
// exhausted.
func (p *Player) Process() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != Playing {
		return nil
	}

	p.virtualTime += int64(p.ticker.Interval().Milliseconds())

	for {
		if p.pending == nil {
			return p.handleEOF()
		}
		if p.pending.frame.Timestamp >= p.virtualTime {
			return nil
		}
		block := p.pending
		pinIdx := p.pinForTrack(block.track)
		if pinIdx >= 0 {
			pn := &p.pins[pinIdx]
			rescaled := &media.Frame{
				Timestamp: block.frame.Timestamp * int64(pn.format.ClockRate) / 1000,
				Data:      block.frame.Data,
				Keyframe:  block.frame.Keyframe,
			}
			bufs, err := pn.module.Reverse(rescaled, pn.firstFrame)
			if err != nil {
				log.Warn().Err(err).Int("pin", pinIdx).Msg("player: reverse failed")
			} else {
				pn.firstFrame = false
				for _, b := range bufs {
					p.outputs[pinIdx].Enqueue(b)
				}
			}
		}
		if err := p.prefetch(); err != nil {
			log.Warn().Err(err).Msg("player: read_frame failed")
			p.pending = nil
			return p.handleEOF()
		}
	}
}

func (p *Player) pinForTrack(trackNumber int) int {
	for i := range p.pins {
		if p.pins[i].bound && p.pins[i].trackNumber == trackNumber {
			return i
		}
	}
	return -1
}

// handleEOF emits the end-of-file notification, rewinds the reader to the
// first block, and enters Paused.
func (p *Player) handleEOF() error {
	p.notifier.Notify(pipeline.EventEndOfFile)
	if p.reader != nil {
		if err := p.reader.Close(); err != nil {
			log.Warn().Err(err).Msg("player: close on rewind failed")
		}
	}
	r, err := mkv.OpenReader(p.path)
	if err != nil {
		return errs.New(errs.KindIO, errs.CodeIO, "player: rewind reopen failed: "+err.Error())
	}
	p.reader = r
	p.virtualTime = 0
	for i := range p.pins {
		p.pins[i].firstFrame = true
	}
	if err := p.prefetch(); err != nil {
		log.Warn().Err(err).Msg("player: prefetch failed on rewind")
	}
	p.state = Paused
	return nil
}
