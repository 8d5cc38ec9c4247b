package cmd

import (
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/internal/pinconfig"
	"github.com/bugVanisher/mkvrecorder/pipeline"
	"github.com/bugVanisher/mkvrecorder/recorder"
)

var recordArgs struct {
	out        string
	config     string
	videoRFC   string
	audioRFC   string
	tickPeriod time.Duration
}

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Drive the recorder filter against a synthetic two-pin source",
	RunE:  runRecord,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.Flags().StringVarP(&recordArgs.out, "out", "o", "", "Matroska output file")
	recordCmd.MarkFlagRequired("out")
	recordCmd.Flags().StringVar(&recordArgs.config, "config", "", "pin-format JSON config file, hot-reloaded")
	recordCmd.Flags().StringVar(&recordArgs.videoRFC, "video", "H264", "video pin RFC codec name")
	recordCmd.Flags().StringVar(&recordArgs.audioRFC, "audio", "PCMU", "audio pin RFC codec name")
	recordCmd.Flags().DurationVar(&recordArgs.tickPeriod, "tick", 20*time.Millisecond, "pipeline tick period")
}

// syntheticVideoPin emits a deterministic SPS/PPS/IDR triple on its first
// tick and one P-frame NALU per tick thereafter, standing in for a real
// capture source.
type syntheticVideoPin struct {
	clockRate int
	seq       int
	armed     bool
	queue     []*media.Buffer
}

func (p *syntheticVideoPin) push(tickerTimeMS int64) {
	ts := tickerTimeMS * int64(p.clockRate) / 1000
	if !p.armed {
		p.queue = append(p.queue,
			&media.Buffer{Timestamp: ts, Chunks: [][]byte{{7, 0x64, 0x00, 0x1f}}},
			&media.Buffer{Timestamp: ts, Chunks: [][]byte{{8, 0x01}}},
			&media.Buffer{Timestamp: ts, Chunks: [][]byte{{5, 0xAA}}},
		)
		p.armed = true
		return
	}
	p.seq++
	p.queue = append(p.queue, &media.Buffer{Timestamp: ts, Chunks: [][]byte{{1, byte(p.seq)}}})
}

func (p *syntheticVideoPin) Dequeue() (*media.Buffer, bool) {
	if len(p.queue) == 0 {
		return nil, false
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true
}

var _ pipeline.InputPin = (*syntheticVideoPin)(nil)

type syntheticAudioPin struct {
	clockRate int
	queue     []*media.Buffer
}

func (p *syntheticAudioPin) push(tickerTimeMS int64) {
	ts := tickerTimeMS * int64(p.clockRate) / 1000
	p.queue = append(p.queue, &media.Buffer{Timestamp: ts, Chunks: [][]byte{{0x55, 0x55}}})
}

func (p *syntheticAudioPin) Dequeue() (*media.Buffer, bool) {
	if len(p.queue) == 0 {
		return nil, false
	}
	b := p.queue[0]
	p.queue = p.queue[1:]
	return b, true
}

var _ pipeline.InputPin = (*syntheticAudioPin)(nil)

func runRecord(cmd *cobra.Command, args []string) error {
	video := &syntheticVideoPin{clockRate: 90000}
	audio := &syntheticAudioPin{clockRate: 8000}
	ticker := newWallTicker(recordArgs.tickPeriod)

	r := recorder.New(ticker, []pipeline.InputPin{video, audio})
	if err := r.Open(recordArgs.out); err != nil {
		return err
	}

	applyFormat := func(cfgs []pinconfig.PinFormat) {
		for _, c := range cfgs {
			kind := media.Video
			if c.Pin == 1 {
				kind = media.Audio
			}
			format := media.Format{
				RFCName: c.RFCName, Kind: kind, ClockRate: c.ClockRate,
				Width: c.Width, Height: c.Height, Channels: c.Channels, SampleRate: c.SampleRate,
			}
			if err := r.SetInputFormat(c.Pin, format); err != nil {
				log.Warn().Err(err).Int("pin", c.Pin).Msg("record: set_input_fmt failed")
			}
		}
	}

	if recordArgs.config != "" {
		stop, err := pinconfig.Watch(recordArgs.config, applyFormat)
		if err != nil {
			return err
		}
		defer stop()
	} else {
		applyFormat([]pinconfig.PinFormat{
			{Pin: 0, RFCName: recordArgs.videoRFC, ClockRate: 90000, Width: 640, Height: 480},
			{Pin: 1, RFCName: recordArgs.audioRFC, ClockRate: 8000, Channels: 1, SampleRate: 8000},
		})
	}

	if err := r.Start(); err != nil {
		return err
	}

	tick := time.NewTicker(recordArgs.tickPeriod)
	defer tick.Stop()
	deadline := time.After(duration)

loop:
	for {
		select {
		case <-tick.C:
			tms := int64(ticker.Time() / time.Millisecond)
			video.push(tms)
			audio.push(tms)
			if err := r.Process(); err != nil {
				log.Warn().Err(err).Msg("record: process failed")
			}
		case <-deadline:
			break loop
		}
	}

	if err := r.Stop(); err != nil {
		log.Warn().Err(err).Msg("record: stop failed")
	}
	if err := r.Close(); err != nil {
		return err
	}

	out, _ := json.MarshalToString(map[string]any{
		"state":    "closed",
		"duration": r.Duration(),
		"out":      recordArgs.out,
	})
	log.Info().Msg(out)
	return nil
}

var json = jsoniter.ConfigCompatibleWithStandardLibrary
