package cmd

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/bugVanisher/mkvrecorder/internal/media"
	"github.com/bugVanisher/mkvrecorder/pipeline"
	"github.com/bugVanisher/mkvrecorder/player"
)

var playArgs struct {
	in         string
	videoOut   string
	audioOut   string
	tickPeriod time.Duration
}

var playCmd = &cobra.Command{
	Use:   "play",
	Short: "Drive the player filter over a Matroska file and dump decoded bitstreams",
	RunE:  runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
	playCmd.Flags().StringVarP(&playArgs.in, "in", "i", "", "Matroska input file")
	playCmd.MarkFlagRequired("in")
	playCmd.Flags().StringVar(&playArgs.videoOut, "video-out", "", "file to append decoded video bitstream to")
	playCmd.Flags().StringVar(&playArgs.audioOut, "audio-out", "", "file to append decoded audio bitstream to")
	playCmd.Flags().DurationVar(&playArgs.tickPeriod, "tick", 20*time.Millisecond, "pipeline tick period")
}

// fileOutputPin appends each buffer's bytes to a file, standing in for a
// real playback sink.
type fileOutputPin struct {
	f *os.File
}

func (p *fileOutputPin) Enqueue(b *media.Buffer) {
	if p.f == nil {
		return
	}
	if _, err := p.f.Write(b.Bytes()); err != nil {
		log.Warn().Err(err).Msg("play: write output failed")
	}
}

// eofNotifier stops the drive loop once the player rewinds past end of
// stream, so the demo CLI exits after exactly one pass over the file.
type eofNotifier struct {
	hit bool
}

func (n *eofNotifier) Notify(e pipeline.Event) {
	if e == pipeline.EventEndOfFile {
		n.hit = true
	}
}

func openOutput(path string) *os.File {
	if path == "" {
		return nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("play: open output failed")
		return nil
	}
	return f
}

func runPlay(cmd *cobra.Command, args []string) error {
	videoFile := openOutput(playArgs.videoOut)
	audioFile := openOutput(playArgs.audioOut)
	if videoFile != nil {
		defer videoFile.Close()
	}
	if audioFile != nil {
		defer audioFile.Close()
	}

	video := &fileOutputPin{f: videoFile}
	audio := &fileOutputPin{f: audioFile}
	notifier := &eofNotifier{}
	ticker := newWallTicker(playArgs.tickPeriod)

	p := player.New(ticker, []pipeline.OutputPin{video, audio}, notifier)
	if err := p.Open(playArgs.in); err != nil {
		return err
	}
	if err := p.Start(); err != nil {
		return err
	}

	tick := time.NewTicker(playArgs.tickPeriod)
	defer tick.Stop()
	deadline := time.After(duration)

loop:
	for !notifier.hit {
		select {
		case <-tick.C:
			if err := p.Process(); err != nil {
				log.Warn().Err(err).Msg("play: process failed")
			}
		case <-deadline:
			break loop
		}
	}

	out, _ := json.MarshalToString(map[string]any{
		"state":    "paused",
		"position": p.Position(),
		"length":   p.Length(),
		"eof":      notifier.hit,
	})
	log.Info().Msg(out)

	return p.Close()
}
