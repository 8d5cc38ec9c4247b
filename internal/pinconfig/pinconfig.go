// Package pinconfig loads and hot-reloads the recorder's input-pin format
// file for the demo CLI, giving SET_INPUT_FMT a concrete caller path outside
// of a real filter-graph host.
package pinconfig

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PinFormat is one input pin's codec configuration, as accepted by
// recorder.Recorder.SetInputFormat.
type PinFormat struct {
	Pin        int    `json:"pin"`
	RFCName    string `json:"rfc_name"`
	ClockRate  int    `json:"clock_rate"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// Load parses a pin-format config file: a JSON array of PinFormat.
func Load(path string) ([]PinFormat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfgs []PinFormat
	if err := json.Unmarshal(data, &cfgs); err != nil {
		return nil, err
	}
	return cfgs, nil
}

// Watch applies the config at path immediately, then re-applies it every
// time the file is written, until stop is closed. apply is called from a
// background goroutine; callers must synchronize with their own state.
func Watch(path string, apply func([]PinFormat)) (stop func(), err error) {
	if cfgs, err := Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("pinconfig: initial load failed")
	} else {
		apply(cfgs)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfgs, err := Load(path)
				if err != nil {
					log.Warn().Err(err).Msg("pinconfig: reload failed")
					continue
				}
				apply(cfgs)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("pinconfig: watch error")
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		w.Close()
	}, nil
}
