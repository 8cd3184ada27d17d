package input

import (
	"sync"

	"mediarec/pkg/clock"
)

// AudioSource delivers interleaved sample buffers.
type AudioSource interface {
	// Attach registers fn and returns a function that detaches it.
	Attach(fn func(samples []float32)) (detach func())
}

// AudioInput commits sample buffers from a source to a recorder.
type AudioInput struct {
	rec   Recorder
	clock clock.Clock
	mute  bool

	detach func()
	closed bool
	err    error
	mu     sync.Mutex
}

// NewAudioInput attaches to source. Buffers are timestamped by clk,
// or zero if clk is nil. If mute is set buffers are zeroed after
// they are committed.
func NewAudioInput(rec Recorder, clk clock.Clock, source AudioSource, mute bool) *AudioInput {
	a := &AudioInput{
		rec:   rec,
		clock: clk,
		mute:  mute,
	}
	a.detach = source.Attach(a.onSamples)
	return a
}

func (a *AudioInput) onSamples(samples []float32) {
	a.mu.Lock()
	if !a.closed {
		err := a.rec.CommitSamples(samples, timestamp(a.clock))
		if err != nil && a.err == nil {
			a.err = err
		}
	}
	a.mu.Unlock()

	if a.mute {
		clear(samples)
	}
}

// Close detaches from the source and returns the first commit error.
func (a *AudioInput) Close() error {
	a.detach()

	a.mu.Lock()
	defer a.mu.Unlock()
	a.closed = true
	return a.err
}
