package input

import (
	"image"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"mediarec/pkg/clock"

	"github.com/hashicorp/go-multierror"
)

// captureLoop calls capture on every tick, skipping frames.
// The loop stops on the first capture error.
type captureLoop struct {
	input     TextureInput
	clock     clock.Clock
	pool      *texturePool
	frameSkip atomic.Int64

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	err      error
}

func newCaptureLoop(input TextureInput, clk clock.Clock) *captureLoop {
	return &captureLoop{
		input: input,
		clock: clk,
		pool:  defaultPool,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

func (l *captureLoop) start(tick <-chan time.Time, render func(*image.RGBA)) {
	go func() {
		defer close(l.done)
		var frameCount int64
		for {
			select {
			case <-l.stop:
				return
			case <-tick:
			}

			skip := l.frameSkip.Load()
			frameCount++
			if (frameCount-1)%(skip+1) != 0 {
				continue
			}

			width, height := l.input.FrameSize()
			err := l.pool.with(width, height, func(frame *image.RGBA) error {
				render(frame)
				return l.input.CommitFrame(frame, timestamp(l.clock))
			})
			if err != nil {
				l.err = err
				return
			}
		}
	}()
}

// SetFrameSkip sets the number of ticks skipped between captured frames.
func (l *captureLoop) SetFrameSkip(frameSkip int) {
	if frameSkip < 0 {
		frameSkip = 0
	}
	l.frameSkip.Store(int64(frameSkip))
}

// Close stops capturing and closes the input.
func (l *captureLoop) Close() error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	var result *multierror.Error
	if l.err != nil {
		result = multierror.Append(result, l.err)
	}
	if err := l.input.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Camera renders a scene.
type Camera interface {
	// Cameras with a lower depth are rendered first.
	Depth() float64

	// Render draws over frame.
	Render(frame *image.RGBA)
}

// CameraInput renders cameras into a frame on every tick.
type CameraInput struct {
	*captureLoop
	cameras []Camera
}

// NewCameraInput starts rendering cameras in depth order and
// committing the frame on every tick. clk may be nil.
func NewCameraInput(
	input TextureInput,
	clk clock.Clock,
	tick <-chan time.Time,
	cameras ...Camera,
) *CameraInput {
	sorted := append([]Camera(nil), cameras...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Depth() < sorted[j].Depth()
	})

	c := &CameraInput{
		captureLoop: newCaptureLoop(input, clk),
		cameras:     sorted,
	}
	c.start(tick, c.render)
	return c
}

func (c *CameraInput) render(frame *image.RGBA) {
	clear(frame.Pix)
	for _, camera := range c.cameras {
		camera.Render(frame)
	}
}

// Screen captures the screen.
type Screen interface {
	Capture(frame *image.RGBA)
}

// ScreenInput captures the screen on every tick.
type ScreenInput struct {
	*captureLoop
}

// NewScreenInput starts capturing screen and committing
// the frame on every tick. clk may be nil.
func NewScreenInput(
	input TextureInput,
	clk clock.Clock,
	tick <-chan time.Time,
	screen Screen,
) *ScreenInput {
	s := &ScreenInput{captureLoop: newCaptureLoop(input, clk)}
	s.start(tick, screen.Capture)
	return s
}
