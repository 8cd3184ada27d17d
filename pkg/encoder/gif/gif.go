// Package gif records animated GIF images.
package gif

import (
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/gif"
	"math"
	"os"

	"mediarec/pkg/encoder"

	"golang.org/x/image/draw"
)

var _ encoder.Synchronous = (*Encoder)(nil)

// Encoder quantizes frames as they are committed
// and writes the animation when finished.
type Encoder struct {
	path   string
	config encoder.GIFConfig
	delay  int // Centiseconds.

	anim gif.GIF
}

// ErrInvalidConfig invalid frame size.
var ErrInvalidConfig = errors.New("invalid gif config")

// New returns a GIF encoder writing to path.
func New(path string, config encoder.GIFConfig) (*Encoder, error) {
	if config.Width <= 0 || config.Height <= 0 || config.FrameDelay < 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, config)
	}
	return &Encoder{
		path:   path,
		config: config,
		delay:  int(math.Round(config.FrameDelay * 100)),
		anim: gif.GIF{
			LoopCount: 0, // Forever.
		},
	}, nil
}

// FrameSize returns the frame size.
func (e *Encoder) FrameSize() (int, int) {
	return e.config.Width, e.config.Height
}

// CommitFrame quantizes the frame, the timestamp is ignored.
func (e *Encoder) CommitFrame(pixels []byte, _ int64) encoder.Status {
	if !encoder.ValidFrame(pixels, e.config.Width, e.config.Height) {
		return encoder.StatusInvalidArgument
	}

	bounds := image.Rect(0, 0, e.config.Width, e.config.Height)
	src := &image.RGBA{
		Pix:    pixels,
		Stride: e.config.Width * 4,
		Rect:   bounds,
	}
	frame := image.NewPaletted(bounds, palette.Plan9)
	draw.FloydSteinberg.Draw(frame, bounds, src, image.Point{})

	e.anim.Image = append(e.anim.Image, frame)
	e.anim.Delay = append(e.anim.Delay, e.delay)
	e.anim.Disposal = append(e.anim.Disposal, gif.DisposalNone)
	return encoder.StatusOK
}

// CommitSamples is not implemented.
func (e *Encoder) CommitSamples([]float32, int64) encoder.Status {
	return encoder.StatusNotImplemented
}

// ErrNoFrames no frames were committed.
var ErrNoFrames = errors.New("no frames")

// Finish encodes the animation.
func (e *Encoder) Finish() (string, error) {
	if len(e.anim.Image) == 0 {
		return "", ErrNoFrames
	}

	file, err := os.Create(e.path)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}

	err = gif.EncodeAll(file, &e.anim)
	e.anim = gif.GIF{}
	if err != nil {
		file.Close()
		os.Remove(e.path)
		return "", fmt.Errorf("encode: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(e.path)
		return "", fmt.Errorf("close: %w", err)
	}
	return e.path, nil
}
