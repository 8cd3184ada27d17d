// Package jpegseq records frames as a directory of JPEG images.
package jpegseq

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"

	"mediarec/pkg/encoder"

	"golang.org/x/sync/errgroup"
)

// DefaultQuality is used when quality is zero.
const DefaultQuality = 80

// ClampQuality clamps quality to [1, 100], zero means DefaultQuality.
func ClampQuality(quality int) int {
	switch {
	case quality == 0:
		return DefaultQuality
	case quality < 1:
		return 1
	case quality > 100:
		return 100
	}
	return quality
}

// Encoder writes 1.jpg, 2.jpg, ... into a directory.
type Encoder struct {
	dir     string
	config  encoder.JPEGConfig
	count   int
	writers errgroup.Group
}

// ErrInvalidConfig invalid frame size.
var ErrInvalidConfig = errors.New("invalid jpeg config")

const maxWriters = 4

// New creates the directory dir.
func New(dir string, config encoder.JPEGConfig) (*Encoder, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, config)
	}
	config.Quality = ClampQuality(config.Quality)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	e := &Encoder{
		dir:    dir,
		config: config,
	}
	e.writers.SetLimit(maxWriters)
	return e, nil
}

// FrameSize returns the frame size.
func (e *Encoder) FrameSize() (int, int) {
	return e.config.Width, e.config.Height
}

// CommitFrame encodes the frame and writes it in the background.
// Blocks if too many writes are pending. The timestamp is ignored.
func (e *Encoder) CommitFrame(pixels []byte, _ int64) encoder.Status {
	if !encoder.ValidFrame(pixels, e.config.Width, e.config.Height) {
		return encoder.StatusInvalidArgument
	}

	img := &image.RGBA{
		Pix:    pixels,
		Stride: e.config.Width * 4,
		Rect:   image.Rect(0, 0, e.config.Width, e.config.Height),
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.config.Quality}); err != nil {
		return encoder.StatusInvalidOperation
	}

	e.count++
	path := filepath.Join(e.dir, strconv.Itoa(e.count)+".jpg")
	e.writers.Go(func() error {
		if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
			return fmt.Errorf("write %v: %w", path, err)
		}
		return nil
	})
	return encoder.StatusOK
}

// CommitSamples is not implemented.
func (e *Encoder) CommitSamples([]float32, int64) encoder.Status {
	return encoder.StatusNotImplemented
}

// Finish waits for pending writes and returns the directory.
func (e *Encoder) Finish() (string, error) {
	if err := e.writers.Wait(); err != nil {
		return "", err
	}
	return e.dir, nil
}
