// Package input feeds recorders from images and audio callbacks.
package input

import (
	"errors"
	"image"
	"sync"

	"mediarec/pkg/clock"

	"golang.org/x/image/draw"
)

// Recorder is the commit side of a recorder session.
type Recorder interface {
	FrameSize() (width int, height int)
	CommitFrame(pixels []byte, timestamp int64) error
	CommitSamples(samples []float32, timestamp int64) error
}

// TextureInput commits images to a recorder. Inputs wrapping
// another input close it after releasing their own resources.
type TextureInput interface {
	FrameSize() (width int, height int)
	CommitFrame(texture image.Image, timestamp int64) error
	Close() error
}

// ErrClosed input is closed.
var ErrClosed = errors.New("input closed")

// CreateDefault returns an async input if thread is not nil.
func CreateDefault(rec Recorder, thread *RenderThread) TextureInput {
	if thread != nil {
		return NewAsyncTextureInput(rec, thread)
	}
	return NewTextureInput(rec)
}

// closeGuard serializes commits with Close.
// No commit runs after close returns.
type closeGuard struct {
	closed bool
	mu     sync.Mutex
}

// commit runs fn unless the guard is closed.
func (g *closeGuard) commit(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	return fn()
}

// close reports false if the guard was already closed.
func (g *closeGuard) close() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.closed = true
	return true
}

// blit scales src to fill dst.
func blit(dst *image.RGBA, src image.Image) {
	if src.Bounds().Size() == dst.Bounds().Size() {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
		return
	}
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
}

func timestamp(c clock.Clock) int64 {
	if c == nil {
		return 0
	}
	return c.Timestamp()
}
