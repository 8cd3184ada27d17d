package input

import (
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

// SyncTextureInput scales textures to the frame size
// and commits them on the calling goroutine.
type SyncTextureInput struct {
	rec   Recorder
	pool  *texturePool
	guard closeGuard
}

// NewTextureInput returns a synchronous texture input.
func NewTextureInput(rec Recorder) *SyncTextureInput {
	return &SyncTextureInput{rec: rec, pool: defaultPool}
}

// FrameSize returns the recorder frame size.
func (i *SyncTextureInput) FrameSize() (int, int) {
	return i.rec.FrameSize()
}

// CommitFrame commits texture to the recorder.
func (i *SyncTextureInput) CommitFrame(texture image.Image, timestamp int64) error {
	return i.guard.commit(func() error {
		width, height := i.rec.FrameSize()
		return i.pool.with(width, height, func(frame *image.RGBA) error {
			blit(frame, texture)
			return i.rec.CommitFrame(frame.Pix, timestamp)
		})
	})
}

// Close stops committing, the recorder is not finished.
func (i *SyncTextureInput) Close() error {
	i.guard.close()
	return nil
}

// AsyncTextureInput snapshots textures on the calling
// goroutine and commits them on a render thread.
type AsyncTextureInput struct {
	rec    Recorder
	thread *RenderThread
	pool   *texturePool

	// Checked under mu when the readback completes.
	enabled atomic.Bool
	err     error
	mu      sync.Mutex
}

// NewAsyncTextureInput returns an async texture input.
func NewAsyncTextureInput(rec Recorder, thread *RenderThread) *AsyncTextureInput {
	i := &AsyncTextureInput{
		rec:    rec,
		thread: thread,
		pool:   defaultPool,
	}
	i.enabled.Store(true)
	return i
}

// FrameSize returns the recorder frame size.
func (i *AsyncTextureInput) FrameSize() (int, int) {
	return i.rec.FrameSize()
}

// CommitFrame queues texture to be committed. Errors from earlier
// commits on the render thread are returned by the next call.
func (i *AsyncTextureInput) CommitFrame(texture image.Image, timestamp int64) error {
	if !i.enabled.Load() {
		return ErrClosed
	}

	i.mu.Lock()
	err := i.err
	i.err = nil
	i.mu.Unlock()
	if err != nil {
		return fmt.Errorf("async commit: %w", err)
	}

	width, height := i.rec.FrameSize()
	frame := i.pool.get(width, height)
	blit(frame, texture)

	readback := func() {
		defer i.pool.put(frame)

		i.mu.Lock()
		defer i.mu.Unlock()
		if !i.enabled.Load() {
			return
		}
		if err := i.rec.CommitFrame(frame.Pix, timestamp); err != nil && i.err == nil {
			i.err = err
		}
	}
	if !i.thread.Submit(readback) {
		i.pool.put(frame)
		return fmt.Errorf("render thread: %w", ErrClosed)
	}
	return nil
}

// Close stops pending readbacks from committing.
// No commit reaches the recorder after Close returns.
func (i *AsyncTextureInput) Close() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled.Store(false)
	return i.err
}
