package input

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// WatermarkTextureInput draws a watermark over each frame.
type WatermarkTextureInput struct {
	inner TextureInput
	pool  *texturePool
	guard closeGuard

	watermark image.Image
	rect      image.Rectangle
	mu        sync.Mutex
}

// NewWatermarkTextureInput returns a watermark input without a watermark.
func NewWatermarkTextureInput(inner TextureInput) *WatermarkTextureInput {
	return &WatermarkTextureInput{inner: inner, pool: defaultPool}
}

// SetWatermark sets the watermark and the frame rectangle
// it is scaled into. A nil watermark disables it.
func (i *WatermarkTextureInput) SetWatermark(watermark image.Image, rect image.Rectangle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.watermark = watermark
	i.rect = rect.Canon()
}

// FrameSize returns the frame size of the inner input.
func (i *WatermarkTextureInput) FrameSize() (int, int) {
	return i.inner.FrameSize()
}

// CommitFrame commits texture with the watermark to the inner input.
func (i *WatermarkTextureInput) CommitFrame(texture image.Image, timestamp int64) error {
	i.mu.Lock()
	watermark, rect := i.watermark, i.rect
	i.mu.Unlock()

	return i.guard.commit(func() error {
		if watermark == nil {
			return i.inner.CommitFrame(texture, timestamp)
		}
		width, height := i.inner.FrameSize()
		return i.pool.with(width, height, func(frame *image.RGBA) error {
			blit(frame, texture)
			draw.ApproxBiLinear.Scale(frame, rect, watermark, watermark.Bounds(), draw.Over, nil)
			return i.inner.CommitFrame(frame, timestamp)
		})
	})
}

// Close stops committing and closes the inner input once.
func (i *WatermarkTextureInput) Close() error {
	if !i.guard.close() {
		return nil
	}
	return i.inner.Close()
}
