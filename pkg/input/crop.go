package input

import (
	"image"
	"math"
	"sync"

	"golang.org/x/image/draw"
)

// CropTextureInput crops a rectangle of the texture and scales it to
// cover the frame, preserving the aspect ratio. The texture is
// expected to have the same aspect ratio as the frame.
type CropTextureInput struct {
	inner TextureInput
	pool  *texturePool
	guard closeGuard

	rect image.Rectangle
	mu   sync.Mutex
}

// NewCropTextureInput returns a crop input with the rect set to the full frame.
func NewCropTextureInput(inner TextureInput) *CropTextureInput {
	width, height := inner.FrameSize()
	return &CropTextureInput{
		inner: inner,
		pool:  defaultPool,
		rect:  image.Rect(0, 0, width, height),
	}
}

// SetRect sets the crop rectangle in frame pixel coordinates.
func (i *CropTextureInput) SetRect(rect image.Rectangle) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.rect = rect.Canon()
}

// Rect returns the crop rectangle.
func (i *CropTextureInput) Rect() image.Rectangle {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.rect
}

// FrameSize returns the frame size of the inner input.
func (i *CropTextureInput) FrameSize() (int, int) {
	return i.inner.FrameSize()
}

// CommitFrame crops texture and commits it to the inner input.
func (i *CropTextureInput) CommitFrame(texture image.Image, timestamp int64) error {
	width, height := i.inner.FrameSize()
	drawRect := cropDrawRect(width, height, i.Rect())

	return i.guard.commit(func() error {
		return i.pool.with(width, height, func(frame *image.RGBA) error {
			draw.Draw(frame, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
			if !drawRect.Empty() {
				draw.ApproxBiLinear.Scale(frame, drawRect, texture, texture.Bounds(), draw.Src, nil)
			}
			return i.inner.CommitFrame(frame, timestamp)
		})
	})
}

// cropDrawRect returns where the full texture is drawn so that
// rect covers a width*height frame.
func cropDrawRect(width, height int, rect image.Rectangle) image.Rectangle {
	if rect.Empty() {
		return image.Rectangle{}
	}
	frameW, frameH := float64(width), float64(height)
	scale := math.Max(frameW/float64(rect.Dx()), frameH/float64(rect.Dy()))

	centerX := float64(rect.Min.X) + float64(rect.Dx())/2
	centerY := float64(rect.Min.Y) + float64(rect.Dy())/2

	minX := 0.5*frameW - scale*centerX
	minY := 0.5*frameH - scale*centerY

	return image.Rect(
		int(math.Round(minX)),
		int(math.Round(minY)),
		int(math.Round(minX+scale*frameW)),
		int(math.Round(minY+scale*frameH)),
	)
}

// Close stops committing and closes the inner input once.
func (i *CropTextureInput) Close() error {
	if !i.guard.close() {
		return nil
	}
	return i.inner.Close()
}
