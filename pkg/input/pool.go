package input

import (
	"image"
	"sync"
)

// Free textures kept per size.
const maxFreeTextures = 4

// texturePool reuses frame sized RGBA buffers.
type texturePool struct {
	free map[image.Point][]*image.RGBA
	mu   sync.Mutex
}

func newTexturePool() *texturePool {
	return &texturePool{free: make(map[image.Point][]*image.RGBA)}
}

var defaultPool = newTexturePool()

func (p *texturePool) get(width, height int) *image.RGBA {
	size := image.Pt(width, height)

	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.free[size]
	if len(free) == 0 {
		return image.NewRGBA(image.Rectangle{Max: size})
	}
	texture := free[len(free)-1]
	p.free[size] = free[:len(free)-1]
	return texture
}

func (p *texturePool) put(texture *image.RGBA) {
	size := texture.Bounds().Size()

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free[size]) < maxFreeTextures {
		p.free[size] = append(p.free[size], texture)
	}
}

// with calls fn with a texture that is released when fn returns.
func (p *texturePool) with(width, height int, fn func(*image.RGBA) error) error {
	texture := p.get(width, height)
	defer p.put(texture)
	return fn(texture)
}

func (p *texturePool) freeCount(width, height int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free[image.Pt(width, height)])
}
