package system

import (
	"image"
	"sync"
)

// SurfacePool recycles *image.RGBA surfaces per size so the decode and
// render loops do not allocate a fresh frame 30 times a second.
type SurfacePool struct {
	pools map[image.Point]*sync.Pool
	mu    sync.RWMutex
}

var globalPool = NewSurfacePool()

func NewSurfacePool() *SurfacePool {
	return &SurfacePool{pools: make(map[image.Point]*sync.Pool)}
}

// GetImage returns a w×h surface anchored at the origin. Its content is
// undefined; callers overwrite every pixel.
func GetImage(rect image.Rectangle) *image.RGBA {
	return globalPool.Get(rect)
}

// PutImage hands a surface back for reuse.
func PutImage(img *image.RGBA) {
	globalPool.Put(img)
}

func (p *SurfacePool) Get(rect image.Rectangle) *image.RGBA {
	size := rect.Size()
	p.mu.RLock()
	pool, exists := p.pools[size]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[size]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return image.NewRGBA(image.Rectangle{Max: size})
				},
			}
			p.pools[size] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*image.RGBA)
}

func (p *SurfacePool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, exists := p.pools[img.Rect.Size()]
	p.mu.RUnlock()

	if exists && img.Rect.Min == (image.Point{}) {
		pool.Put(img)
	}
}
