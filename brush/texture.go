package brush

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sort"
	"sync"

	"github.com/disintegration/imaging"

	"github.com/gogpu/sketch/internal/cache"
)

// Built-in tip texture names.
const (
	TextureGrain = "grain"
	TexturePaper = "paper"
)

const (
	proceduralSize   = 128
	maxTextureSize   = 512
	scaledCacheLimit = 256
)

type scaledKey struct {
	name string
	size int
}

// TextureLibrary holds named grayscale tip textures and caches copies
// resampled to dab diameters. Safe for concurrent use.
type TextureLibrary struct {
	mu      sync.RWMutex
	sources map[string]*image.Gray
	scaled  *cache.Cache[scaledKey, *image.Gray]
}

// NewTextureLibrary creates a library holding the procedural "grain" and
// "paper" textures.
func NewTextureLibrary() *TextureLibrary {
	l := &TextureLibrary{
		sources: make(map[string]*image.Gray),
		scaled:  cache.New[scaledKey, *image.Gray](scaledCacheLimit),
	}
	l.sources[TextureGrain] = proceduralGrain(proceduralSize, 0x5eed)
	l.sources[TexturePaper] = proceduralPaper(proceduralSize, 0xfaded)
	return l
}

// Register adds or replaces a texture. Color images are converted to
// luminance; images larger than 512 px are downsampled.
func (l *TextureLibrary) Register(name string, img image.Image) {
	b := img.Bounds()
	if b.Dx() > maxTextureSize || b.Dy() > maxTextureSize {
		img = imaging.Fit(img, maxTextureSize, maxTextureSize, imaging.Lanczos)
	}
	g := toGray(imaging.Grayscale(img))

	l.mu.Lock()
	l.sources[name] = g
	l.mu.Unlock()
	l.scaled.DeleteFunc(func(k scaledKey) bool { return k.name == name })
}

// Load decodes an image (PNG, JPEG, ...) from r and registers it.
func (l *TextureLibrary) Load(name string, r io.Reader) error {
	img, err := imaging.Decode(r)
	if err != nil {
		return fmt.Errorf("brush: texture %q: %w", name, err)
	}
	l.Register(name, img)
	return nil
}

// Has reports whether a texture is registered.
func (l *TextureLibrary) Has(name string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.sources[name]
	return ok
}

// Names returns the registered texture names, sorted.
func (l *TextureLibrary) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	names := make([]string, 0, len(l.sources))
	for n := range l.sources {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Scaled returns the texture resampled to size × size pixels. The result is
// shared and must not be modified.
func (l *TextureLibrary) Scaled(name string, size int) (*image.Gray, bool) {
	size = max(size, 1)
	l.mu.RLock()
	src, ok := l.sources[name]
	l.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return l.scaled.GetOrCreate(scaledKey{name, size}, func() *image.Gray {
		return toGray(imaging.Resize(src, size, size, imaging.Lanczos))
	}), true
}

// CacheStats reports the scaled-texture cache statistics.
func (l *TextureLibrary) CacheStats() cache.Stats {
	return l.scaled.Stats()
}

func toGray(img image.Image) *image.Gray {
	b := img.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return g
}

// proceduralGrain is smoothed value noise biased toward white, like pencil
// on rough paper.
func proceduralGrain(size int, seed uint64) *image.Gray {
	const cell = 4
	n := size / cell
	lattice := make([]float64, n*n)
	for i := range lattice {
		lattice[i] = unit(seed, i, 0)
	}
	at := func(x, y int) float64 { return lattice[((y+n)%n)*n+(x+n)%n] }

	g := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			fx, fy := float64(x)/cell, float64(y)/cell
			x0, y0 := int(fx), int(fy)
			tx, ty := smoothstep(fx-float64(x0)), smoothstep(fy-float64(y0))
			v := lerp(lerp(at(x0, y0), at(x0+1, y0), tx), lerp(at(x0, y0+1), at(x0+1, y0+1), tx), ty)
			fine := unit(seed^0xabc, y*size+x, 1)
			v = 0.55 + 0.3*v + 0.15*fine
			g.Pix[y*g.Stride+x] = uint8(math.Round(clamp01(v) * 255))
		}
	}
	return g
}

// proceduralPaper has horizontal fibres.
func proceduralPaper(size int, seed uint64) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		row := unit(seed, y, 0)
		for x := 0; x < size; x++ {
			fibre := 0.5 + 0.5*math.Sin(float64(x)*0.15+row*6.28)
			v := 0.7 + 0.2*row*fibre + 0.1*unit(seed, y*size+x, 1)
			g.Pix[y*g.Stride+x] = uint8(math.Round(clamp01(v) * 255))
		}
	}
	return g
}

func smoothstep(t float64) float64 { return t * t * (3 - 2*t) }
