package canvas

import (
	"fmt"
	"math"

	"github.com/gogpu/sketch"
	"github.com/gogpu/sketch/tilemem"
)

// baseBit marks the hidden layer that holds a layer's flattened strokes.
const baseBit tilemem.LayerID = 1 << 31

func baseOf(id tilemem.LayerID) tilemem.LayerID { return id | baseBit }

// LayerInfo describes a layer.
type LayerInfo struct {
	ID      tilemem.LayerID
	Name    string
	Hidden  bool
	Opacity float64
	Blend   sketch.BlendMode
	// Strokes is the number of strokes in the layer's recolor log.
	Strokes int
	// Flattened counts strokes moved out of the log into the base.
	Flattened int
}

type layer struct {
	id        tilemem.LayerID
	name      string
	hidden    bool
	opacity   float64
	blend     sketch.BlendMode
	log       []*loggedStroke
	flattened int
}

func (l *layer) info() LayerInfo {
	return LayerInfo{
		ID:        l.id,
		Name:      l.name,
		Hidden:    l.hidden,
		Opacity:   l.opacity,
		Blend:     l.blend,
		Strokes:   len(l.log),
		Flattened: l.flattened,
	}
}

// AddLayer appends a visible, opaque layer on top and returns its id.
func (e *Engine) AddLayer(name string) (tilemem.LayerID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, ErrClosed
	}
	return e.addLayerLocked(name), nil
}

func (e *Engine) addLayerLocked(name string) tilemem.LayerID {
	id := e.nextLayer
	e.nextLayer++
	if name == "" {
		name = fmt.Sprintf("Layer %d", id)
	}
	e.layers = append(e.layers, &layer{id: id, name: name, opacity: 1})
	return id
}

// Layers returns the layers bottom to top.
func (e *Engine) Layers() []LayerInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LayerInfo, len(e.layers))
	for i, l := range e.layers {
		out[i] = l.info()
	}
	return out
}

func (e *Engine) layerLocked(id tilemem.LayerID) (*layer, error) {
	for _, l := range e.layers {
		if l.id == id {
			return l, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, id)
}

// SetLayerHidden shows or hides a layer.
func (e *Engine) SetLayerHidden(id tilemem.LayerID, hidden bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.layerLocked(id)
	if err != nil {
		return err
	}
	l.hidden = hidden
	return nil
}

// SetLayerOpacity sets a layer's opacity in [0, 1].
func (e *Engine) SetLayerOpacity(id tilemem.LayerID, opacity float64) error {
	if math.IsNaN(opacity) || opacity < 0 || opacity > 1 {
		return &sketch.ConfigError{Field: "opacity", Message: fmt.Sprintf("must be in [0, 1], got %g", opacity)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.layerLocked(id)
	if err != nil {
		return err
	}
	l.opacity = opacity
	return nil
}

// SetLayerBlend sets how a layer is blended over the layers below it.
func (e *Engine) SetLayerBlend(id tilemem.LayerID, mode sketch.BlendMode) error {
	if mode > sketch.BlendErase {
		return &sketch.ConfigError{Field: "blend", Message: fmt.Sprintf("unknown mode %d", mode)}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	l, err := e.layerLocked(id)
	if err != nil {
		return err
	}
	l.blend = mode
	return nil
}
