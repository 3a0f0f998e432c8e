// Package render declares the contract between the WMS layer and the map
// rendering engine. The engine owns rasterization, reprojection and image
// encoding; the WMS layer only describes what to draw.
package render

import (
	"context"
	"image/color"
	"math"
	"sort"
)

// Envelope is an axis aligned bounding box.
type Envelope struct {
	MinX, MinY, MaxX, MaxY float64
}

// NewEnvelope normalizes the corners so that Min <= Max.
func NewEnvelope(x0, y0, x1, y1 float64) Envelope {
	return Envelope{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
	}
}

// ExpandToInclude returns the smallest envelope covering e and o.
func (e Envelope) ExpandToInclude(o Envelope) Envelope {
	return Envelope{
		MinX: math.Min(e.MinX, o.MinX),
		MinY: math.Min(e.MinY, o.MinY),
		MaxX: math.Max(e.MaxX, o.MaxX),
		MaxY: math.Max(e.MaxY, o.MaxY),
	}
}

func (e Envelope) Contains(x, y float64) bool {
	return x >= e.MinX && x <= e.MaxX && y >= e.MinY && y <= e.MaxY
}

func (e Envelope) Width() float64  { return e.MaxX - e.MinX }
func (e Envelope) Height() float64 { return e.MaxY - e.MinY }

// Symbolizer is an opaque drawing instruction interpreted by the engine.
type Symbolizer struct {
	Kind  string
	Attrs map[string]string
}

// Rule is one entry of a style. Rules with a Name are the user labelled rules
// that meta styles are built from.
type Rule struct {
	Name        string
	Filter      string
	Symbolizers []Symbolizer
}

// Style is a named ordered sequence of rules.
type Style struct {
	Name  string
	Rules []Rule
}

// Clone returns a deep copy of the style.
func (s Style) Clone() Style {
	out := Style{Name: s.Name, Rules: make([]Rule, len(s.Rules))}
	for i, r := range s.Rules {
		out.Rules[i] = r.clone()
	}
	return out
}

func (r Rule) clone() Rule {
	out := Rule{Name: r.Name, Filter: r.Filter, Symbolizers: make([]Symbolizer, len(r.Symbolizers))}
	for i, sym := range r.Symbolizers {
		attrs := make(map[string]string, len(sym.Attrs))
		for k, v := range sym.Attrs {
			attrs[k] = v
		}
		out.Symbolizers[i] = Symbolizer{Kind: sym.Kind, Attrs: attrs}
	}
	return out
}

// Layer is the engine's native layer. It is owned by the map description and
// must not be mutated by consumers.
type Layer struct {
	Name       string
	SRS        string
	Envelope   Envelope
	Queryable  bool
	Styles     []string
	Datasource map[string]string
}

// Clone returns an independent copy of the layer.
func (l Layer) Clone() Layer {
	out := l
	out.Styles = append([]string(nil), l.Styles...)
	out.Datasource = make(map[string]string, len(l.Datasource))
	for k, v := range l.Datasource {
		out.Datasource[k] = v
	}
	return out
}

// MapDescription is a loaded map definition: the styles and layers the engine
// can draw, plus map level attributes.
type MapDescription struct {
	SRS        string
	Background *color.NRGBA
	BufferSize int
	Styles     map[string]Style
	Layers     []Layer
}

// FindStyle looks a style up by name.
func (d *MapDescription) FindStyle(name string) (Style, bool) {
	s, ok := d.Styles[name]
	return s, ok
}

// StyleNames returns the style names in sorted order.
func (d *MapDescription) StyleNames() []string {
	names := make([]string, 0, len(d.Styles))
	for n := range d.Styles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MapLayer is a layer placed in a Map together with the styles to draw it with.
type MapLayer struct {
	Layer
	StyleNames []string
}

// Map is a request time view handed to the engine.
type Map struct {
	Width      int
	Height     int
	SRS        string
	Background *color.NRGBA
	BufferSize int
	Styles     map[string]Style
	Layers     []MapLayer
	Extent     Envelope
}

// AppendStyle adds a style definition under name.
func (m *Map) AppendStyle(name string, s Style) {
	if m.Styles == nil {
		m.Styles = make(map[string]Style)
	}
	m.Styles[name] = s
}

// Property is one feature attribute.
type Property struct {
	Name  string
	Value any
}

// Feature is a queried feature with its attributes in datasource order.
type Feature struct {
	Properties []Property
}

// Projection converts native coordinates to geographic ones.
type Projection interface {
	// Inverse maps native x/y to longitude/latitude.
	Inverse(x, y float64) (lon, lat float64)
	// EPSGString returns the advertised identifier, e.g. "EPSG:4326".
	EPSGString() string
}

// Projector resolves projection definitions such as "+init=epsg:4326".
type Projector interface {
	Projection(srs string) (Projection, error)
}

// Engine is the rendering collaborator.
type Engine interface {
	Projector
	// Render draws m and encodes it as format (image/png, image/png8 or image/jpeg).
	Render(ctx context.Context, m *Map, format string) ([]byte, error)
	// QueryPoint returns the features of m.Layers[layerIndex] under pixel i/j.
	QueryPoint(ctx context.Context, m *Map, layerIndex int, i, j float64) ([]Feature, error)
	// Blank encodes an empty image. A nil background yields a transparent image.
	Blank(width, height int, format string, background *color.NRGBA) ([]byte, error)
	// Message encodes an image signalling an error.
	Message(width, height int, format string, background *color.NRGBA, message string) ([]byte, error)
}

// ContentType maps an output format to the content type sent to clients.
// Palette PNG is still image/png on the wire.
func ContentType(format string) string {
	if format == "image/png8" {
		return "image/png"
	}
	return format
}
