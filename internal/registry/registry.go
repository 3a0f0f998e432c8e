// Package registry holds the WMS view of a map: the layers and styles that
// clients may request, including the synthesized meta and aggregate styles.
//
// A Registry is populated once during startup, sealed with Finalize and read
// without locking afterwards.
package registry

import (
	"fmt"
	"image/color"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

// DefaultStyleName is the style name clients use to select the default style of
// a layer. For multi-style layers it stands for the aggregate of all styles.
const DefaultStyleName = "default"

var (
	epsgInitPattern = regexp.MustCompile(`^\+init=epsg:\d+$`)
	projPattern     = regexp.MustCompile(`^\+proj=.*$`)
)

// Layer is the registry's own copy of a renderable layer with the WMS metadata
// attached. Consumers must treat it as read-only.
type Layer struct {
	render.Layer

	Title    string
	Abstract string
	// WMSSRS overrides the identifier advertised for the native bounding box.
	WMSSRS string

	DefaultStyle string
	ExtraStyles  []string

	// MetaStyle is set on meta layers only and names their single style.
	MetaStyle string
	// AggregatesName is set on multi-style layers and names the aggregate style.
	AggregatesName string

	// Geographic is the native envelope reprojected to longitude/latitude.
	Geographic render.Envelope
	// EPSG is the identifier of the native projection, e.g. "EPSG:4326".
	EPSG string
}

// IsMeta reports whether l was synthesized from named rules.
func (l Layer) IsMeta() bool {
	return l.MetaStyle != ""
}

// AdvertisedSRS is the identifier used for the layer's native bounding box.
func (l Layer) AdvertisedSRS() string {
	if l.WMSSRS != "" {
		return l.WMSSRS
	}
	return l.EPSG
}

func (l Layer) clone() Layer {
	out := l
	out.Layer = l.Layer.Clone()
	out.ExtraStyles = append([]string(nil), l.ExtraStyles...)
	return out
}

// LayerOverride carries per layer configuration.
type LayerOverride struct {
	Title    string
	Abstract string
	WMSSRS   string
}

// Overlay is the configuration applied on top of a map description.
type Overlay struct {
	// DefaultWMSSRS applies to layers without their own WMSSRS.
	DefaultWMSSRS string
	Layers        map[string]LayerOverride
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for non-fatal configuration warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// Registry maps WMS names to layers and styles.
type Registry struct {
	projector render.Projector
	logger    *zap.Logger

	layers     map[string]*Layer
	ordered    []*Layer
	styles     map[string]render.Style
	aggregates map[string][]string
	metaStyles map[string]render.Style
	metaLayers map[string]*Layer

	latLon     *render.Envelope
	background *color.NRGBA
	bufferSize int

	sealed bool
}

// New returns an empty registry that resolves projections with projector.
func New(projector render.Projector, opts ...Option) *Registry {
	r := &Registry{
		projector:  projector,
		logger:     zap.NewNop(),
		layers:     make(map[string]*Layer),
		styles:     make(map[string]render.Style),
		aggregates: make(map[string][]string),
		metaStyles: make(map[string]render.Style),
		metaLayers: make(map[string]*Layer),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterStyle adds a simple style.
func (r *Registry) RegisterStyle(name string, style render.Style) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if name == "" {
		return ogc.NewConfigurationError("attempted to register a style without providing a name")
	}
	if r.styleExists(name) {
		return ogc.NewConfigurationError("attempted to register a style with a name already in use: %q", name)
	}
	s := style.Clone()
	s.Name = name
	r.styles[name] = s
	return nil
}

// RegisterAggregateStyle adds a style that stands for several simple styles
// drawn in order.
func (r *Registry) RegisterAggregateStyle(name string, styleNames []string) error {
	if err := r.mutable(); err != nil {
		return err
	}
	if name == "" {
		return ogc.NewConfigurationError("attempted to register an aggregate style without providing a name")
	}
	if r.styleExists(name) {
		return ogc.NewConfigurationError("attempted to register an aggregate style with a name already in use: %q", name)
	}
	members := make([]string, 0, len(styleNames))
	for _, s := range styleNames {
		if _, ok := r.styles[s]; !ok {
			return ogc.NewConfigurationError("aggregate style %q refers to style %q which does not exist", name, s)
		}
		members = append(members, s)
	}
	r.aggregates[name] = members
	return nil
}

// RegisterLayer adds a copy of layer with the given default and extra styles,
// all of which must already be registered.
func (r *Registry) RegisterLayer(layer Layer, defaultStyle string, extraStyles ...string) error {
	if err := r.mutable(); err != nil {
		return err
	}
	name := layer.Name
	if name == "" {
		return ogc.NewConfigurationError("attempted to register an unnamed layer")
	}
	if r.layerExists(name) {
		return ogc.NewConfigurationError("attempted to register a layer with a name already in use: %q", name)
	}
	if layer.WMSSRS == "" && !epsgInitPattern.MatchString(layer.SRS) && !projPattern.MatchString(layer.SRS) {
		return ogc.NewConfigurationError("layer %q has no epsg projection defined (srs %q)", name, layer.SRS)
	}
	if !r.styleExists(defaultStyle) {
		return ogc.NewConfigurationError("layer %q refers to non-existent default style %q", name, defaultStyle)
	}
	for _, s := range extraStyles {
		if !r.styleExists(s) {
			return ogc.NewConfigurationError("layer %q refers to non-existent extra style %q", name, s)
		}
	}

	l := layer.clone()
	l.Styles = nil
	l.DefaultStyle = defaultStyle
	l.ExtraStyles = append([]string(nil), extraStyles...)
	if err := r.project(&l); err != nil {
		return err
	}

	if r.latLon == nil {
		env := l.Geographic
		r.latLon = &env
	} else {
		env := r.latLon.ExpandToInclude(l.Geographic)
		r.latLon = &env
	}
	r.ordered = append(r.ordered, &l)
	r.layers[name] = &l
	return nil
}

// Finalize validates the registry and seals it against further changes.
func (r *Registry) Finalize() error {
	if err := r.mutable(); err != nil {
		return err
	}
	if len(r.layers) == 0 {
		return ogc.NewConfigurationError("no layers defined")
	}
	if len(r.styles) == 0 {
		return ogc.NewConfigurationError("no styles defined")
	}
	for _, l := range r.ordered {
		if l.IsMeta() {
			continue
		}
		refs := append([]string{l.DefaultStyle}, l.ExtraStyles...)
		for _, s := range refs {
			if !r.styleExists(s) {
				return ogc.NewConfigurationError("layer %q refers to undefined style %q", l.Name, s)
			}
		}
	}
	r.sealed = true
	return nil
}

// Sealed reports whether Finalize completed.
func (r *Registry) Sealed() bool {
	return r.sealed
}

// Layer returns the ordinary layer registered under name.
func (r *Registry) Layer(name string) (Layer, bool) {
	l, ok := r.layers[name]
	if !ok {
		return Layer{}, false
	}
	return l.clone(), true
}

// MetaLayer returns the meta layer registered under name.
func (r *Registry) MetaLayer(name string) (Layer, bool) {
	l, ok := r.metaLayers[name]
	if !ok {
		return Layer{}, false
	}
	return l.clone(), true
}

// Layers returns every layer, meta layers included, in registration order.
func (r *Registry) Layers() []Layer {
	out := make([]Layer, len(r.ordered))
	for i, l := range r.ordered {
		out[i] = l.clone()
	}
	return out
}

// LayerCount is the number of ordinary layers.
func (r *Registry) LayerCount() int {
	return len(r.layers)
}

func (r *Registry) Style(name string) (render.Style, bool) {
	s, ok := r.styles[name]
	return s, ok
}

// StyleCount is the number of simple styles.
func (r *Registry) StyleCount() int {
	return len(r.styles)
}

func (r *Registry) AggregateStyle(name string) ([]string, bool) {
	s, ok := r.aggregates[name]
	if !ok {
		return nil, false
	}
	return append([]string(nil), s...), true
}

func (r *Registry) MetaStyle(name string) (render.Style, bool) {
	s, ok := r.metaStyles[name]
	return s, ok
}

// LatLonBBox is the union of the geographic extents of every ordinary layer.
func (r *Registry) LatLonBBox() (render.Envelope, bool) {
	if r.latLon == nil {
		return render.Envelope{}, false
	}
	return *r.latLon, true
}

// Background is the map level background color, if any.
func (r *Registry) Background() *color.NRGBA {
	return r.background
}

// BufferSize is the map level buffer size.
func (r *Registry) BufferSize() int {
	return r.bufferSize
}

func (r *Registry) mutable() error {
	if r.sealed {
		return ogc.NewConfigurationError("registry is finalized and can no longer be modified")
	}
	return nil
}

func (r *Registry) styleExists(name string) bool {
	_, simple := r.styles[name]
	_, aggregate := r.aggregates[name]
	return simple || aggregate
}

func (r *Registry) layerExists(name string) bool {
	_, ordinary := r.layers[name]
	_, meta := r.metaLayers[name]
	return ordinary || meta
}

func (r *Registry) project(l *Layer) error {
	proj, err := r.projector.Projection(l.SRS)
	if err != nil {
		return ogc.NewConfigurationError("layer %q has an unsupported projection %q: %s", l.Name, l.SRS, err)
	}
	env := l.Envelope
	x0, y0 := proj.Inverse(env.MinX, env.MinY)
	x1, y1 := proj.Inverse(env.MaxX, env.MaxY)
	l.Geographic = render.NewEnvelope(x0, y0, x1, y1)
	l.EPSG = proj.EPSGString()
	return nil
}

func (r *Registry) String() string {
	return fmt.Sprintf("registry(%d layers, %d styles, %d aggregate styles, %d meta layers)",
		len(r.layers), len(r.styles), len(r.aggregates), len(r.metaLayers))
}

func metaLayerName(base string, ruleNames []string) string {
	name := fmt.Sprintf("%s:%s", base, strings.Join(ruleNames, "-"))
	return strings.ReplaceAll(name, " ", "_")
}
