// Package wms implements the WMS 1.1.1 and 1.3.0 operations on top of a
// sealed registry and a rendering engine.
package wms

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
)

// AllLayers selects every ordinary layer in LAYERS and QUERY_LAYERS.
const AllLayers = "__all__"

const (
	defaultRootName  = AllLayers
	defaultRootTitle = "OGC WMS Server"
	noAbstract       = "no abstract"
	defaultStyleText = "This layer's default style that combines all its other named styles."
)

// ServiceMetadata is the service section of the capabilities document.
type ServiceMetadata struct {
	Title             string
	Abstract          string
	OnlineResource    string
	Fees              string
	AccessConstraints string
	Keywords          []string
	AllowedEPSGCodes  []int
	// LayerLimit, MaxWidth and MaxHeight apply to 1.3.0 only. Zero means
	// unlimited.
	LayerLimit int
	MaxWidth   int
	MaxHeight  int
}

// RootLayer describes the pseudo layer that contains every other layer.
type RootLayer struct {
	Name     string
	Title    string
	Abstract string
}

// Options are shared by every handler of a Service.
type Options struct {
	Service ServiceMetadata
	Root    RootLayer
	// FeatureInfoFilters holds compiled jq programs keyed by layer name that
	// rewrite GetFeatureInfo attributes.
	FeatureInfoFilters map[string]*gojq.Code
	// Home is executed for the HTML exception format and the welcome page.
	Home  *template.Template
	Debug bool
}

// CompileFeatureInfoFilter parses and compiles a jq program for use in
// Options.FeatureInfoFilters.
func CompileFeatureInfoFilter(layer, source string) (*gojq.Code, error) {
	query, err := gojq.Parse(source)
	if err != nil {
		return nil, ogc.NewConfigurationError("layer %q: could not parse featureInfoFilter: %s", layer, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, ogc.NewConfigurationError("layer %q: could not compile featureInfoFilter: %s", layer, err)
	}
	return code, nil
}

// Request is a validated operation request.
type Request struct {
	Params    ogc.Params
	UserAgent string
	// OnlineResource is the URL of this service as seen by the client. It is
	// written into capabilities documents.
	OnlineResource string
}

// ServiceHandler is one protocol version's implementation of the WMS
// operations.
type ServiceHandler interface {
	Version() ogc.Version
	// Operations is the parameter contract of every supported operation.
	Operations() ogc.Operations
	GetCapabilities(ctx context.Context, req *Request) (ogc.Response, error)
	GetMap(ctx context.Context, req *Request) (ogc.Response, error)
	GetFeatureInfo(ctx context.Context, req *Request) (ogc.Response, error)
}

// NewServiceHandler returns the handler for version: 1.3.0 for anything at
// or above 1.3.0, 1.1.1 otherwise.
func NewServiceHandler(version ogc.Version, reg *registry.Registry, engine render.Engine, opts Options, logger *zap.Logger) (ServiceHandler, error) {
	b, err := newBase(reg, engine, opts, logger)
	if err != nil {
		return nil, err
	}
	if version.AtLeast(ogc.Version130) {
		return &handler130{base: b}, nil
	}
	return &handler111{base: b}, nil
}

// base holds what both protocol versions share.
type base struct {
	registry   *registry.Registry
	engine     render.Engine
	opts       Options
	logger     *zap.Logger
	allowedCRS map[string]struct{}
}

func newBase(reg *registry.Registry, engine render.Engine, opts Options, logger *zap.Logger) (*base, error) {
	if reg == nil || !reg.Sealed() {
		return nil, ogc.NewConfigurationError("registry must be finalized before serving requests")
	}
	if len(opts.Service.AllowedEPSGCodes) == 0 {
		return nil, ogc.NewConfigurationError("allowed EPSG codes not properly configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	allowed := make(map[string]struct{}, len(opts.Service.AllowedEPSGCodes))
	for _, code := range opts.Service.AllowedEPSGCodes {
		allowed[fmt.Sprintf("epsg:%d", code)] = struct{}{}
	}
	return &base{
		registry:   reg,
		engine:     engine,
		opts:       opts,
		logger:     logger,
		allowedCRS: allowed,
	}, nil
}

// crsList is the advertised list of allowed CRS identifiers, e.g. "EPSG:4326".
func (b *base) crsList() []string {
	out := make([]string, 0, len(b.opts.Service.AllowedEPSGCodes))
	for _, code := range b.opts.Service.AllowedEPSGCodes {
		out = append(out, fmt.Sprintf("EPSG:%d", code))
	}
	return out
}

func (b *base) root() RootLayer {
	r := b.opts.Root
	if r.Name == "" {
		r.Name = defaultRootName
	}
	if r.Title == "" {
		r.Title = defaultRootTitle
	}
	if r.Abstract == "" {
		r.Abstract = defaultRootTitle
	}
	return r
}

func (b *base) serviceTitle() string {
	if b.opts.Service.Title != "" {
		return b.opts.Service.Title
	}
	return defaultRootTitle
}

// serviceOnlineResource is the configured service URL, or the request's
// online resource when none is configured.
func (b *base) serviceOnlineResource() string {
	if b.opts.Service.OnlineResource != "" {
		return b.opts.Service.OnlineResource
	}
	return onlineResourcePlaceholder
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "TRUE")
}
