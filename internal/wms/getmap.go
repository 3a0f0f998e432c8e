package wms

import (
	"context"
	"errors"
	"image/color"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
	"github.com/delta10/wms-server/internal/utils"
)

var white = color.NRGBA{R: 255, G: 255, B: 255, A: 255}

// buildMap turns validated GetMap style parameters into a map view. extent
// receives the requested bbox and may reorder its axes.
func (b *base) buildMap(params ogc.Params, extent func(bbox []float64) render.Envelope) (*render.Map, error) {
	crs, ok := params.CRS("crs")
	if !ok {
		return nil, ogc.NewCodedError(ogc.CodeMissingParameterValue, "Mandatory parameter \"crs\" missing from request.")
	}
	if _, allowed := b.allowedCRS[crs.String()]; !allowed {
		return nil, ogc.NewCodedError(ogc.CodeInvalidCRS, "Unsupported CRS %q requested.", crs.Upper())
	}

	bbox := params.Floats("bbox")
	if len(bbox) != 4 {
		return nil, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "BBOX must contain exactly four values.")
	}
	if bbox[0] >= bbox[2] {
		return nil, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "BBOX values don't make sense. minx is greater than maxx.")
	}
	if bbox[1] >= bbox[3] {
		return nil, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "BBOX values don't make sense. miny is greater than maxy.")
	}

	width, _ := params.Int("width")
	height, _ := params.Int("height")
	if width <= 0 || height <= 0 {
		return nil, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "WIDTH and HEIGHT must be positive.")
	}

	m := &render.Map{
		Width:      width,
		Height:     height,
		SRS:        "+init=" + crs.String(),
		Background: b.background(params),
		BufferSize: b.registry.BufferSize(),
		Styles:     make(map[string]render.Style),
	}

	if err := b.addLayers(m, params.Strings("layers"), params.Strings("styles")); err != nil {
		return nil, err
	}
	m.Extent = extent(bbox)
	return m, nil
}

// background picks, in order: transparency (not for jpeg), bgcolor, the map
// background, white. A nil result is transparent.
func (b *base) background(params ogc.Params) *color.NRGBA {
	if isTrue(params.String("transparent")) && params.String("format") != "image/jpeg" {
		return nil
	}
	if c, ok := params.Color("bgcolor"); ok {
		return &c
	}
	if bg := b.registry.Background(); bg != nil {
		c := *bg
		return &c
	}
	c := white
	return &c
}

func (b *base) addLayers(m *render.Map, layers, styles []string) error {
	if len(layers) == 1 && layers[0] == AllLayers {
		for _, l := range b.registry.Layers() {
			if l.IsMeta() {
				continue
			}
			if err := b.addLayer(m, l, l.DefaultStyle); err != nil {
				return err
			}
		}
		return nil
	}

	for i, name := range layers {
		var style string
		if i < len(styles) {
			style = styles[i]
		}

		if l, ok := b.registry.Layer(name); ok {
			if len(l.ExtraStyles) > 1 && style == registry.DefaultStyleName {
				style = ""
			}
			if style == "" {
				style = l.DefaultStyle
			} else if !utils.StringInSlice(style, l.ExtraStyles) {
				return ogc.NewCodedError(ogc.CodeStyleNotDefined, "Invalid style %q requested for layer %q.", style, name)
			}
			if err := b.addLayer(m, l, style); err != nil {
				return err
			}
			continue
		}

		if l, ok := b.registry.MetaLayer(name); ok {
			s, ok := b.registry.MetaStyle(l.MetaStyle)
			if !ok {
				return ogc.NewCodedError(ogc.CodeStyleNotDefined, "Meta style %q of layer %q is missing.", l.MetaStyle, name)
			}
			m.AppendStyle(l.MetaStyle, s)
			m.Layers = append(m.Layers, render.MapLayer{Layer: l.Layer, StyleNames: []string{l.MetaStyle}})
			continue
		}

		return ogc.NewCodedError(ogc.CodeLayerNotDefined, "Layer %q not defined.", name)
	}
	return nil
}

// addLayer expands aggregate styles into their members.
func (b *base) addLayer(m *render.Map, l registry.Layer, style string) error {
	var names []string
	if members, ok := b.registry.AggregateStyle(style); ok {
		names = members
	} else {
		names = []string{style}
	}
	for _, n := range names {
		s, ok := b.registry.Style(n)
		if !ok {
			return ogc.NewCodedError(ogc.CodeStyleNotDefined, "Invalid style %q requested for layer %q.", n, l.Name)
		}
		m.AppendStyle(n, s)
	}
	m.Layers = append(m.Layers, render.MapLayer{Layer: l.Layer, StyleNames: names})
	return nil
}

func (b *base) getMap(ctx context.Context, params ogc.Params, extent func([]float64) render.Envelope) (ogc.Response, error) {
	m, err := b.buildMap(params, extent)
	if err != nil {
		return ogc.Response{}, err
	}
	format := params.String("format")
	data, err := b.engine.Render(ctx, m, format)
	if err != nil {
		return ogc.Response{}, renderFailure(err)
	}
	b.logger.Debug("rendered map",
		zap.Int("layers", len(m.Layers)),
		zap.String("format", format),
		zap.Int("bytes", len(data)))
	return ogc.NewResponse(render.ContentType(format), data), nil
}

// renderFailure keeps cancellation visible to the transport and wraps
// everything else.
func renderFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ogc.RenderError{Err: err}
}

// plainExtent uses the bbox as given.
func plainExtent(bbox []float64) render.Envelope {
	return render.NewEnvelope(bbox[0], bbox[1], bbox[2], bbox[3])
}
