// Package canvas is a small raster engine that draws each layer as its
// envelope, filled and stroked with the colors of its style rules. It serves
// maps without an external renderer and backs the protocol tests.
package canvas

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/jpeg"
	"image/png"
	"sort"
	"strings"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

// MaxSize bounds both image dimensions.
const MaxSize = 8192

// AttributePrefix marks datasource parameters that are reported as feature
// attributes by QueryPoint.
const AttributePrefix = "attribute."

var (
	white       = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	messageRed  = color.NRGBA{R: 204, G: 0, B: 0, A: 255}
	transparent = color.NRGBA{}
)

// Engine implements render.Engine.
type Engine struct {
	// JPEGQuality defaults to 85.
	JPEGQuality int
}

var _ render.Engine = (*Engine)(nil)

func New() *Engine {
	return &Engine{JPEGQuality: 85}
}

func (e *Engine) Projection(srs string) (render.Projection, error) {
	return resolve(srs)
}

func (e *Engine) Render(ctx context.Context, m *render.Map, format string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, err := newImage(m.Width, m.Height, m.Background)
	if err != nil {
		return nil, err
	}
	target, err := resolve(m.SRS)
	if err != nil {
		return nil, err
	}
	if m.Extent.Width() <= 0 || m.Extent.Height() <= 0 {
		return nil, fmt.Errorf("empty map extent %+v", m.Extent)
	}

	for _, l := range m.Layers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		source, err := resolve(l.SRS)
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		rect := pixelRect(m, source, target, l.Envelope)
		for _, name := range l.StyleNames {
			s, ok := m.Styles[name]
			if !ok {
				return nil, fmt.Errorf("layer %q: style %q is not part of the map", l.Name, name)
			}
			paintStyle(img, rect, s)
		}
	}
	return e.encode(img, format)
}

func (e *Engine) QueryPoint(ctx context.Context, m *render.Map, layerIndex int, i, j float64) ([]render.Feature, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if layerIndex < 0 || layerIndex >= len(m.Layers) {
		return nil, fmt.Errorf("layer index %d out of range", layerIndex)
	}
	if m.Width <= 0 || m.Height <= 0 {
		return nil, fmt.Errorf("invalid map size %dx%d", m.Width, m.Height)
	}
	target, err := resolve(m.SRS)
	if err != nil {
		return nil, err
	}
	l := m.Layers[layerIndex]
	source, err := resolve(l.SRS)
	if err != nil {
		return nil, fmt.Errorf("layer %q: %w", l.Name, err)
	}

	x := m.Extent.MinX + (i+0.5)/float64(m.Width)*m.Extent.Width()
	y := m.Extent.MaxY - (j+0.5)/float64(m.Height)*m.Extent.Height()
	lx, ly := transform(target, source, x, y)
	if !l.Envelope.Contains(lx, ly) {
		return nil, nil
	}
	return []render.Feature{featureOf(l.Layer)}, nil
}

func (e *Engine) Blank(width, height int, format string, background *color.NRGBA) ([]byte, error) {
	img, err := newImage(width, height, background)
	if err != nil {
		return nil, err
	}
	return e.encode(img, format)
}

// Message draws a red frame with a cross. The text itself is not rendered.
func (e *Engine) Message(width, height int, format string, background *color.NRGBA, message string) ([]byte, error) {
	if background == nil {
		background = &white
	}
	img, err := newImage(width, height, background)
	if err != nil {
		return nil, err
	}
	stroke(img, img.Bounds(), messageRed)
	for x := 0; x < width; x++ {
		y := x * height / width
		img.SetNRGBA(x, y, messageRed)
		img.SetNRGBA(x, height-1-y, messageRed)
	}
	return e.encode(img, format)
}

func newImage(width, height int, background *color.NRGBA) (*image.NRGBA, error) {
	if width <= 0 || height <= 0 || width > MaxSize || height > MaxSize {
		return nil, fmt.Errorf("invalid image size %dx%d", width, height)
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	bg := transparent
	if background != nil {
		bg = *background
	}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	return img, nil
}

func (e *Engine) encode(img *image.NRGBA, format string) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, err
		}
	case "image/png8":
		pal := image.NewPaletted(img.Bounds(), append(color.Palette{transparent}, palette.WebSafe...))
		draw.Draw(pal, img.Bounds(), img, image.Point{}, draw.Src)
		if err := png.Encode(&buf, pal); err != nil {
			return nil, err
		}
	case "image/jpeg":
		quality := e.JPEGQuality
		if quality == 0 {
			quality = 85
		}
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	return buf.Bytes(), nil
}

func pixelRect(m *render.Map, source, target projection, env render.Envelope) image.Rectangle {
	x0, y0 := transform(source, target, env.MinX, env.MinY)
	x1, y1 := transform(source, target, env.MaxX, env.MaxY)
	ext := m.Extent
	px := func(x float64) int { return int((x - ext.MinX) / ext.Width() * float64(m.Width)) }
	py := func(y float64) int { return int((ext.MaxY - y) / ext.Height() * float64(m.Height)) }
	return image.Rect(px(x0), py(y1), px(x1), py(y0)).Intersect(image.Rect(0, 0, m.Width, m.Height))
}

func paintStyle(img *image.NRGBA, rect image.Rectangle, s render.Style) {
	if rect.Empty() {
		return
	}
	for _, rule := range s.Rules {
		for _, sym := range rule.Symbolizers {
			if fill, ok := symbolColor(sym, "fill"); ok {
				draw.Draw(img, rect, image.NewUniform(fill), image.Point{}, draw.Over)
			}
			if line, ok := symbolColor(sym, "stroke"); ok {
				stroke(img, rect, line)
			}
		}
	}
}

func symbolColor(sym render.Symbolizer, attr string) (color.NRGBA, bool) {
	raw, ok := sym.Attrs[attr]
	if !ok {
		return color.NRGBA{}, false
	}
	c, err := ogc.ParseColor(raw)
	if err != nil {
		return color.NRGBA{}, false
	}
	if op, ok := sym.Attrs[attr+"-opacity"]; ok {
		var f float64
		if _, err := fmt.Sscanf(op, "%g", &f); err == nil && f >= 0 && f <= 1 {
			c.A = uint8(float64(c.A)*f + 0.5)
		}
	}
	return c, true
}

func stroke(img *image.NRGBA, rect image.Rectangle, c color.NRGBA) {
	if rect.Empty() {
		return
	}
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetNRGBA(x, rect.Min.Y, c)
		img.SetNRGBA(x, rect.Max.Y-1, c)
	}
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetNRGBA(rect.Min.X, y, c)
		img.SetNRGBA(rect.Max.X-1, y, c)
	}
}

func featureOf(l render.Layer) render.Feature {
	keys := make([]string, 0, len(l.Datasource))
	for k := range l.Datasource {
		if strings.HasPrefix(k, AttributePrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	f := render.Feature{Properties: make([]render.Property, 0, len(keys))}
	for _, k := range keys {
		f.Properties = append(f.Properties, render.Property{
			Name:  strings.TrimPrefix(k, AttributePrefix),
			Value: l.Datasource[k],
		})
	}
	return f
}
