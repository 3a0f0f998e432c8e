package wms

import (
	"context"
	"encoding/xml"
	"image/color"
	"sync"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
	"github.com/delta10/wms-server/internal/render/canvas"
)

const onlineResource = "http://example.com/wms?"

type recordingEngine struct {
	*canvas.Engine

	mu   sync.Mutex
	last *render.Map
}

func (e *recordingEngine) Render(ctx context.Context, m *render.Map, format string) ([]byte, error) {
	e.mu.Lock()
	e.last = m
	e.mu.Unlock()
	return e.Engine.Render(ctx, m, format)
}

func (e *recordingEngine) lastMap() *render.Map {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

func fill(c string) render.Symbolizer {
	return render.Symbolizer{Kind: "PolygonSymbolizer", Attrs: map[string]string{"fill": c}}
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	desc := &render.MapDescription{
		Styles: map[string]render.Style{
			"roads": {Rules: []render.Rule{
				{Name: "major", Symbolizers: []render.Symbolizer{fill("#ff0000")}},
				{Symbolizers: []render.Symbolizer{fill("#999999")}},
			}},
			"outline": {Rules: []render.Rule{{Symbolizers: []render.Symbolizer{{Kind: "LineSymbolizer", Attrs: map[string]string{"stroke": "#0000ff"}}}}}},
			"default": {Rules: []render.Rule{{Symbolizers: []render.Symbolizer{fill("#00ffff")}}}},
			"water":   {Rules: []render.Rule{{Symbolizers: []render.Symbolizer{fill("#0000ff")}}}},
		},
		Layers: []render.Layer{
			{
				Name:      "roads",
				SRS:       "+init=epsg:4326",
				Envelope:  render.NewEnvelope(4, 51, 6, 53),
				Queryable: true,
				Styles:    []string{"roads"},
				Datasource: map[string]string{
					"type":            "envelope",
					"attribute.name":  "A1",
					"attribute.lanes": "2",
				},
			},
			{
				Name:     "water",
				SRS:      "+init=epsg:4326",
				Envelope: render.NewEnvelope(3, 50, 7, 54),
				Styles:   []string{"outline", "default", "water"},
			},
		},
	}

	reg := registry.New(canvas.New())
	overlay := registry.Overlay{Layers: map[string]registry.LayerOverride{
		"roads": {Title: "Roads", Abstract: "Main roads"},
	}}
	require.NoError(t, reg.LoadMap(desc, overlay))
	require.NoError(t, reg.Finalize())
	return reg
}

func testOptions() Options {
	return Options{
		Service: ServiceMetadata{
			Title:            "Test WMS",
			Abstract:         "A service for tests",
			Keywords:         []string{"roads", "water"},
			AllowedEPSGCodes: []int{4326, 3857},
		},
	}
}

func newTestService(t *testing.T, mutate ...func(*Options)) (*Service, *recordingEngine) {
	t.Helper()

	opts := testOptions()
	for _, m := range mutate {
		m(&opts)
	}
	engine := &recordingEngine{Engine: canvas.New()}
	svc, err := NewService(testRegistry(t), engine, opts, nil)
	require.NoError(t, err)
	return svc, engine
}

func call(kv ...string) Call {
	params := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		params[kv[i]] = kv[i+1]
	}
	return Call{Params: params, OnlineResource: onlineResource}
}

type parsedException struct {
	XMLName   xml.Name
	Version   string `xml:"version,attr"`
	Exception struct {
		Code    string `xml:"code,attr"`
		Message string `xml:",chardata"`
	} `xml:"ServiceException"`
}

func parseException(t *testing.T, resp ogc.Response) parsedException {
	t.Helper()

	var exc parsedException
	require.NoError(t, xml.Unmarshal(resp.Content(), &exc), string(resp.Content()))
	require.Equal(t, "ServiceExceptionReport", exc.XMLName.Local)
	return exc
}

func getMap111(kv ...string) Call {
	base := []string{
		"SERVICE", "WMS",
		"VERSION", "1.1.1",
		"REQUEST", "GetMap",
		"LAYERS", "roads",
		"STYLES", "",
		"SRS", "EPSG:4326",
		"BBOX", "-180,-90,180,90",
		"WIDTH", "64",
		"HEIGHT", "32",
		"FORMAT", "image/png",
	}
	return call(append(base, kv...)...)
}

func getMap130(kv ...string) Call {
	base := []string{
		"SERVICE", "WMS",
		"VERSION", "1.3.0",
		"REQUEST", "GetMap",
		"LAYERS", "roads",
		"STYLES", "",
		"CRS", "EPSG:4326",
		"BBOX", "-180,-90,180,90",
		"WIDTH", "64",
		"HEIGHT", "32",
		"FORMAT", "image/png",
	}
	return call(append(base, kv...)...)
}

func TestGetMapAxisOrder(t *testing.T) {
	t.Parallel()

	svc, engine := newTestService(t)

	resp := svc.Handle(context.Background(), getMap111())
	require.Equal(t, "image/png", resp.ContentType(), string(resp.Content()))
	extent111 := engine.lastMap().Extent
	assert.Equal(t, render.NewEnvelope(-180, -90, 180, 90), extent111)

	resp = svc.Handle(context.Background(), getMap130())
	require.Equal(t, "image/png", resp.ContentType(), string(resp.Content()))
	extent130 := engine.lastMap().Extent
	assert.Equal(t, render.NewEnvelope(-90, -180, 90, 180), extent130)
	assert.NotEqual(t, extent111, extent130)

	mapinfo := getMap130()
	mapinfo.UserAgent = "MapInfo Pro 10.0"
	resp = svc.Handle(context.Background(), mapinfo)
	require.Equal(t, "image/png", resp.ContentType())
	assert.Equal(t, extent111, engine.lastMap().Extent)

	resp = svc.Handle(context.Background(), getMap130("CRS", "EPSG:3857", "BBOX", "0,0,1000,1000"))
	require.Equal(t, "image/png", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, render.NewEnvelope(0, 0, 1000, 1000), engine.lastMap().Extent)
	assert.Equal(t, "+init=epsg:3857", engine.lastMap().SRS)
}

func TestGetMap130AcceptsSRS(t *testing.T) {
	t.Parallel()

	svc, engine := newTestService(t)
	c := getMap130()
	delete(c.Params, "CRS")
	c.Params["SRS"] = "EPSG:3857"
	c.Params["BBOX"] = "0,0,10,10"

	resp := svc.Handle(context.Background(), c)
	require.Equal(t, "image/png", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "+init=epsg:3857", engine.lastMap().SRS)
}

func TestGetMapStyles(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		layers string
		styles string
		want   [][]string
		names  []string
	}{
		{
			name:   "default of multi-style layer expands the aggregate",
			layers: "water",
			styles: "default",
			want:   [][]string{{"outline", "default", "water"}},
			names:  []string{"water"},
		},
		{
			name:   "empty style uses the default",
			layers: "roads,water",
			styles: ",",
			want:   [][]string{{"roads"}, {"outline", "default", "water"}},
			names:  []string{"roads", "water"},
		},
		{
			name:   "single named style",
			layers: "water",
			styles: "outline",
			want:   [][]string{{"outline"}},
			names:  []string{"water"},
		},
		{
			name:   "all layers skips meta layers",
			layers: AllLayers,
			styles: "",
			want:   [][]string{{"roads"}, {"outline", "default", "water"}},
			names:  []string{"roads", "water"},
		},
		{
			name:   "meta layer uses its meta style",
			layers: "Main_roads:major",
			styles: "",
			want:   [][]string{{"Main_roads:major"}},
			names:  []string{"Main_roads:major"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, engine := newTestService(t)
			resp := svc.Handle(context.Background(), getMap111("LAYERS", tt.layers, "STYLES", tt.styles))
			require.Equal(t, "image/png", resp.ContentType(), string(resp.Content()))

			m := engine.lastMap()
			var names []string
			var styles [][]string
			for _, l := range m.Layers {
				names = append(names, l.Name)
				styles = append(styles, l.StyleNames)
				for _, s := range l.StyleNames {
					assert.Contains(t, m.Styles, s)
				}
			}
			assert.Equal(t, tt.names, names)
			assert.Equal(t, tt.want, styles)
		})
	}
}

func TestGetMapBackground(t *testing.T) {
	t.Parallel()

	svc, engine := newTestService(t)

	svc.Handle(context.Background(), getMap111("TRANSPARENT", "true"))
	assert.Nil(t, engine.lastMap().Background)

	svc.Handle(context.Background(), getMap111("TRANSPARENT", "TRUE", "FORMAT", "image/jpeg"))
	assert.Equal(t, &color.NRGBA{R: 255, G: 255, B: 255, A: 255}, engine.lastMap().Background)

	svc.Handle(context.Background(), getMap111("BGCOLOR", "0x112233"))
	assert.Equal(t, &color.NRGBA{R: 0x11, G: 0x22, B: 0x33, A: 255}, engine.lastMap().Background)
}

func TestGetMapErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		call Call
		code string
	}{
		{name: "unknown layer", call: getMap111("LAYERS", "nope"), code: ogc.CodeLayerNotDefined},
		{name: "unknown style", call: getMap111("STYLES", "bogus"), code: ogc.CodeStyleNotDefined},
		{name: "crs not allowed", call: getMap111("SRS", "EPSG:28992"), code: ogc.CodeInvalidCRS},
		{name: "crs namespace", call: getMap111("SRS", "CRS:84"), code: ogc.CodeInvalidCRS},
		{name: "inverted bbox", call: getMap111("BBOX", "10,0,0,10"), code: ogc.CodeInvalidParameterValue},
		{name: "short bbox", call: getMap111("BBOX", "0,0,10"), code: ogc.CodeInvalidParameterValue},
		{name: "bad format", call: getMap111("FORMAT", "image/gif"), code: ogc.CodeInvalidParameterValue},
		{name: "bad transparent", call: getMap111("TRANSPARENT", "maybe"), code: ogc.CodeInvalidParameterValue},
		{name: "missing width", call: func() Call { c := getMap111(); delete(c.Params, "WIDTH"); return c }(), code: ogc.CodeMissingParameterValue},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestService(t)
			resp := svc.Handle(context.Background(), tt.call)
			assert.Equal(t, exceptionType111, resp.ContentType())
			exc := parseException(t, resp)
			assert.Equal(t, tt.code, exc.Exception.Code)
			assert.NotEmpty(t, exc.Exception.Message)
		})
	}
}

func TestGetMap130Limits(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, func(o *Options) {
		o.Service.MaxWidth = 50
		o.Service.MaxHeight = 50
		o.Service.LayerLimit = 1
	})

	resp := svc.Handle(context.Background(), getMap130("WIDTH", "51"))
	exc := parseException(t, resp)
	assert.Equal(t, "1.3.0", exc.Version)
	assert.Contains(t, exc.Exception.Message, "exceeds limits")

	resp = svc.Handle(context.Background(), getMap130("LAYERS", "roads,water", "STYLES", ","))
	exc = parseException(t, resp)
	assert.Contains(t, exc.Exception.Message, "limit of 1")

	resp = svc.Handle(context.Background(), getMap130())
	assert.Equal(t, "image/png", resp.ContentType())

	// limits only apply to 1.3.0
	resp = svc.Handle(context.Background(), getMap111("WIDTH", "500"))
	assert.Equal(t, "image/png", resp.ContentType())
}

func TestPng8IsServedAsPng(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	resp := svc.Handle(context.Background(), getMap111("FORMAT", "image/png8"))
	assert.Equal(t, "image/png", resp.ContentType())
}

func TestNewServiceRequiresAllowedCodes(t *testing.T) {
	t.Parallel()

	opts := testOptions()
	opts.Service.AllowedEPSGCodes = nil
	_, err := NewService(testRegistry(t), canvas.New(), opts, nil)
	var cfgErr *ogc.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, err = NewService(registry.New(canvas.New()), canvas.New(), testOptions(), nil)
	assert.ErrorAs(t, err, &cfgErr)
}

func TestCompileFeatureInfoFilter(t *testing.T) {
	t.Parallel()

	code, err := CompileFeatureInfoFilter("roads", ".name")
	require.NoError(t, err)
	assert.IsType(t, &gojq.Code{}, code)

	_, err = CompileFeatureInfoFilter("roads", ".name |||")
	var cfgErr *ogc.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}
