package wms

import (
	"context"
	"encoding/xml"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

func getFeatureInfo111(kv ...string) Call {
	base := []string{
		"SERVICE", "WMS",
		"VERSION", "1.1.1",
		"REQUEST", "GetFeatureInfo",
		"LAYERS", "roads,water",
		"STYLES", ",",
		"SRS", "EPSG:4326",
		"BBOX", "4,51,6,53",
		"WIDTH", "100",
		"HEIGHT", "100",
		"QUERY_LAYERS", "roads",
		"INFO_FORMAT", "text/plain",
		"X", "50",
		"Y", "50",
	}
	return call(append(base, kv...)...)
}

func getFeatureInfo130(kv ...string) Call {
	base := []string{
		"SERVICE", "WMS",
		"VERSION", "1.3.0",
		"REQUEST", "GetFeatureInfo",
		"LAYERS", "roads,water",
		"STYLES", ",",
		"CRS", "EPSG:4326",
		"BBOX", "51,4,53,6",
		"WIDTH", "100",
		"HEIGHT", "100",
		"QUERY_LAYERS", "roads",
		"INFO_FORMAT", "text/plain",
	}
	return call(append(base, kv...)...)
}

func TestGetFeatureInfoText(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	resp := svc.Handle(context.Background(), getFeatureInfo111())
	require.Equal(t, "text/plain", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "\n[roads]\nlanes=2\nname=A1\n", string(resp.Content()))
}

func TestGetFeatureInfoMiss(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	resp := svc.Handle(context.Background(), getFeatureInfo111("BBOX", "10,10,20,20"))
	require.Equal(t, "text/plain", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "\n[roads]\n", string(resp.Content()))
}

func TestGetFeatureInfo130(t *testing.T) {
	t.Parallel()

	svc, engine := newTestService(t)

	resp := svc.Handle(context.Background(), getFeatureInfo130("I", "50", "J", "50"))
	require.Equal(t, "text/plain", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "\n[roads]\nlanes=2\nname=A1\n", string(resp.Content()))

	// X and Y are accepted when I and J are absent.
	resp = svc.Handle(context.Background(), getFeatureInfo130("X", "50", "Y", "50"))
	require.Equal(t, "text/plain", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "\n[roads]\nlanes=2\nname=A1\n", string(resp.Content()))

	resp = svc.Handle(context.Background(), getFeatureInfo130())
	exc := parseException(t, resp)
	assert.Equal(t, ogc.CodeMissingParameterValue, exc.Exception.Code)

	// nothing is rendered for feature info
	assert.Nil(t, engine.lastMap())
}

func TestGetFeatureInfoXML(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	resp := svc.Handle(context.Background(), getFeatureInfo111("INFO_FORMAT", "text/xml"))
	require.Equal(t, "text/xml", resp.ContentType(), string(resp.Content()))

	var doc featureInfoDocument
	require.NoError(t, xml.Unmarshal(resp.Content(), &doc))
	require.Len(t, doc.Layers, 1)
	assert.Equal(t, "roads", doc.Layers[0].Name)
	require.Len(t, doc.Layers[0].Features, 1)
	assert.Equal(t, []featureInfoAttribute{
		{Name: "lanes", Value: "2"},
		{Name: "name", Value: "A1"},
	}, doc.Layers[0].Features[0].Attributes)
}

func TestGetFeatureInfoFilter(t *testing.T) {
	t.Parallel()

	code, err := CompileFeatureInfoFilter("roads", `{name: .name, label: ("Road " + .name)}`)
	require.NoError(t, err)

	svc, _ := newTestService(t, func(o *Options) {
		o.FeatureInfoFilters = map[string]*gojq.Code{"roads": code}
	})
	resp := svc.Handle(context.Background(), getFeatureInfo111())
	require.Equal(t, "text/plain", resp.ContentType(), string(resp.Content()))
	assert.Equal(t, "\n[roads]\nname=A1\nlabel=Road A1\n", string(resp.Content()))
}

func TestGetFeatureInfoFilterDrops(t *testing.T) {
	t.Parallel()

	code, err := CompileFeatureInfoFilter("roads", `if .lanes == "2" then null else . end`)
	require.NoError(t, err)

	svc, _ := newTestService(t, func(o *Options) {
		o.FeatureInfoFilters = map[string]*gojq.Code{"roads": code}
	})
	resp := svc.Handle(context.Background(), getFeatureInfo111())
	assert.Equal(t, "\n[roads]\n", string(resp.Content()))
}

func TestGetFeatureInfoQueryLayers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		call Call
		code string
		want string
	}{
		{
			name: "query layer not in layers",
			call: getFeatureInfo111("LAYERS", "water", "STYLES", ""),
			code: ogc.CodeLayerNotQueryable,
		},
		{
			name: "query layer not queryable",
			call: getFeatureInfo111("QUERY_LAYERS", "water"),
			code: ogc.CodeLayerNotQueryable,
		},
		{
			name: "all queryable layers",
			call: getFeatureInfo111("LAYERS", AllLayers, "STYLES", "", "QUERY_LAYERS", AllLayers),
			want: "\n[roads]\nlanes=2\nname=A1\n",
		},
		{
			name: "unknown info format",
			call: getFeatureInfo111("INFO_FORMAT", "application/json"),
			code: ogc.CodeInvalidParameterValue,
		},
		{
			name: "x must be an integer in 1.1.1",
			call: getFeatureInfo111("X", "1.5"),
			code: ogc.CodeInvalidParameterValue,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _ := newTestService(t)
			resp := svc.Handle(context.Background(), tt.call)
			if tt.code != "" {
				exc := parseException(t, resp)
				assert.Equal(t, tt.code, exc.Exception.Code)
				return
			}
			assert.Equal(t, tt.want, string(resp.Content()))
		})
	}
}

func TestFeatureInfoTextValues(t *testing.T) {
	t.Parallel()

	features := []render.Feature{
		{Properties: []render.Property{{Name: "id", Value: 1}}},
		{Properties: []render.Property{{Name: "id", Value: 2.5}}},
		{Properties: []render.Property{{Name: "id", Value: nil}}},
	}
	resp := writeFeatureInfoText([]layerFeatures{{Name: "l", Features: features}})
	assert.Equal(t, "\n[l]\nid=1\nid=2.5\nid=\n", string(resp.Content()))
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 3, normalize(int64(3)))
	assert.Equal(t, float64(1.5), normalize(float32(1.5)))
	assert.Equal(t, "x", normalize("x"))
	assert.Equal(t, "[1 2]", normalize([]int{1, 2}))
}
