package wms

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

// layerFeatures is the query result of one layer.
type layerFeatures struct {
	Name     string
	Features []render.Feature
}

func (b *base) getFeatureInfo(ctx context.Context, params ogc.Params, extent func([]float64) render.Envelope) (ogc.Response, error) {
	m, err := b.buildMap(params, extent)
	if err != nil {
		return ogc.Response{}, err
	}

	i, iok := params.Float("i")
	j, jok := params.Float("j")
	if !iok || !jok {
		return ogc.Response{}, ogc.NewCodedError(ogc.CodeMissingParameterValue, "Mandatory parameters \"i\" and \"j\" missing from request.")
	}

	indexes, err := queryIndexes(m, params.Strings("query_layers"))
	if err != nil {
		return ogc.Response{}, err
	}

	featureCount, ok := params.Int("feature_count")
	if !ok || featureCount < 1 {
		featureCount = 1
	}

	results := make([]layerFeatures, 0, len(indexes))
	for _, idx := range indexes {
		features, err := b.engine.QueryPoint(ctx, m, idx, i, j)
		if err != nil {
			return ogc.Response{}, renderFailure(err)
		}
		name := m.Layers[idx].Name
		features, err = b.filterFeatures(ctx, name, features)
		if err != nil {
			return ogc.Response{}, err
		}
		if len(features) > featureCount {
			features = features[:featureCount]
		}
		results = append(results, layerFeatures{Name: name, Features: features})
	}

	switch format := params.String("info_format"); format {
	case "text/xml":
		return writeFeatureInfoXML(results)
	default:
		return writeFeatureInfoText(results), nil
	}
}

// queryIndexes resolves QUERY_LAYERS against the layers of m.
func queryIndexes(m *render.Map, queryLayers []string) ([]int, error) {
	if len(queryLayers) == 1 && queryLayers[0] == AllLayers {
		var out []int
		for idx, l := range m.Layers {
			if l.Queryable {
				out = append(out, idx)
			}
		}
		return out, nil
	}

	out := make([]int, 0, len(queryLayers))
	for _, name := range queryLayers {
		idx := -1
		for k, l := range m.Layers {
			if l.Name == name {
				idx = k
				break
			}
		}
		if idx < 0 {
			return nil, ogc.NewCodedError(ogc.CodeLayerNotQueryable, "Layer %q not part of the LAYERS parameter.", name)
		}
		if !m.Layers[idx].Queryable {
			return nil, ogc.NewCodedError(ogc.CodeLayerNotQueryable, "Requested query layer %q is not queryable.", name)
		}
		out = append(out, idx)
	}
	return out, nil
}

// filterFeatures runs the layer's jq program over every feature. Each object
// the program emits becomes a feature, null drops it.
func (b *base) filterFeatures(ctx context.Context, layer string, features []render.Feature) ([]render.Feature, error) {
	code, ok := b.opts.FeatureInfoFilters[layer]
	if !ok || code == nil {
		return features, nil
	}

	out := make([]render.Feature, 0, len(features))
	for _, f := range features {
		iter := code.RunWithContext(ctx, featureObject(f))
		for {
			v, ok := iter.Next()
			if !ok {
				break
			}
			if err, ok := v.(error); ok {
				return nil, fmt.Errorf("featureInfoFilter of layer %q failed: %w", layer, err)
			}
			switch obj := v.(type) {
			case nil:
			case map[string]any:
				out = append(out, objectFeature(f, obj))
			default:
				return nil, fmt.Errorf("featureInfoFilter of layer %q must produce objects, got %T", layer, v)
			}
		}
	}
	return out, nil
}

func featureObject(f render.Feature) map[string]any {
	obj := make(map[string]any, len(f.Properties))
	for _, p := range f.Properties {
		obj[p.Name] = normalize(p.Value)
	}
	return obj
}

// normalize converts values into the types gojq accepts.
func normalize(v any) any {
	switch t := v.(type) {
	case nil, bool, string, float64, int, []any, map[string]any:
		return t
	case int8:
		return int(t)
	case int16:
		return int(t)
	case int32:
		return int(t)
	case int64:
		return int(t)
	case uint8:
		return int(t)
	case uint16:
		return int(t)
	case uint32:
		return int(t)
	case float32:
		return float64(t)
	}
	return fmt.Sprint(v)
}

// objectFeature keeps the attribute order of the source feature and appends
// attributes introduced by the filter in name order.
func objectFeature(src render.Feature, obj map[string]any) render.Feature {
	var f render.Feature
	seen := make(map[string]struct{}, len(obj))
	for _, p := range src.Properties {
		if v, ok := obj[p.Name]; ok {
			f.Properties = append(f.Properties, render.Property{Name: p.Name, Value: v})
			seen[p.Name] = struct{}{}
		}
	}
	var added []string
	for k := range obj {
		if _, ok := seen[k]; !ok {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	for _, k := range added {
		f.Properties = append(f.Properties, render.Property{Name: k, Value: obj[k]})
	}
	return f
}

func writeFeatureInfoText(results []layerFeatures) ogc.Response {
	var buf bytes.Buffer
	for _, r := range results {
		fmt.Fprintf(&buf, "\n[%s]\n", r.Name)
		for _, f := range r.Features {
			for _, p := range f.Properties {
				fmt.Fprintf(&buf, "%s=%s\n", p.Name, valueString(p.Value))
			}
		}
	}
	return ogc.NewResponse("text/plain", buf.Bytes())
}

type featureInfoDocument struct {
	XMLName xml.Name           `xml:"FeatureInfoResponse"`
	Layers  []featureInfoLayer `xml:"Layer"`
}

type featureInfoLayer struct {
	Name     string               `xml:"name,attr"`
	Features []featureInfoFeature `xml:"Feature"`
}

type featureInfoFeature struct {
	Attributes []featureInfoAttribute `xml:"Attribute"`
}

type featureInfoAttribute struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func writeFeatureInfoXML(results []layerFeatures) (ogc.Response, error) {
	doc := featureInfoDocument{Layers: make([]featureInfoLayer, 0, len(results))}
	for _, r := range results {
		layer := featureInfoLayer{Name: r.Name}
		for _, f := range r.Features {
			var feature featureInfoFeature
			for _, p := range f.Properties {
				feature.Attributes = append(feature.Attributes, featureInfoAttribute{Name: p.Name, Value: valueString(p.Value)})
			}
			layer.Features = append(layer.Features, feature)
		}
		doc.Layers = append(doc.Layers, layer)
	}
	data, err := encodeDocument("", doc)
	if err != nil {
		return ogc.Response{}, err
	}
	return ogc.NewResponse("text/xml", data), nil
}

func valueString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return formatFloat(t)
	}
	return fmt.Sprint(v)
}
