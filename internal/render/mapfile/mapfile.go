// Package mapfile decodes Mapnik style XML map definitions into a
// render.MapDescription.
package mapfile

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

type mapXML struct {
	XMLName         xml.Name   `xml:"Map"`
	SRS             string     `xml:"srs,attr"`
	BackgroundColor string     `xml:"background-color,attr"`
	BufferSize      string     `xml:"buffer-size,attr"`
	MaximumExtent   string     `xml:"maximum-extent,attr"`
	Styles          []styleXML `xml:"Style"`
	Layers          []layerXML `xml:"Layer"`
}

type styleXML struct {
	Name  string    `xml:"name,attr"`
	Rules []ruleXML `xml:"Rule"`
}

type ruleXML struct {
	Name        string          `xml:"name,attr"`
	Filter      string          `xml:"Filter"`
	Symbolizers []symbolizerXML `xml:",any"`
}

type symbolizerXML struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
}

type layerXML struct {
	Name          string         `xml:"name,attr"`
	SRS           string         `xml:"srs,attr"`
	Queryable     string         `xml:"queryable,attr"`
	MaximumExtent string         `xml:"maximum-extent,attr"`
	StyleNames    []string       `xml:"StyleName"`
	Parameters    []parameterXML `xml:"Datasource>Parameter"`
}

type parameterXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// Load reads the map definition at path. Relative datasource files resolve
// against the directory of path.
func Load(path string) (*render.MapDescription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ogc.NewConfigurationError("could not read map file %q: %s", path, err)
	}
	return Parse(data, filepath.Dir(path))
}

// Parse decodes a map definition held in memory.
func Parse(data []byte, basePath string) (*render.MapDescription, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ogc.NewConfigurationError("map definition is empty")
	}
	var m mapXML
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, ogc.NewConfigurationError("could not parse map definition: %s", err)
	}

	desc := &render.MapDescription{
		SRS:    strings.TrimSpace(m.SRS),
		Styles: make(map[string]render.Style, len(m.Styles)),
	}
	if m.BackgroundColor != "" {
		bg, err := ogc.ParseColor(m.BackgroundColor)
		if err != nil {
			return nil, ogc.NewConfigurationError("map background-color: %s", err)
		}
		desc.Background = &bg
	}
	if m.BufferSize != "" {
		n, err := strconv.Atoi(strings.TrimSpace(m.BufferSize))
		if err != nil || n < 0 {
			return nil, ogc.NewConfigurationError("map buffer-size %q is not a non-negative integer", m.BufferSize)
		}
		desc.BufferSize = n
	}

	for _, s := range m.Styles {
		if s.Name == "" {
			return nil, ogc.NewConfigurationError("map contains a style without a name")
		}
		if _, dup := desc.Styles[s.Name]; dup {
			return nil, ogc.NewConfigurationError("map defines style %q more than once", s.Name)
		}
		desc.Styles[s.Name] = decodeStyle(s)
	}

	for _, l := range m.Layers {
		layer, err := decodeLayer(l, m, basePath)
		if err != nil {
			return nil, err
		}
		desc.Layers = append(desc.Layers, layer)
	}
	return desc, nil
}

func decodeStyle(s styleXML) render.Style {
	style := render.Style{Name: s.Name, Rules: make([]render.Rule, 0, len(s.Rules))}
	for _, r := range s.Rules {
		rule := render.Rule{Name: r.Name, Filter: strings.TrimSpace(r.Filter)}
		for _, sym := range r.Symbolizers {
			attrs := make(map[string]string, len(sym.Attrs))
			for _, a := range sym.Attrs {
				attrs[a.Name.Local] = a.Value
			}
			rule.Symbolizers = append(rule.Symbolizers, render.Symbolizer{Kind: sym.XMLName.Local, Attrs: attrs})
		}
		style.Rules = append(style.Rules, rule)
	}
	return style
}

func decodeLayer(l layerXML, m mapXML, basePath string) (render.Layer, error) {
	if l.Name == "" {
		return render.Layer{}, ogc.NewConfigurationError("map contains a layer without a name")
	}
	layer := render.Layer{
		Name:       l.Name,
		SRS:        strings.TrimSpace(l.SRS),
		Styles:     make([]string, 0, len(l.StyleNames)),
		Datasource: make(map[string]string, len(l.Parameters)),
	}
	if layer.SRS == "" {
		layer.SRS = strings.TrimSpace(m.SRS)
	}
	for _, s := range l.StyleNames {
		layer.Styles = append(layer.Styles, strings.TrimSpace(s))
	}

	if l.Queryable != "" {
		q, err := strconv.ParseBool(strings.TrimSpace(l.Queryable))
		if err != nil {
			return render.Layer{}, ogc.NewConfigurationError("layer %q: queryable %q is not a boolean", l.Name, l.Queryable)
		}
		layer.Queryable = q
	}

	extent := l.MaximumExtent
	if extent == "" {
		extent = m.MaximumExtent
	}
	if extent == "" {
		return render.Layer{}, ogc.NewConfigurationError("layer %q has no maximum-extent and the map defines none", l.Name)
	}
	env, err := parseExtent(extent)
	if err != nil {
		return render.Layer{}, ogc.NewConfigurationError("layer %q: %s", l.Name, err)
	}
	layer.Envelope = env

	for _, p := range l.Parameters {
		value := strings.TrimSpace(p.Value)
		if p.Name == "file" && value != "" && !filepath.IsAbs(value) && basePath != "" {
			value = filepath.Join(basePath, value)
		}
		layer.Datasource[p.Name] = value
	}
	return layer, nil
}

func parseExtent(s string) (render.Envelope, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return render.Envelope{}, ogc.NewConfigurationError("maximum-extent %q must have four comma separated values", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return render.Envelope{}, ogc.NewConfigurationError("maximum-extent %q: %q is not a number", s, p)
		}
		v[i] = f
	}
	return render.NewEnvelope(v[0], v[1], v[2], v[3]), nil
}
