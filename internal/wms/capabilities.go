package wms

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"sync"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
)

const (
	xlinkNamespace = "http://www.w3.org/1999/xlink"
	xsiNamespace   = "http://www.w3.org/2001/XMLSchema-instance"

	// onlineResourcePlaceholder stands in for the request's online resource in
	// cached capabilities documents. It contains no characters XML escapes.
	onlineResourcePlaceholder = "urn:delta10:wms-server:online-resource"
)

var (
	mapFormats         = []string{"image/png", "image/png8", "image/jpeg"}
	featureInfoFormats = []string{"text/plain", "text/xml"}
)

type OnlineResource struct {
	Type string `xml:"xlink:type,attr"`
	Href string `xml:"xlink:href,attr"`
}

func simpleLink(href string) *OnlineResource {
	return &OnlineResource{Type: "simple", Href: href}
}

type KeywordList struct {
	Keyword []string `xml:"Keyword"`
}

type HTTPGet struct {
	OnlineResource *OnlineResource `xml:"HTTP>Get>OnlineResource"`
}

type Operation struct {
	Format  []string `xml:"Format"`
	DCPType HTTPGet  `xml:"DCPType"`
}

type RequestSection struct {
	GetCapabilities Operation `xml:"GetCapabilities"`
	GetMap          Operation `xml:"GetMap"`
	GetFeatureInfo  Operation `xml:"GetFeatureInfo"`
}

type ExceptionSection struct {
	Format []string `xml:"Format"`
}

type Style struct {
	Name     string `xml:"Name"`
	Title    string `xml:"Title"`
	Abstract string `xml:"Abstract,omitempty"`
}

func keywords(list []string) *KeywordList {
	if len(list) == 0 {
		return nil
	}
	return &KeywordList{Keyword: list}
}

func operations(onlineResource, capabilitiesFormat string) RequestSection {
	get := HTTPGet{OnlineResource: simpleLink(onlineResource)}
	return RequestSection{
		GetCapabilities: Operation{Format: []string{capabilitiesFormat}, DCPType: get},
		GetMap:          Operation{Format: mapFormats, DCPType: get},
		GetFeatureInfo:  Operation{Format: featureInfoFormats, DCPType: get},
	}
}

// layerTitle falls back to the layer name.
func layerTitle(l registry.Layer) string {
	if l.Title == "" {
		return l.Name
	}
	return l.Title
}

func layerAbstract(l registry.Layer) string {
	if l.Abstract == "" {
		return noAbstract
	}
	return l.Abstract
}

// layerStyles lists the advertised styles. With more than one style the
// combined "default" style comes first.
func layerStyles(l registry.Layer) []Style {
	names := l.ExtraStyles
	multi := len(names) > 1
	if multi {
		ordered := []string{registry.DefaultStyleName}
		for _, n := range names {
			if n != registry.DefaultStyleName {
				ordered = append(ordered, n)
			}
		}
		names = ordered
	}

	styles := make([]Style, 0, len(names))
	for _, n := range names {
		s := Style{Name: n, Title: n}
		if multi && n == registry.DefaultStyleName {
			s.Abstract = defaultStyleText
		}
		styles = append(styles, s)
	}
	return styles
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

type Bounds struct {
	MinX string `xml:"minx,attr"`
	MinY string `xml:"miny,attr"`
	MaxX string `xml:"maxx,attr"`
	MaxY string `xml:"maxy,attr"`
}

func newBounds(e render.Envelope) *Bounds {
	return &Bounds{
		MinX: formatFloat(e.MinX),
		MinY: formatFloat(e.MinY),
		MaxX: formatFloat(e.MaxX),
		MaxY: formatFloat(e.MaxY),
	}
}

// capabilitiesCache builds a document once per handler. The document holds
// onlineResourcePlaceholder wherever the service URL goes, which get replaces
// with the escaped online resource of each request.
type capabilitiesCache struct {
	once     sync.Once
	document []byte
	err      error
}

func (c *capabilitiesCache) get(contentType, onlineResource string, build func() ([]byte, error)) (ogc.Response, error) {
	c.once.Do(func() {
		c.document, c.err = build()
	})
	if c.err != nil {
		return ogc.Response{}, c.err
	}

	var escaped bytes.Buffer
	if err := xml.EscapeText(&escaped, []byte(onlineResource)); err != nil {
		return ogc.Response{}, err
	}
	return ogc.NewResponse(contentType, bytes.ReplaceAll(c.document, []byte(onlineResourcePlaceholder), escaped.Bytes())), nil
}

func encodeDocument(prolog string, v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString(prolog)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
