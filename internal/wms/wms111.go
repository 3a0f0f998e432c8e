package wms

import (
	"context"
	"encoding/xml"

	"github.com/delta10/wms-server/internal/ogc"
)

const (
	capabilitiesType111 = "application/vnd.ogc.wms_xml"
	capabilitiesDTD111  = `<!DOCTYPE WMT_MS_Capabilities SYSTEM "http://schemas.opengis.net/wms/1.1.1/WMS_MS_Capabilities.dtd">` + "\n"
)

var (
	transparentValues   = []string{"TRUE", "FALSE"}
	exceptionFormats111 = []string{
		"application/vnd.ogc.se_xml",
		"application/vnd.ogc.se_inimage",
		"application/vnd.ogc.se_blank",
		"text/html",
	}
)

var operations111 = ogc.Operations{
	"GetCapabilities": {
		"updatesequence": {Type: ogc.String},
	},
	"GetMap": {
		"layers":      {Required: true, Type: ogc.ListOf(ogc.String)},
		"styles":      {Required: true, Type: ogc.ListOf(ogc.String)},
		"srs":         {Required: true, Type: ogc.CRSOf("EPSG")},
		"bbox":        {Required: true, Type: ogc.ListOf(ogc.Float)},
		"width":       {Required: true, Type: ogc.Int},
		"height":      {Required: true, Type: ogc.Int},
		"format":      {Required: true, Type: ogc.String, AllowedValues: mapFormats},
		"transparent": {Type: ogc.String, Default: "FALSE", AllowedValues: transparentValues, CaseInsensitive: true},
		"bgcolor":     {Type: ogc.Color},
		"exceptions":  {Type: ogc.String, Default: "application/vnd.ogc.se_xml", AllowedValues: exceptionFormats111, CaseInsensitive: true},
	},
	"GetFeatureInfo": {
		"layers":        {Required: true, Type: ogc.ListOf(ogc.String)},
		"styles":        {Type: ogc.ListOf(ogc.String)},
		"srs":           {Required: true, Type: ogc.CRSOf("EPSG")},
		"bbox":          {Required: true, Type: ogc.ListOf(ogc.Float)},
		"width":         {Required: true, Type: ogc.Int},
		"height":        {Required: true, Type: ogc.Int},
		"format":        {Type: ogc.String, AllowedValues: []string{"image/png", "image/jpeg"}},
		"transparent":   {Type: ogc.String, Default: "FALSE", AllowedValues: transparentValues, CaseInsensitive: true},
		"bgcolor":       {Type: ogc.Color, Default: "0xFFFFFF"},
		"exceptions":    {Type: ogc.String, Default: "application/vnd.ogc.se_xml", AllowedValues: exceptionFormats111, CaseInsensitive: true},
		"query_layers":  {Required: true, Type: ogc.ListOf(ogc.String)},
		"info_format":   {Required: true, Type: ogc.String, AllowedValues: featureInfoFormats},
		"feature_count": {Type: ogc.Int, Default: 1},
		"x":             {Required: true, Type: ogc.Int},
		"y":             {Required: true, Type: ogc.Int},
	},
}

type handler111 struct {
	*base
	capabilities capabilitiesCache
}

func (h *handler111) Version() ogc.Version {
	return ogc.Version111
}

func (h *handler111) Operations() ogc.Operations {
	return operations111
}

func (h *handler111) GetCapabilities(_ context.Context, req *Request) (ogc.Response, error) {
	return h.capabilities.get(capabilitiesType111, req.OnlineResource, func() ([]byte, error) {
		return encodeDocument(capabilitiesDTD111, h.document())
	})
}

func (h *handler111) GetMap(ctx context.Context, req *Request) (ogc.Response, error) {
	params := req.Params.Clone()
	params["crs"] = params["srs"]
	return h.getMap(ctx, params, plainExtent)
}

func (h *handler111) GetFeatureInfo(ctx context.Context, req *Request) (ogc.Response, error) {
	params := req.Params.Clone()
	params["crs"] = params["srs"]
	params["i"] = params["x"]
	params["j"] = params["y"]
	return h.getFeatureInfo(ctx, params, plainExtent)
}

type Capabilities111 struct {
	XMLName        xml.Name      `xml:"WMT_MS_Capabilities"`
	Version        string        `xml:"version,attr"`
	UpdateSequence string        `xml:"updateSequence,attr"`
	Xlink          string        `xml:"xmlns:xlink,attr"`
	Service        Service111    `xml:"Service"`
	Capability     Capability111 `xml:"Capability"`
}

type Service111 struct {
	Name              string          `xml:"Name"`
	Title             string          `xml:"Title"`
	Abstract          string          `xml:"Abstract,omitempty"`
	KeywordList       *KeywordList    `xml:"KeywordList"`
	OnlineResource    *OnlineResource `xml:"OnlineResource"`
	Fees              string          `xml:"Fees,omitempty"`
	AccessConstraints string          `xml:"AccessConstraints,omitempty"`
}

type Capability111 struct {
	Request   RequestSection   `xml:"Request"`
	Exception ExceptionSection `xml:"Exception"`
	Layer     Layer111         `xml:"Layer"`
}

type Layer111 struct {
	Queryable         string          `xml:"queryable,attr,omitempty"`
	Name              string          `xml:"Name"`
	Title             string          `xml:"Title"`
	Abstract          string          `xml:"Abstract"`
	SRS               []string        `xml:"SRS"`
	LatLonBoundingBox *Bounds         `xml:"LatLonBoundingBox"`
	BoundingBox       *BoundingBox111 `xml:"BoundingBox"`
	Style             []Style         `xml:"Style"`
	Layer             []Layer111      `xml:"Layer"`
}

type BoundingBox111 struct {
	SRS string `xml:"SRS,attr"`
	*Bounds
}

func (h *handler111) document() Capabilities111 {
	svc := h.opts.Service
	root := h.root()

	doc := Capabilities111{
		Version:        "1.1.1",
		UpdateSequence: "0",
		Xlink:          xlinkNamespace,
		Service: Service111{
			Name:              "OGC:WMS",
			Title:             h.serviceTitle(),
			Abstract:          svc.Abstract,
			KeywordList:       keywords(svc.Keywords),
			OnlineResource:    simpleLink(h.serviceOnlineResource()),
			Fees:              svc.Fees,
			AccessConstraints: svc.AccessConstraints,
		},
		Capability: Capability111{
			Request:   operations(onlineResourcePlaceholder, capabilitiesType111),
			Exception: ExceptionSection{Format: exceptionFormats111},
			Layer: Layer111{
				Name:     root.Name,
				Title:    root.Title,
				Abstract: root.Abstract,
				SRS:      h.crsList(),
			},
		},
	}
	if bbox, ok := h.registry.LatLonBBox(); ok {
		doc.Capability.Layer.LatLonBoundingBox = newBounds(bbox)
	}

	for _, l := range h.registry.Layers() {
		child := Layer111{
			Name:              l.Name,
			Title:             layerTitle(l),
			Abstract:          layerAbstract(l),
			LatLonBoundingBox: newBounds(l.Geographic),
			BoundingBox: &BoundingBox111{
				SRS:    l.AdvertisedSRS(),
				Bounds: newBounds(l.Envelope),
			},
			Style: layerStyles(l),
		}
		if l.Queryable {
			child.Queryable = "1"
		}
		doc.Capability.Layer.Layer = append(doc.Capability.Layer.Layer, child)
	}
	return doc
}
