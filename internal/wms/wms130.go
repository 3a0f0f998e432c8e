package wms

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
)

const (
	capabilitiesType130 = "text/xml"
	wmsNamespace        = "http://www.opengis.net/wms"
	wmsSchemaLocation   = "http://www.opengis.net/wms http://schemas.opengis.net/wms/1.3.0/capabilities_1_3_0.xsd"
)

var exceptionFormats130 = []string{"XML", "INIMAGE", "BLANK", "HTML"}

var operations130 = ogc.Operations{
	"GetCapabilities": {
		"format":         {Type: ogc.String, Default: "text/xml", AllowedValues: []string{"text/xml"}},
		"updatesequence": {Type: ogc.String},
	},
	"GetMap": {
		"layers":      {Required: true, Type: ogc.ListOf(ogc.String)},
		"styles":      {Required: true, Type: ogc.ListOf(ogc.String)},
		"crs":         {Type: ogc.CRSOf("EPSG")},
		"srs":         {Type: ogc.CRSOf("EPSG")},
		"bbox":        {Required: true, Type: ogc.ListOf(ogc.Float)},
		"width":       {Required: true, Type: ogc.Int},
		"height":      {Required: true, Type: ogc.Int},
		"format":      {Required: true, Type: ogc.String, AllowedValues: mapFormats},
		"transparent": {Type: ogc.String, Default: "FALSE", AllowedValues: transparentValues, CaseInsensitive: true},
		"bgcolor":     {Type: ogc.Color},
		"exceptions":  {Type: ogc.String, Default: "XML", AllowedValues: exceptionFormats130, CaseInsensitive: true},
	},
	"GetFeatureInfo": {
		"layers":        {Required: true, Type: ogc.ListOf(ogc.String)},
		"styles":        {Type: ogc.ListOf(ogc.String)},
		"crs":           {Type: ogc.CRSOf("EPSG")},
		"srs":           {Type: ogc.CRSOf("EPSG")},
		"bbox":          {Required: true, Type: ogc.ListOf(ogc.Float)},
		"width":         {Required: true, Type: ogc.Int},
		"height":        {Required: true, Type: ogc.Int},
		"format":        {Type: ogc.String, AllowedValues: []string{"image/png", "image/jpeg"}},
		"transparent":   {Type: ogc.String, Default: "FALSE", AllowedValues: transparentValues, CaseInsensitive: true},
		"bgcolor":       {Type: ogc.Color, Default: "0xFFFFFF"},
		"exceptions":    {Type: ogc.String, Default: "XML", AllowedValues: exceptionFormats130, CaseInsensitive: true},
		"query_layers":  {Required: true, Type: ogc.ListOf(ogc.String)},
		"info_format":   {Required: true, Type: ogc.String, AllowedValues: featureInfoFormats},
		"feature_count": {Type: ogc.Int, Default: 1},
		"i":             {Type: ogc.Float},
		"j":             {Type: ogc.Float},
		"x":             {Type: ogc.Float},
		"y":             {Type: ogc.Float},
	},
}

type handler130 struct {
	*base
	capabilities capabilitiesCache
}

func (h *handler130) Version() ogc.Version {
	return ogc.Version130
}

func (h *handler130) Operations() ogc.Operations {
	return operations130
}

func (h *handler130) GetCapabilities(_ context.Context, req *Request) (ogc.Response, error) {
	return h.capabilities.get(capabilitiesType130, req.OnlineResource, func() ([]byte, error) {
		return encodeDocument("", h.document())
	})
}

func (h *handler130) GetMap(ctx context.Context, req *Request) (ogc.Response, error) {
	params := shapeCRS(req.Params)
	svc := h.opts.Service
	width, _ := params.Int("width")
	height, _ := params.Int("height")
	if (svc.MaxWidth > 0 && width > svc.MaxWidth) || (svc.MaxHeight > 0 && height > svc.MaxHeight) {
		return ogc.Response{}, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "Requested map size exceeds limits set by this server.")
	}
	if svc.LayerLimit > 0 && len(params.Strings("layers")) > svc.LayerLimit {
		return ogc.Response{}, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "Number of requested layers exceeds the limit of %d set by this server.", svc.LayerLimit)
	}
	return h.getMap(ctx, params, h.extent(params, req.UserAgent))
}

func (h *handler130) GetFeatureInfo(ctx context.Context, req *Request) (ogc.Response, error) {
	params := shapeCRS(req.Params)
	if !params.Has("i") && !params.Has("j") {
		if x, ok := params["x"]; ok {
			params["i"] = x
		}
		if y, ok := params["y"]; ok {
			params["j"] = y
		}
	}
	return h.getFeatureInfo(ctx, params, h.extent(params, req.UserAgent))
}

// shapeCRS accepts SRS from clients that send 1.1.1 style parameters.
func shapeCRS(in ogc.Params) ogc.Params {
	params := in.Clone()
	if !params.Has("crs") && params.Has("srs") {
		params["crs"] = params["srs"]
	}
	return params
}

// extent swaps the bbox axes for EPSG codes in [4000, 5000), which 1.3.0
// defines as latitude first. MapInfo clients send longitude first anyway.
func (h *handler130) extent(params ogc.Params, userAgent string) func([]float64) render.Envelope {
	crs, _ := params.CRS("crs")
	if !swapsAxes(crs, userAgent) {
		return plainExtent
	}
	return func(bbox []float64) render.Envelope {
		return render.NewEnvelope(bbox[1], bbox[0], bbox[3], bbox[2])
	}
}

func swapsAxes(crs ogc.CRS, userAgent string) bool {
	if !crs.IsEPSG() || crs.Code < 4000 || crs.Code >= 5000 {
		return false
	}
	return !strings.Contains(strings.ToLower(userAgent), "mapinfo")
}

type Capabilities130 struct {
	XMLName        xml.Name      `xml:"WMS_Capabilities"`
	Version        string        `xml:"version,attr"`
	UpdateSequence string        `xml:"updateSequence,attr"`
	Xmlns          string        `xml:"xmlns,attr"`
	Xlink          string        `xml:"xmlns:xlink,attr"`
	Xsi            string        `xml:"xmlns:xsi,attr"`
	SchemaLocation string        `xml:"xsi:schemaLocation,attr"`
	Service        Service130    `xml:"Service"`
	Capability     Capability130 `xml:"Capability"`
}

type Service130 struct {
	Name              string          `xml:"Name"`
	Title             string          `xml:"Title"`
	Abstract          string          `xml:"Abstract,omitempty"`
	KeywordList       *KeywordList    `xml:"KeywordList"`
	OnlineResource    *OnlineResource `xml:"OnlineResource"`
	Fees              string          `xml:"Fees,omitempty"`
	AccessConstraints string          `xml:"AccessConstraints,omitempty"`
	LayerLimit        string          `xml:"LayerLimit,omitempty"`
	MaxWidth          string          `xml:"MaxWidth,omitempty"`
	MaxHeight         string          `xml:"MaxHeight,omitempty"`
}

type Capability130 struct {
	Request   RequestSection   `xml:"Request"`
	Exception ExceptionSection `xml:"Exception"`
	Layer     Layer130         `xml:"Layer"`
}

type Layer130 struct {
	Queryable               string                   `xml:"queryable,attr,omitempty"`
	Name                    string                   `xml:"Name"`
	Title                   string                   `xml:"Title"`
	Abstract                string                   `xml:"Abstract"`
	CRS                     []string                 `xml:"CRS"`
	EXGeographicBoundingBox *EXGeographicBoundingBox `xml:"EX_GeographicBoundingBox"`
	BoundingBox             *BoundingBox130          `xml:"BoundingBox"`
	Style                   []Style                  `xml:"Style"`
	Layer                   []Layer130               `xml:"Layer"`
}

type EXGeographicBoundingBox struct {
	WestBoundLongitude string `xml:"westBoundLongitude"`
	EastBoundLongitude string `xml:"eastBoundLongitude"`
	SouthBoundLatitude string `xml:"southBoundLatitude"`
	NorthBoundLatitude string `xml:"northBoundLatitude"`
}

type BoundingBox130 struct {
	CRS string `xml:"CRS,attr"`
	*Bounds
}

func geographicBox(e render.Envelope) *EXGeographicBoundingBox {
	return &EXGeographicBoundingBox{
		WestBoundLongitude: formatFloat(e.MinX),
		EastBoundLongitude: formatFloat(e.MaxX),
		SouthBoundLatitude: formatFloat(e.MinY),
		NorthBoundLatitude: formatFloat(e.MaxY),
	}
}

func limit(n int) string {
	if n <= 0 {
		return ""
	}
	return strconv.Itoa(n)
}

func (h *handler130) document() Capabilities130 {
	svc := h.opts.Service
	root := h.root()

	doc := Capabilities130{
		Version:        "1.3.0",
		UpdateSequence: "0",
		Xmlns:          wmsNamespace,
		Xlink:          xlinkNamespace,
		Xsi:            xsiNamespace,
		SchemaLocation: wmsSchemaLocation,
		Service: Service130{
			Name:              "WMS",
			Title:             h.serviceTitle(),
			Abstract:          svc.Abstract,
			KeywordList:       keywords(svc.Keywords),
			OnlineResource:    simpleLink(h.serviceOnlineResource()),
			Fees:              svc.Fees,
			AccessConstraints: svc.AccessConstraints,
			LayerLimit:        limit(svc.LayerLimit),
			MaxWidth:          limit(svc.MaxWidth),
			MaxHeight:         limit(svc.MaxHeight),
		},
		Capability: Capability130{
			Request:   operations(onlineResourcePlaceholder, capabilitiesType130),
			Exception: ExceptionSection{Format: exceptionFormats130},
			Layer: Layer130{
				Name:     root.Name,
				Title:    root.Title,
				Abstract: root.Abstract,
				CRS:      h.crsList(),
			},
		},
	}
	if bbox, ok := h.registry.LatLonBBox(); ok {
		doc.Capability.Layer.EXGeographicBoundingBox = geographicBox(bbox)
	}

	for _, l := range h.registry.Layers() {
		child := Layer130{
			Name:                    l.Name,
			Title:                   layerTitle(l),
			Abstract:                layerAbstract(l),
			EXGeographicBoundingBox: geographicBox(l.Geographic),
			BoundingBox: &BoundingBox130{
				CRS:    l.AdvertisedSRS(),
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
