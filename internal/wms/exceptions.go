package wms

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html/template"
	"image/color"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/render"
	"github.com/delta10/wms-server/internal/utils"
)

const (
	exceptionType111 = "application/vnd.ogc.se_xml"
	exceptionType130 = "text/xml"
	exceptionDTD111  = `<!DOCTYPE ServiceExceptionReport SYSTEM "http://schemas.opengis.net/wms/1.1.1/exception_1_1_1.dtd">` + "\n"
	ogcNamespace     = "http://www.opengis.net/ogc"
	exceptionSchema  = "http://www.opengis.net/ogc http://schemas.opengis.net/wms/1.3.0/exceptions_1_3_0.xsd"
)

// DefaultHome is used for the welcome page and HTML exceptions when no home
// template is configured.
var DefaultHome = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
{{- if .Error}}
<h2>{{.Title}} Error</h2>
<pre>{{.Message}}</pre>
{{- if .Code}}
<p>Code: {{.Code}}</p>
{{- end}}
{{- else}}
<h2>{{.Title}}</h2>
<p>This is a WMS endpoint. Start with <a href="?SERVICE=WMS&amp;REQUEST=GetCapabilities">GetCapabilities</a>.</p>
{{- end}}
</body>
</html>
`))

// HomeData is passed to the home template.
type HomeData struct {
	Title   string
	Error   bool
	Message string
	Code    string
}

type exceptionFormat int

const (
	formatXML exceptionFormat = iota
	formatInImage
	formatBlank
	formatHTML
)

// exceptionFormatFor maps the exceptions parameter of version to a format.
// Unknown values select XML.
func exceptionFormatFor(version ogc.Version, raw string) exceptionFormat {
	if version.AtLeast(ogc.Version130) {
		switch strings.ToUpper(raw) {
		case "INIMAGE":
			return formatInImage
		case "BLANK":
			return formatBlank
		case "HTML":
			return formatHTML
		}
		return formatXML
	}
	switch strings.ToLower(raw) {
	case "application/vnd.ogc.se_inimage":
		return formatInImage
	case "application/vnd.ogc.se_blank":
		return formatBlank
	case "text/html":
		return formatHTML
	}
	return formatXML
}

type serviceException struct {
	Code    string `xml:"code,attr,omitempty"`
	Message string `xml:",chardata"`
}

type exceptionReport111 struct {
	XMLName   xml.Name         `xml:"ServiceExceptionReport"`
	Version   string           `xml:"version,attr"`
	Exception serviceException `xml:"ServiceException"`
}

type exceptionReport130 struct {
	XMLName        xml.Name         `xml:"ServiceExceptionReport"`
	Version        string           `xml:"version,attr"`
	Xmlns          string           `xml:"xmlns,attr"`
	Xsi            string           `xml:"xmlns:xsi,attr"`
	SchemaLocation string           `xml:"xsi:schemaLocation,attr"`
	Exception      serviceException `xml:"ServiceException"`
}

// exceptionReporter turns request failures into exception documents. It never
// fails: every branch falls back to the XML report.
type exceptionReporter struct {
	engine render.Engine
	home   *template.Template
	title  string
	debug  bool
	logger *zap.Logger
}

func (r *exceptionReporter) report(raw map[string]string, err error) ogc.Response {
	version, verr := ogc.ParseVersion(raw["version"])
	if verr != nil {
		version = ogc.Version111
	}
	message, code := describe(err, r.debug)

	if r.debug {
		return r.html(fmt.Sprintf("%s\n\n%T: %v", message, err, err), code)
	}

	switch exceptionFormatFor(version, raw["exceptions"]) {
	case formatInImage:
		if resp, ok := r.image(raw, message, false); ok {
			return resp
		}
	case formatBlank:
		if resp, ok := r.image(raw, message, true); ok {
			return resp
		}
	case formatHTML:
		return r.html(message, code)
	}
	return xmlReport(version, message, code)
}

// describe extracts the client facing message and exception code.
func describe(err error, debug bool) (string, string) {
	var pe *ogc.ProtocolError
	if errors.As(err, &pe) {
		return pe.Message, pe.Code
	}
	var re *ogc.RenderError
	if errors.As(err, &re) || debug {
		return err.Error(), ""
	}
	return "An internal error occurred while processing the request.", ""
}

func xmlReport(version ogc.Version, message, code string) ogc.Response {
	exc := serviceException{Code: code, Message: message}
	if version.AtLeast(ogc.Version130) {
		doc := exceptionReport130{
			Version:        "1.3.0",
			Xmlns:          ogcNamespace,
			Xsi:            xsiNamespace,
			SchemaLocation: exceptionSchema,
			Exception:      exc,
		}
		data, err := encodeDocument("", doc)
		if err != nil {
			data = []byte(xml.Header + `<ServiceExceptionReport version="1.3.0" xmlns="` + ogcNamespace + `"><ServiceException/></ServiceExceptionReport>`)
		}
		return ogc.NewResponse(exceptionType130, data)
	}

	doc := exceptionReport111{Version: "1.1.1", Exception: exc}
	data, err := encodeDocument(exceptionDTD111, doc)
	if err != nil {
		data = []byte(xml.Header + `<ServiceExceptionReport version="1.1.1"><ServiceException/></ServiceExceptionReport>`)
	}
	return ogc.NewResponse(exceptionType111, data)
}

// image renders the in-image or blank exception. It reports false when the
// image parameters cannot be recovered from raw or the engine fails.
func (r *exceptionReporter) image(raw map[string]string, message string, blank bool) (ogc.Response, bool) {
	if r.engine == nil {
		return ogc.Response{}, false
	}
	width, werr := strconv.Atoi(strings.TrimSpace(raw["width"]))
	height, herr := strconv.Atoi(strings.TrimSpace(raw["height"]))
	format := raw["format"]
	if werr != nil || herr != nil || width <= 0 || height <= 0 || !utils.StringInSlice(format, mapFormats) {
		return ogc.Response{}, false
	}

	bg := &color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	if c, err := ogc.ParseColor(raw["bgcolor"]); err == nil && raw["bgcolor"] != "" {
		bg = &c
	}

	var (
		data []byte
		err  error
	)
	if blank {
		if isTrue(raw["transparent"]) && format != "image/jpeg" {
			bg = nil
		}
		data, err = r.engine.Blank(width, height, format, bg)
	} else {
		data, err = r.engine.Message(width, height, format, bg, message)
	}
	if err != nil {
		r.logger.Warn("could not render exception image", zap.Error(err))
		return ogc.Response{}, false
	}
	return ogc.NewResponse(render.ContentType(format), data), true
}

func (r *exceptionReporter) html(message, code string) ogc.Response {
	page, err := renderHome(r.home, HomeData{Title: r.title, Error: true, Message: message, Code: code})
	if err != nil {
		r.logger.Warn("could not render home template", zap.Error(err))
		page, _ = renderHome(DefaultHome, HomeData{Title: r.title, Error: true, Message: message, Code: code})
	}
	return ogc.NewResponse("text/html", page)
}

func renderHome(tmpl *template.Template, data HomeData) ([]byte, error) {
	if tmpl == nil {
		tmpl = DefaultHome
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
