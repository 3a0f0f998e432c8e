package wms

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
)

// Call is one incoming request as seen by the transport.
type Call struct {
	// Params holds the query parameters, first value per key.
	Params         map[string]string
	UserAgent      string
	OnlineResource string
}

// Service routes calls to the handler of the requested version and converts
// every failure into an exception document.
type Service struct {
	opts       Options
	logger     *zap.Logger
	exceptions *exceptionReporter

	v111 ServiceHandler
	v130 ServiceHandler
}

// NewService checks opts against reg. reg must be finalized.
func NewService(reg *registry.Registry, engine render.Engine, opts Options, logger *zap.Logger) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	v111, err := NewServiceHandler(ogc.Version111, reg, engine, opts, logger)
	if err != nil {
		return nil, err
	}
	v130, err := NewServiceHandler(ogc.Version130, reg, engine, opts, logger)
	if err != nil {
		return nil, err
	}
	title := opts.Service.Title
	if title == "" {
		title = defaultRootTitle
	}
	return &Service{
		opts:   opts,
		logger: logger,
		exceptions: &exceptionReporter{
			engine: engine,
			home:   opts.Home,
			title:  title,
			debug:  opts.Debug,
			logger: logger,
		},
		v111: v111,
		v130: v130,
	}, nil
}

// Handler returns the handler for version. The same two handlers, and with
// them the cached capabilities, serve every call.
func (s *Service) Handler(version ogc.Version) ServiceHandler {
	if version.AtLeast(ogc.Version130) {
		return s.v130
	}
	return s.v111
}

// Welcome is returned for calls without parameters.
func (s *Service) Welcome() ogc.Response {
	page, err := renderHome(s.opts.Home, HomeData{Title: s.exceptions.title})
	if err != nil {
		s.logger.Warn("could not render home template", zap.Error(err))
		page, _ = renderHome(DefaultHome, HomeData{Title: s.exceptions.title})
	}
	return ogc.NewResponse("text/html", page)
}

// Handle answers call. It always returns a complete response; failures become
// exception documents in the format the client asked for.
func (s *Service) Handle(ctx context.Context, call Call) ogc.Response {
	raw := ogc.LowerKeys(call.Params)
	if len(raw) == 0 {
		return s.Welcome()
	}

	resp, err := s.dispatch(ctx, raw, call)
	if err == nil {
		return resp
	}

	var pe *ogc.ProtocolError
	if errors.As(err, &pe) {
		s.logger.Info("request rejected", zap.String("request", raw["request"]), zap.String("code", pe.Code), zap.Error(err))
	} else {
		s.logger.Error("request failed", zap.String("request", raw["request"]), zap.Error(err))
	}
	return s.exceptions.report(raw, err)
}

func (s *Service) dispatch(ctx context.Context, raw map[string]string, call Call) (ogc.Response, error) {
	request, ok := raw["request"]
	if !ok || request == "" {
		return ogc.Response{}, ogc.NewCodedError(ogc.CodeMissingParameterValue, "Missing request parameter.")
	}

	service := raw["service"]
	switch request {
	case "GetMap", "GetFeatureInfo":
		service = "WMS"
	case "GetCapabilities":
		if service == "" {
			return ogc.Response{}, ogc.NewCodedError(ogc.CodeMissingParameterValue, "Missing service parameter.")
		}
	}
	if service != "" && !strings.EqualFold(service, "WMS") {
		return ogc.Response{}, ogc.NewCodedError(ogc.CodeInvalidParameterValue, "Service %q not supported.", service)
	}

	version, err := ogc.ParseVersion(raw["version"])
	if err != nil {
		return ogc.Response{}, err
	}
	handler := s.Handler(version)

	operationParams := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == "version" || k == "service" || k == "request" {
			continue
		}
		operationParams[k] = v
	}
	params, err := handler.Operations().Validate(request, operationParams)
	if err != nil {
		return ogc.Response{}, err
	}

	req := &Request{Params: params, UserAgent: call.UserAgent, OnlineResource: call.OnlineResource}
	switch request {
	case "GetCapabilities":
		return handler.GetCapabilities(ctx, req)
	case "GetMap":
		return handler.GetMap(ctx, req)
	case "GetFeatureInfo":
		return handler.GetFeatureInfo(ctx, req)
	}
	return ogc.Response{}, ogc.NewCodedError(ogc.CodeOperationNotSupported, "Operation %q not supported.", request)
}
