// Package app assembles a running WMS server from its configuration.
package app

import (
	"context"
	"html/template"
	"sort"

	"github.com/itchyny/gojq"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/auth"
	"github.com/delta10/wms-server/internal/config"
	"github.com/delta10/wms-server/internal/logs"
	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/registry"
	"github.com/delta10/wms-server/internal/render"
	"github.com/delta10/wms-server/internal/render/cache"
	"github.com/delta10/wms-server/internal/render/canvas"
	"github.com/delta10/wms-server/internal/render/mapfile"
	"github.com/delta10/wms-server/internal/server"
	"github.com/delta10/wms-server/internal/telemetry"
	"github.com/delta10/wms-server/internal/wms"
)

type App struct {
	Config   *config.Config
	Registry *registry.Registry
	Service  *wms.Service
	Server   *server.Server

	telemetry *telemetry.Provider
	auth      *auth.Authenticator
	accessLog *logs.Shipper
}

// Build loads the map, seals the registry and wires the HTTP stack. Every
// failure is fatal for startup.
func Build(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, engine, err := LoadRegistry(cfg, logger)
	if err != nil {
		return nil, err
	}

	opts, err := ServiceOptions(cfg, reg, logger)
	if err != nil {
		return nil, err
	}

	svc, err := wms.NewService(reg, engine, opts, logger.Named("wms"))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Registry: reg, Service: svc}

	a.telemetry, err = telemetry.NewProvider(cfg.Metrics.Enabled)
	if err != nil {
		return nil, err
	}

	if cfg.Server.JwksURL != "" {
		a.auth, err = auth.NewJWKS(cfg.Server.JwksURL, cfg.Server.AllowedGroups, logger.Named("auth"))
		if err != nil {
			a.Close(context.Background())
			return nil, ogc.NewConfigurationError("could not load JWKS from %s: %s", cfg.Server.JwksURL, err)
		}
	}

	if cfg.Server.LogBackend.BaseURL != "" {
		a.accessLog = logs.NewShipper(logs.NewLogBackend(cfg.Server.LogBackend), 0, logger.Named("logs"))
	}

	a.Server, err = server.New(svc, server.Options{
		BaseURL:     cfg.Server.BaseURL,
		MaxAge:      cfg.Server.MaxAge,
		Auth:        a.auth,
		Telemetry:   a.telemetry,
		MetricsPath: cfg.Metrics.Path,
		AccessLog:   a.accessLog,
	}, logger.Named("http"))
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

// LoadRegistry reads the map file and returns the sealed registry with the
// engine that serves it.
func LoadRegistry(cfg *config.Config, logger *zap.Logger) (*registry.Registry, render.Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	desc, err := mapfile.Load(cfg.Server.Mapfile)
	if err != nil {
		return nil, nil, err
	}

	base := canvas.New()
	var engine render.Engine = base
	if cfg.Cache.Enabled {
		engine = cache.New(base, cfg.Cache.TTL, cfg.Cache.CleanupInterval, cache.WithLogger(logger.Named("cache")))
	}

	reg := registry.New(base, registry.WithLogger(logger.Named("registry")))
	if err := reg.LoadMap(desc, Overlay(cfg)); err != nil {
		return nil, nil, err
	}
	if err := reg.Finalize(); err != nil {
		return nil, nil, err
	}
	logger.Info("map loaded",
		zap.String("mapfile", cfg.Server.Mapfile),
		zap.Int("layers", reg.LayerCount()),
		zap.Int("styles", reg.StyleCount()))
	return reg, engine, nil
}

// Overlay carries the per layer settings of cfg into the registry.
func Overlay(cfg *config.Config) registry.Overlay {
	overlay := registry.Overlay{
		DefaultWMSSRS: cfg.Map.WMSSRS,
		Layers:        make(map[string]registry.LayerOverride, len(cfg.Layers)),
	}
	for name, l := range cfg.Layers {
		overlay.Layers[name] = registry.LayerOverride{
			Title:    l.Title,
			Abstract: l.Abstract,
			WMSSRS:   l.WMSSRS,
		}
	}
	return overlay
}

// ServiceOptions maps cfg onto wms.Options, compiling feature info filters
// and the home template.
func ServiceOptions(cfg *config.Config, reg *registry.Registry, logger *zap.Logger) (wms.Options, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := wms.Options{
		Service: wms.ServiceMetadata{
			Title:             cfg.Service.Title,
			Abstract:          cfg.Service.Abstract,
			OnlineResource:    cfg.Service.OnlineResource,
			Fees:              cfg.Service.Fees,
			AccessConstraints: cfg.Service.AccessConstraints,
			Keywords:          cfg.Service.KeywordList,
			AllowedEPSGCodes:  cfg.Service.AllowedEPSGCodes,
			LayerLimit:        cfg.Service.LayerLimit,
			MaxWidth:          cfg.Service.MaxWidth,
			MaxHeight:         cfg.Service.MaxHeight,
		},
		Root: wms.RootLayer{
			Name:     cfg.Map.WMSName,
			Title:    cfg.Map.WMSTitle,
			Abstract: cfg.Map.WMSAbstract,
		},
		Debug: cfg.Server.Debug,
	}

	names := make([]string, 0, len(cfg.Layers))
	for name := range cfg.Layers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := cfg.Layers[name].FeatureInfoFilter
		if src == "" {
			continue
		}
		if _, ok := reg.Layer(name); !ok {
			logger.Warn("featureInfoFilter configured for unknown layer", zap.String("layer", name))
			continue
		}
		code, err := wms.CompileFeatureInfoFilter(name, src)
		if err != nil {
			return wms.Options{}, err
		}
		if opts.FeatureInfoFilters == nil {
			opts.FeatureInfoFilters = make(map[string]*gojq.Code)
		}
		opts.FeatureInfoFilters[name] = code
	}

	if cfg.Server.HomeHTML != "" {
		home, err := template.ParseFiles(cfg.Server.HomeHTML)
		if err != nil {
			return wms.Options{}, ogc.NewConfigurationError("could not load home template: %s", err)
		}
		opts.Home = home
	}
	return opts, nil
}

// Close stops background workers.
func (a *App) Close(ctx context.Context) {
	if a.auth != nil {
		a.auth.Close()
	}
	if a.accessLog != nil {
		a.accessLog.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}
