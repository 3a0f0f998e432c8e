package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/delta10/wms-server/internal/ogc"
	"github.com/delta10/wms-server/internal/utils"
)

const (
	DefaultListenAddress   = ":8080"
	DefaultCacheTTL        = 5 * time.Minute
	DefaultCleanupInterval = 10 * time.Minute
	DefaultMetricsPath     = "/metrics"
)

type ListenTLS struct {
	Certificate string `yaml:"certificate" toml:"certificate"`
	Key         string `yaml:"key" toml:"key"`
}

type LogBackend struct {
	BaseURL string            `yaml:"baseUrl" toml:"baseUrl"`
	Labels  map[string]string `yaml:"labels" toml:"labels"`
}

type Server struct {
	ListenAddress string     `yaml:"listenAddress" toml:"listenAddress"`
	BaseURL       string     `yaml:"baseUrl" toml:"baseUrl"`
	MaxAge        int        `yaml:"maxAge" toml:"maxAge"`
	Debug         bool       `yaml:"debug" toml:"debug"`
	HomeHTML      string     `yaml:"homeHtml" toml:"homeHtml"`
	Mapfile       string     `yaml:"mapfile" toml:"mapfile"`
	ListenTLS     ListenTLS  `yaml:"listenTls" toml:"listenTls"`
	JwksURL       string     `yaml:"jwksUrl" toml:"jwksUrl"`
	AllowedGroups []string   `yaml:"allowedGroups" toml:"allowedGroups"`
	LogBackend    LogBackend `yaml:"logBackend" toml:"logBackend"`
}

type Service struct {
	Title             string   `yaml:"title" toml:"title"`
	Abstract          string   `yaml:"abstract" toml:"abstract"`
	OnlineResource    string   `yaml:"onlineResource" toml:"onlineResource"`
	Fees              string   `yaml:"fees" toml:"fees"`
	AccessConstraints string   `yaml:"accessConstraints" toml:"accessConstraints"`
	KeywordList       []string `yaml:"keywordList" toml:"keywordList"`
	AllowedEPSGCodes  []int    `yaml:"allowedEpsgCodes" toml:"allowedEpsgCodes"`
	LayerLimit        int      `yaml:"layerLimit" toml:"layerLimit"`
	MaxWidth          int      `yaml:"maxWidth" toml:"maxWidth"`
	MaxHeight         int      `yaml:"maxHeight" toml:"maxHeight"`
}

// Map describes the root layer and the SRS advertised for every layer that
// does not set its own.
type Map struct {
	WMSName     string `yaml:"wmsName" toml:"wmsName"`
	WMSTitle    string `yaml:"wmsTitle" toml:"wmsTitle"`
	WMSAbstract string `yaml:"wmsAbstract" toml:"wmsAbstract"`
	WMSSRS      string `yaml:"wmsSrs" toml:"wmsSrs"`
}

type Layer struct {
	Title             string `yaml:"title" toml:"title"`
	Abstract          string `yaml:"abstract" toml:"abstract"`
	WMSSRS            string `yaml:"wmsSrs" toml:"wmsSrs"`
	FeatureInfoFilter string `yaml:"featureInfoFilter" toml:"featureInfoFilter"`
}

type Cache struct {
	Enabled         bool          `yaml:"enabled" toml:"enabled"`
	TTL             time.Duration `yaml:"ttl" toml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" toml:"cleanupInterval"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

type Logging struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type Config struct {
	Server  Server           `yaml:"server" toml:"server"`
	Service Service          `yaml:"service" toml:"service"`
	Map     Map              `yaml:"map" toml:"map"`
	Layers  map[string]Layer `yaml:"layers" toml:"layers"`
	Cache   Cache            `yaml:"cache" toml:"cache"`
	Metrics Metrics          `yaml:"metrics" toml:"metrics"`
	Logging Logging          `yaml:"logging" toml:"logging"`
}

// NewConfig returns a new decoded and validated Config struct. Files ending in
// .toml are read as TOML, anything else as YAML.
func NewConfig(configPath string) (*Config, error) {
	config := &Config{}

	if strings.EqualFold(filepath.Ext(configPath), ".toml") {
		if _, err := toml.DecodeFile(configPath, config); err != nil {
			return nil, err
		}
	} else {
		file, err := os.Open(configPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		d := yaml.NewDecoder(file)
		if err := d.Decode(config); err != nil {
			return nil, err
		}
	}

	config.expandEnv()

	// Relative map and template paths are relative to the config file.
	base := filepath.Dir(configPath)
	config.Server.Mapfile = resolvePath(base, config.Server.Mapfile)
	config.Server.HomeHTML = resolvePath(base, config.Server.HomeHTML)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandEnv() {
	c.Server.BaseURL = utils.EnvSubst(c.Server.BaseURL)
	c.Server.JwksURL = utils.EnvSubst(c.Server.JwksURL)
	c.Server.LogBackend.BaseURL = utils.EnvSubst(c.Server.LogBackend.BaseURL)
	c.Service.OnlineResource = utils.EnvSubst(c.Service.OnlineResource)
}

func resolvePath(base, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}

// Validate fills in defaults and rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.ListenAddress == "" {
		c.Server.ListenAddress = DefaultListenAddress
	}
	if c.Server.Mapfile == "" {
		return ogc.NewConfigurationError("server.mapfile not configured")
	}
	if c.Server.MaxAge < 0 {
		return ogc.NewConfigurationError("server.maxAge must not be negative")
	}
	if (c.Server.ListenTLS.Certificate == "") != (c.Server.ListenTLS.Key == "") {
		return ogc.NewConfigurationError("server.listenTls needs both a certificate and a key")
	}
	if len(c.Server.AllowedGroups) > 0 && c.Server.JwksURL == "" {
		return ogc.NewConfigurationError("server.allowedGroups requires server.jwksUrl")
	}

	if len(c.Service.AllowedEPSGCodes) == 0 {
		return ogc.NewConfigurationError("service.allowedEpsgCodes not properly configured")
	}
	for _, code := range c.Service.AllowedEPSGCodes {
		if code <= 0 {
			return ogc.NewConfigurationError("service.allowedEpsgCodes contains invalid code %d", code)
		}
	}
	if c.Service.LayerLimit < 0 || c.Service.MaxWidth < 0 || c.Service.MaxHeight < 0 {
		return ogc.NewConfigurationError("service limits must not be negative")
	}

	if c.Cache.TTL <= 0 {
		c.Cache.TTL = DefaultCacheTTL
	}
	if c.Cache.CleanupInterval <= 0 {
		c.Cache.CleanupInterval = DefaultCleanupInterval
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return ogc.NewConfigurationError("metrics.path %q must start with a slash", c.Metrics.Path)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "json"
	case "json", "console":
	default:
		return ogc.NewConfigurationError("logging.format %q is not one of json, console", c.Logging.Format)
	}
	return nil
}
