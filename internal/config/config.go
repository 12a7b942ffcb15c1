// Package config loads the domain configuration of plat-ows: default
// service endpoints, network budgets, agent settings and the SOS zone.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joeblew999/plat-ows/internal/crs"
	"github.com/joeblew999/plat-ows/internal/fetch"
	"github.com/joeblew999/plat-ows/internal/ows"
	"github.com/joeblew999/plat-ows/internal/request"
)

// EnvPrefix is the prefix of environment overrides: OWS_FETCH_TIMEOUT → fetch.timeout.
const EnvPrefix = "OWS"

// Config holds all domain configuration.
type Config struct {
	Endpoints EndpointsConfig `mapstructure:"endpoints" yaml:"endpoints"`
	CRS       CRSConfig       `mapstructure:"crs" yaml:"crs"`
	Fetch     FetchConfig     `mapstructure:"fetch" yaml:"fetch"`
	Agent     AgentConfig     `mapstructure:"agent" yaml:"agent"`
	SOS       SOSConfig       `mapstructure:"sos" yaml:"sos"`
	DB        DBConfig        `mapstructure:"db" yaml:"db"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
}

type EndpointsConfig struct {
	WMS string `mapstructure:"wms" yaml:"wms"`
	WFS string `mapstructure:"wfs" yaml:"wfs"`
	SOS string `mapstructure:"sos" yaml:"sos"`
}

// ByKind returns the endpoints keyed by service kind.
func (e EndpointsConfig) ByKind() map[ows.ServiceKind]string {
	return map[ows.ServiceKind]string{
		ows.KindWMS: e.WMS,
		ows.KindWFS: e.WFS,
		ows.KindSOS: e.SOS,
	}
}

type CRSConfig struct {
	LookupURL string `mapstructure:"lookup_url" yaml:"lookup_url"`
}

type FetchConfig struct {
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type AgentConfig struct {
	PollAttempts int           `mapstructure:"poll_attempts" yaml:"poll_attempts"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	Model        string        `mapstructure:"model" yaml:"model"`
	APIKey       string        `mapstructure:"api_key" yaml:"-"`
}

type SOSConfig struct {
	UTCOffset time.Duration `mapstructure:"utc_offset" yaml:"utc_offset"`
	Offering  string        `mapstructure:"offering" yaml:"offering"`
}

type DBConfig struct {
	Name       string   `mapstructure:"name" yaml:"name"`
	Extensions []string `mapstructure:"extensions" yaml:"extensions"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("endpoints.wms", "http://localhost:8080/geoserver/wms")
	v.SetDefault("endpoints.wfs", "http://localhost:8080/geoserver/wfs")
	v.SetDefault("endpoints.sos", "http://localhost:8080/istsos/demo")
	v.SetDefault("crs.lookup_url", crs.DefaultLookupURL)
	v.SetDefault("fetch.timeout", fetch.DefaultTimeout)
	v.SetDefault("agent.poll_attempts", 20)
	v.SetDefault("agent.poll_interval", 500*time.Millisecond)
	v.SetDefault("agent.settle_delay", time.Second)
	v.SetDefault("agent.model", "gemini-flash-latest")
	v.SetDefault("agent.api_key", "")
	v.SetDefault("sos.utc_offset", request.DefaultUTCOffset)
	v.SetDefault("sos.offering", request.DefaultOffering)
	v.SetDefault("db.name", "ows")
	v.SetDefault("db.extensions", []string{"spatial"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration. An explicit path must exist; otherwise ows.yaml
// is looked up in the working directory and in dataDir, and a missing file
// is fine. OWS_* environment variables override both.
func Load(path, dataDir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("ows")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if dataDir != "" {
			v.AddConfigPath(dataDir)
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// GEMINI_API_KEY is the conventional name for the key.
	_ = v.BindEnv("agent.api_key", EnvPrefix+"_AGENT_API_KEY", "GEMINI_API_KEY")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that every field is present and sane.
func (c *Config) Validate() error {
	var errs []string

	if !strings.Contains(c.CRS.LookupURL, "%s") {
		errs = append(errs, "crs.lookup_url must contain %s for the EPSG number")
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, "fetch.timeout must be positive")
	}
	if c.Agent.PollAttempts <= 0 {
		errs = append(errs, fmt.Sprintf("agent.poll_attempts must be positive, got %d", c.Agent.PollAttempts))
	}
	if c.Agent.PollInterval <= 0 {
		errs = append(errs, "agent.poll_interval must be positive")
	}
	if c.Agent.SettleDelay <= 0 {
		errs = append(errs, "agent.settle_delay must be positive")
	}
	if c.Agent.Model == "" {
		errs = append(errs, "agent.model is required")
	}
	if c.SOS.UTCOffset <= -24*time.Hour || c.SOS.UTCOffset >= 24*time.Hour {
		errs = append(errs, fmt.Sprintf("sos.utc_offset must be within ±24h, got %s", c.SOS.UTCOffset))
	}
	if c.SOS.Offering == "" {
		errs = append(errs, "sos.offering is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
