package gqlpipe

import (
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config holds the endpoints and tuning read from the environment.
type Config struct {
	HTTPEndpoint string `mapstructure:"http_endpoint"`
	WSEndpoint   string `mapstructure:"ws_endpoint"`
	WS           struct {
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"ws"`
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"http_endpoint":  "API_GRAPHQL_URL",
	"ws_endpoint":    "API_WS",
	"ws.timeout":     "API_WS_TIMEOUT",
	"logging.level":  "LOG_LEVEL",
	"logging.format": "LOG_FORMAT",
}

// LoadConfig reads gqlpipe.yaml from the working directory if present,
// then applies environment overrides. Missing endpoints fall back to the
// local development server.
func LoadConfig() (Config, error) {
	v := viper.New()
	v.SetDefault("http_endpoint", DefaultHTTPEndpoint)
	v.SetDefault("ws_endpoint", DefaultWebSocketEndpoint)
	v.SetDefault("ws.timeout", DefaultInactivityTimeout.String())
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetConfigName("gqlpipe")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, errors.Wrap(err, "failed to read config file")
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, errors.Wrapf(err, "failed to bind %s to %s", key, env)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, errors.Wrap(err, "failed to decode config")
	}
	return c, c.Validate()
}

// Validate checks both endpoints. Empty endpoints are valid and mean the
// defaults.
func (c Config) Validate() error {
	if c.HTTPEndpoint != "" {
		if err := validateEndpoint(c.HTTPEndpoint, "http", "https"); err != nil {
			return err
		}
	}
	if c.WSEndpoint != "" {
		if err := validateEndpoint(c.WSEndpoint, "ws", "wss"); err != nil {
			return err
		}
	}
	if c.WS.Timeout < 0 {
		return errors.Errorf("negative websocket timeout %v", c.WS.Timeout)
	}
	return nil
}

func validateEndpoint(endpoint string, schemes ...string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return errors.Wrapf(ErrInvalidEndpoint, "%q: %v", endpoint, err)
	}
	if u.Host == "" {
		return errors.Wrapf(ErrInvalidEndpoint, "%q has no host", endpoint)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidEndpoint, "%q must use one of %v", endpoint, schemes)
}
