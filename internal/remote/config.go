package remote

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	URL     string        `mapstructure:"url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ParseConfig reads the remote endpoint settings from viper under the
// given key. Values starting with $ are expanded from the environment,
// so tokens can stay out of config files.
func ParseConfig(key string) (Config, error) {
	var cfg Config
	err := viper.UnmarshalKey(key, &cfg)
	if err != nil {
		return Config{}, err
	}
	if strings.HasPrefix(cfg.URL, "$") {
		cfg.URL = os.ExpandEnv(cfg.URL)
	}
	if strings.HasPrefix(cfg.Token, "$") {
		cfg.Token = os.ExpandEnv(cfg.Token)
	}
	return cfg, nil
}

// Client builds a ready client from the parsed settings.
func (c Config) Client() (*Client, error) {
	opts := []Option{}
	if c.Token != "" {
		opts = append(opts, WithToken(c.Token))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithHTTPClient(&http.Client{Timeout: c.Timeout}))
	}
	return NewClient(c.URL, opts...)
}
