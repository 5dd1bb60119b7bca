package config

import (
	"time"

	"github.com/dmitrijs2005/dngdrop/internal/flagx"
)

// Config holds runtime settings for the dngdrop CLI.
//
// Fields:
//   - ServerURL: base URL of the dngdrop HTTP gateway.
//   - UserID: caller identity sent with every request.
//   - Timeout: bound on a single request; zero means none.
type Config struct {
	ServerURL string
	UserID    string
	Timeout   time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerURL = "http://127.0.0.1:5221"
	c.UserID = ""
	c.Timeout = 0
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseJson(cfg, flagx.ConfigFileFlag()); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	return cfg, nil
}
