package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/dngdrop/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// It relies on timex.Duration so JSON can specify the timeout either as a
// string like "30s" or as integer nanoseconds. Pointers tell absent keys
// apart from zero values.
type JsonConfig struct {
	ServerURL *string         `json:"server_url"`
	UserID    *string         `json:"user_id"`
	Timeout   *timex.Duration `json:"timeout"`
}

// parseJson overlays cfg with values loaded from the JSON file at path. An
// empty path is a no-op. Keys missing from the file keep their value.
func parseJson(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var jc JsonConfig
	if err := json.Unmarshal(data, &jc); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	if jc.ServerURL != nil {
		cfg.ServerURL = *jc.ServerURL
	}
	if jc.UserID != nil {
		cfg.UserID = *jc.UserID
	}
	if jc.Timeout != nil {
		cfg.Timeout = jc.Timeout.Duration
	}
	return nil
}
