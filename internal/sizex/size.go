// Package sizex provides a byte-count type that decodes humanized sizes
// ("512MB", "2 GiB") from configuration files and flags.
package sizex

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Bytes uint64

// Parse accepts either a plain byte count or a humanized size.
func Parse(s string) (Bytes, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	return Bytes(n), nil
}

func (b Bytes) String() string {
	return strings.ReplaceAll(humanize.Bytes(uint64(b)), " ", "")
}

// Set and Type make Bytes usable as a flag.Value / pflag.Value.
func (b *Bytes) Set(s string) error {
	v, err := Parse(s)
	if err != nil {
		return err
	}
	*b = v
	return nil
}

func (b *Bytes) Type() string { return "bytes" }

func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Bytes) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return b.set(v)
}

func (b *Bytes) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return b.set(v)
}

func (b *Bytes) set(v any) error {
	switch value := v.(type) {
	case float64:
		*b = Bytes(value)
	case int:
		*b = Bytes(value)
	case string:
		return b.Set(value)
	case nil:
		*b = 0
	default:
		return fmt.Errorf("invalid size %v", v)
	}
	return nil
}
