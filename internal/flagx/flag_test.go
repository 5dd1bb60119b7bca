package flagx

import (
	"os"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterArgs(t *testing.T) {
	tests := []struct {
		name         string
		args         []string
		allowedFlags []string
		want         []string
	}{
		{
			name:         "short flag with separate value",
			args:         []string{"-c", "dngdrop.yaml", "-a", ":5221"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-c", "dngdrop.yaml"},
		},
		{
			name:         "flag with equals",
			args:         []string{"-config=alt.json", "-a", ":5221"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{"-config=alt.json"},
		},
		{
			name:         "unknown flags ignored",
			args:         []string{"-x", "1", "--y=2", "positional"},
			allowedFlags: []string{"-c", "-config"},
			want:         []string{},
		},
		{
			name:         "flag without value at end is kept as-is",
			args:         []string{"-o"},
			allowedFlags: []string{"-o"},
			want:         []string{"-o"},
		},
		{
			name:         "flag followed by another flag keeps no value",
			args:         []string{"-o", "-u", "upload"},
			allowedFlags: []string{"-o"},
			want:         []string{"-o"},
		},
		{
			name:         "several allowed flags kept in order",
			args:         []string{"-a", ":5221", "-c", "conf.json", "-o", "output", "--other", "x"},
			allowedFlags: []string{"-a", "-o"},
			want:         []string{"-a", ":5221", "-o", "output"},
		},
		{
			name:         "equals value that looks like a flag",
			args:         []string{"-config=--weird.json"},
			allowedFlags: []string{"-config"},
			want:         []string{"-config=--weird.json"},
		},
		{
			name:         "empty args",
			args:         []string{},
			allowedFlags: []string{"-c"},
			want:         []string{},
		},
		{
			name:         "repeated allowed flag is preserved",
			args:         []string{"-c", "one.json", "-c", "two.yaml"},
			allowedFlags: []string{"-c"},
			want:         []string{"-c", "one.json", "-c", "two.yaml"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FilterArgs(tt.args, tt.allowedFlags)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("FilterArgs() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestConfigFileFlag(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	t.Run("short -c with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/etc/dngdrop.yaml"}
		assert.Equal(t, "/etc/dngdrop.yaml", ConfigFileFlag())
	})

	t.Run("long -config with value", func(t *testing.T) {
		os.Args = []string{"testbin", "-a", ":8080", "-config", "/etc/dngdrop.json"}
		assert.Equal(t, "/etc/dngdrop.json", ConfigFileFlag())
	})

	t.Run("absent", func(t *testing.T) {
		os.Args = []string{"testbin", "-x", "1"}
		assert.Empty(t, ConfigFileFlag())
	})

	t.Run("last one wins", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", "/a.json", "-config", "/b.yaml"}
		assert.Equal(t, "/b.yaml", ConfigFileFlag())
	})
}
