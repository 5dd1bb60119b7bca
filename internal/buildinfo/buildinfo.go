// Package buildinfo reports build metadata injected with
//
//	go build -ldflags "-X github.com/dmitrijs2005/dngdrop/internal/buildinfo.buildVersion=v1.0.0 ..."
package buildinfo

import (
	"fmt"
	"io"
	"runtime/debug"
	"strings"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

const na = "N/A"

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return na
	}
	return s
}

// Version returns the injected version, falling back to the module version
// recorded by the Go toolchain.
func Version() string {
	if strings.TrimSpace(buildVersion) != "" {
		return buildVersion
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return na
}

func Date() string   { return orNA(buildDate) }
func Commit() string { return orNA(buildCommit) }

// PrintBuildData writes the three build lines.
func PrintBuildData(w io.Writer) {
	fmt.Fprintf(w, "Build version: %s\n", Version())
	fmt.Fprintf(w, "Build date: %s\n", Date())
	fmt.Fprintf(w, "Build commit: %s\n", Commit())
}
