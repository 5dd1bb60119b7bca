package config

import (
	"github.com/spf13/pflag"

	"github.com/dmitrijs2005/dngdrop/internal/flagx"
)

// GlobalFlags lists the flags owned by this package. Subcommands ignore them.
var GlobalFlags = []string{
	"-s", "--server",
	"-u", "--user",
	"--timeout",
}

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-s, --server string    base URL of the server
//	-u, --user string      user id
//	    --timeout duration per-request timeout (0 disables)
//
// args is filtered with flagx.FilterArgs first so subcommand flags and
// positional arguments do not interfere.
func parseFlags(cfg *Config, args []string) error {
	args = flagx.FilterArgs(args, GlobalFlags)

	fs := pflag.NewFlagSet("dngdrop-cli", pflag.ContinueOnError)

	fs.StringVarP(&cfg.ServerURL, "server", "s", cfg.ServerURL, "base URL of the dngdrop server")
	fs.StringVarP(&cfg.UserID, "user", "u", cfg.UserID, "user id")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request timeout (0 disables)")

	return fs.Parse(args)
}
