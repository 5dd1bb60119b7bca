package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/dmitrijs2005/dngdrop/internal/buildinfo"
	"github.com/dmitrijs2005/dngdrop/internal/client/client"
	"github.com/dmitrijs2005/dngdrop/internal/client/config"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage")

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

type App struct {
	config *config.Config
	client *client.Client
	stdout io.Writer
	stderr io.Writer
	// table selects human readable output.
	table bool
}

func NewApp(c *config.Config) (*App, error) {
	cl, err := client.New(c.ServerURL, &http.Client{Timeout: c.Timeout})
	if err != nil {
		return nil, err
	}
	return &App{
		config: c,
		client: cl,
		stdout: os.Stdout,
		stderr: os.Stderr,
		table:  term.IsTerminal(int(os.Stdout.Fd())),
	}, nil
}

type command struct {
	name  string
	usage string
	run   func(a *App, ctx context.Context, args []string) error
}

var commands = []command{
	{"upload", "upload FILE...", (*App).upload},
	{"list", "list", (*App).list},
	{"download", "download [--token T] [-o DIR] NAME", (*App).download},
	{"preview", "preview [--token T] [-o FILE] NAME", (*App).preview},
	{"reset", "reset [--admin-token T]", (*App).reset},
	{"version", "version", (*App).version},
}

// addGlobalFlags registers the flags owned by the config package so that
// they are accepted anywhere on the command line. Their values are read by
// config.LoadConfig; here they are only skipped.
func addGlobalFlags(fs *pflag.FlagSet) {
	var c config.Config
	var path string
	fs.StringVarP(&c.ServerURL, "server", "s", "", "base URL of the dngdrop server")
	fs.StringVarP(&c.UserID, "user", "u", "", "user id")
	fs.DurationVar(&c.Timeout, "timeout", 0, "per-request timeout (0 disables)")
	fs.StringVarP(&path, "config", "c", "", "path to a JSON config file")
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addGlobalFlags(fs)
	return fs
}

// Run executes the command named by the first positional argument of args
// (os.Args[1:] in production).
func (a *App) Run(ctx context.Context, args []string) error {
	root := newFlagSet("dngdrop-cli")
	root.SetInterspersed(false)
	if err := root.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	rest := root.Args()
	if len(rest) == 0 || rest[0] == "help" {
		a.printUsage()
		return nil
	}

	for _, c := range commands {
		if c.name == rest[0] {
			return c.run(a, ctx, rest[1:])
		}
	}

	a.printUsage()
	return fmt.Errorf("%w: unknown command %q", ErrUsage, rest[0])
}

func (a *App) printUsage() {
	fmt.Fprintln(a.stderr, "Usage: dngdrop-cli [-s URL] [-u USER] [-c FILE] <command>")
	fmt.Fprintln(a.stderr, "Commands:")
	for _, c := range commands {
		fmt.Fprintf(a.stderr, "  %s\n", c.usage)
	}
}

func (a *App) requireUser() error {
	if a.config.UserID == "" {
		return fmt.Errorf("%w: --user is required", ErrUsage)
	}
	return nil
}

func (a *App) version(_ context.Context, _ []string) error {
	buildinfo.PrintBuildData(a.stdout)
	return nil
}
