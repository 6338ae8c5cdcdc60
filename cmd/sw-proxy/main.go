// Command sw-proxy runs the MovieTracker offline caching layer as an HTTP
// proxy in front of the app origin.
package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"github.com/Sternrassler/movietracker-sw/pkg/config"
	"github.com/Sternrassler/movietracker-sw/pkg/logging"
)

var version = "0.1.0"

func main() {
	if err := newApp(os.Stdout).Run(context.Background(), os.Args); err != nil {
		logger := logging.NewLogger("main")
		logger.Error().Err(err).Msg("sw-proxy failed")
		os.Exit(1)
	}
}

// runner holds what every command action needs.
type runner struct {
	out io.Writer

	// stackOptions is applied to every stack a command builds.
	stackOptions stackOptions
}

func newApp(out io.Writer) *cli.Command {
	r := &runner{out: out}
	return r.app()
}

func (r *runner) app() *cli.Command {
	return &cli.Command{
		Name:    "sw-proxy",
		Usage:   "Offline-capable request caching layer for MovieTracker",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Sources: cli.EnvVars("SW_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			r.serveCommand(),
			r.installCommand(),
			r.activateCommand(),
			r.partitionsCommand(),
			r.outboxCommand(),
			r.configCommand(),
		},
	}
}

// load reads the configuration named by --config and sets up logging.
func (r *runner) load(cmd *cli.Command) (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return config.Config{}, zerolog.Nop(), err
	}
	logger := logging.Setup(cfg.Logging())
	return cfg, logger, nil
}

// withStack runs fn on a stack built from the command's configuration.
func (r *runner) withStack(ctx context.Context, cmd *cli.Command, fn func(context.Context, *stack) error) error {
	cfg, logger, err := r.load(cmd)
	if err != nil {
		return err
	}
	s, err := newStack(ctx, cfg, logger, r.stackOptions)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

func (r *runner) printf(format string, args ...any) {
	fmt.Fprintf(r.out, format, args...)
}
