package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/Sternrassler/movietracker-sw/pkg/config"
	"github.com/Sternrassler/movietracker-sw/pkg/metrics"
	"github.com/Sternrassler/movietracker-sw/pkg/telemetry"
)

func (r *runner) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Install, activate and serve the proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (overrides server.addr)",
			},
		},
		Action: r.serve,
	}
}

func (r *runner) serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, logger, err := r.load(cmd)
	if err != nil {
		return err
	}
	if addr := cmd.String("addr"); addr != "" {
		cfg.Server.Addr = addr
	}

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer shutdownTracing(context.WithoutCancel(ctx))

	metrics.SetBuildInfo(version, cfg.Cache.Version)

	s, err := newStack(ctx, cfg, logger, r.stackOptions)
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.worker.Install(ctx); err != nil {
		return fmt.Errorf("install: %w", err)
	}
	if err := s.worker.Activate(ctx); err != nil {
		return fmt.Errorf("activate: %w", err)
	}

	if s.tracker != nil {
		go s.tracker.Monitor(ctx, cfg.Connectivity.PingInterval, s.ping)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      s.handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", cfg.Server.Addr).
			Str("origin", s.origin.String()).
			Bool("redis", s.redis != nil).
			Bool("outbox", s.outbox != nil).
			Msg("Starting sw-proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (r *runner) installCommand() *cli.Command {
	return &cli.Command{
		Name:  "install",
		Usage: "Seed the static partition with the manifest",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.withStack(ctx, cmd, func(ctx context.Context, s *stack) error {
				if err := s.worker.Install(ctx); err != nil {
					return err
				}
				static := s.config.Partitions().Static
				n, err := s.manager.Store().Len(ctx, static)
				if err != nil {
					return err
				}
				r.printf("Installed: %d of %d manifest entries cached in %s\n", n, len(s.config.Cache.Manifest), static)
				return nil
			})
		},
	}
}

func (r *runner) activateCommand() *cli.Command {
	return &cli.Command{
		Name:  "activate",
		Usage: "Delete cache partitions of other versions",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.withStack(ctx, cmd, func(ctx context.Context, s *stack) error {
				if err := s.worker.Activate(ctx); err != nil {
					return err
				}
				names, err := s.manager.Partitions(ctx)
				if err != nil {
					return err
				}
				r.printf("Activated, partitions: %s\n", strings.Join(names, ", "))
				return nil
			})
		},
	}
}

func (r *runner) partitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "partitions",
		Usage: "List cache partitions and their entry counts",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return r.withStack(ctx, cmd, func(ctx context.Context, s *stack) error {
				names, err := s.manager.Partitions(ctx)
				if err != nil {
					return err
				}
				current := s.config.Partitions()

				tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PARTITION\tENTRIES\tCURRENT")
				for _, name := range names {
					n, err := s.manager.Store().Len(ctx, name)
					if err != nil {
						return err
					}
					isCurrent := name == current.Static || name == current.Dynamic
					fmt.Fprintf(tw, "%s\t%d\t%t\n", name, n, isCurrent)
				}
				return tw.Flush()
			})
		},
	}
}

func (r *runner) outboxCommand() *cli.Command {
	tagFlag := &cli.StringFlag{
		Name:  "tag",
		Usage: "Only this sync tag (default: all)",
	}
	return &cli.Command{
		Name:  "outbox",
		Usage: "Inspect and replay deferred writes",
		Commands: []*cli.Command{
			{
				Name:   "pending",
				Usage:  "List queued writes",
				Flags:  []cli.Flag{tagFlag},
				Action: r.outboxPending,
			},
			{
				Name:   "flush",
				Usage:  "Replay queued writes now",
				Flags:  []cli.Flag{tagFlag},
				Action: r.outboxFlush,
			},
		},
	}
}

func (r *runner) outboxTags(ctx context.Context, cmd *cli.Command, s *stack) ([]string, error) {
	if s.outbox == nil {
		return nil, errors.New("outbox is disabled (set outbox.enabled)")
	}
	if tag := cmd.String("tag"); tag != "" {
		return []string{tag}, nil
	}
	return s.outbox.Tags(ctx)
}

func (r *runner) outboxPending(ctx context.Context, cmd *cli.Command) error {
	return r.withStack(ctx, cmd, func(ctx context.Context, s *stack) error {
		tags, err := r.outboxTags(ctx, cmd, s)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(r.out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tTAG\tMETHOD\tURL\tATTEMPTS\tQUEUED")
		for _, tag := range tags {
			items, err := s.outbox.Pending(ctx, tag)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
					item.ID, item.Tag, item.Method, item.URL, item.Attempts, item.CreatedAt.Format(time.RFC3339))
			}
		}
		return tw.Flush()
	})
}

func (r *runner) outboxFlush(ctx context.Context, cmd *cli.Command) error {
	return r.withStack(ctx, cmd, func(ctx context.Context, s *stack) error {
		tags, err := r.outboxTags(ctx, cmd, s)
		if err != nil {
			return err
		}

		var errs []error
		for _, tag := range tags {
			if err := s.worker.Sync(ctx, tag); err != nil {
				errs = append(errs, err)
				r.printf("%s: failed: %v\n", tag, err)
				continue
			}
			remaining, err := s.outbox.Pending(ctx, tag)
			if err != nil {
				return err
			}
			r.printf("%s: flushed, %d remaining\n", tag, len(remaining))
		}
		return errors.Join(errs...)
	})
}

func (r *runner) configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print or write the example configuration",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write to this path instead of stdout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if path := cmd.String("output"); path != "" {
				if err := config.WriteExample(path); err != nil {
					return err
				}
				r.printf("Wrote %s\n", path)
				return nil
			}
			r.printf("%s", config.Example())
			return nil
		},
	}
}
