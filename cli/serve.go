package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-recall/metrics"
	"github.com/becomeliminal/nim-recall/server"
)

func serveCommand(g *globals) *cli.Command {
	var addr string

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve conversations over WebSocket",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Aliases:     []string{"a"},
				Usage:       "HTTP listen address (overrides server.addr)",
				Sources:     cli.EnvVars("NIM_RECALL_ADDR"),
				Destination: &addr,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			d, err := newDeps(ctx, g)
			if err != nil {
				return err
			}
			defer d.close()

			gen, err := d.generator()
			if err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			eng, err := d.engine(gen, metrics.New(reg))
			if err != nil {
				return err
			}

			sc := d.cfg.Server
			if addr != "" {
				sc.Addr = addr
			}
			srv := server.New(server.Config{
				Addr:              sc.Addr,
				GRPCAddr:          sc.GRPCHealthAddr,
				MessagesPerSecond: sc.MessagesPerSecond,
				Burst:             sc.Burst,
				AllowedOrigins:    sc.AllowedOrigins,
			}, eng, server.WithGatherer(reg), server.WithLogger(d.logger))

			ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Run(ctx)
		},
	}
}
