package cli

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/becomeliminal/nim-recall/console"
	"github.com/becomeliminal/nim-recall/engine"
)

func chatCommand(g *globals) *cli.Command {
	var session string

	return &cli.Command{
		Name:  "chat",
		Usage: "Chat in the terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "session",
				Aliases:     []string{"s"},
				Usage:       "Conversation to resume",
				Value:       engine.DefaultSessionID,
				Sources:     cli.EnvVars("NIM_RECALL_SESSION"),
				Destination: &session,
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
			eng, err := d.engine(gen, nil)
			if err != nil {
				return err
			}

			rl, err := console.NewReadline(d.cfg.HistoryFile())
			if err != nil {
				return goerr.Wrap(err, "failed to open terminal")
			}

			// While a reply streams the terminal is in cooked mode, so Ctrl+C
			// arrives as SIGINT and stops the reply.
			interrupts := make(chan struct{}, 1)
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt)
			defer signal.Stop(sigCh)
			go func() {
				for range sigCh {
					select {
					case interrupts <- struct{}{}:
					default:
					}
				}
			}()

			con := console.New(rl, c.Root().Writer, console.WithInterrupts(interrupts))
			defer con.Close()

			serveErr := eng.Serve(ctx, session, con)

			closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
			defer cancel()
			if err := eng.Close(closeCtx); err != nil {
				d.logger.Warn("memory save did not finish", "error", err)
			}
			if serveErr != nil {
				return goerr.Wrap(serveErr, "chat session failed")
			}
			return nil
		},
	}
}
