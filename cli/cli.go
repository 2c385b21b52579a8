// Package cli is the nim-recall command tree.
package cli

import (
	"context"
	"io"
	"os"

	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

// Run executes the command line and reports a failure as an exit code.
func Run(ctx context.Context, argv []string) *Error {
	if err := newApp(os.Stdout, os.Stderr).Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}
	return nil
}

func newApp(stdout, logOutput io.Writer) *cli.Command {
	g := &globals{logOutput: logOutput}
	return &cli.Command{
		Name:   "nim-recall",
		Usage:  "Conversational agent with long-term memory",
		Writer: stdout,
		Flags:  globalFlags(g),
		Commands: []*cli.Command{
			chatCommand(g),
			serveCommand(g),
			memoryCommand(g),
		},
	}
}

func globalFlags(g *globals) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "Path to the YAML config file",
			Value:       "nim-recall.yaml",
			Sources:     cli.EnvVars("NIM_RECALL_CONFIG"),
			Destination: &g.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Aliases:     []string{"l"},
			Usage:       "debug, info, warn or error (overrides the config file)",
			Destination: &g.logLevel,
		},
	}
}
