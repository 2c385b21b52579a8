package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

func memoryCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "memory",
		Usage: "Inspect and edit long-term memory",
		Commands: []*cli.Command{
			memoryListCommand(g),
			memorySearchCommand(g),
			memoryAddCommand(g),
			memoryForgetCommand(g),
		},
	}
}

func memoryListCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List every memory, oldest first",
		Action: func(ctx context.Context, c *cli.Command) error {
			d, err := newDeps(ctx, g)
			if err != nil {
				return err
			}
			defer d.close()

			records, err := d.store.List(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to list memories")
			}
			w := c.Root().Writer
			if len(records) == 0 {
				fmt.Fprintln(w, "No memories.")
				return nil
			}
			for _, rec := range records {
				fmt.Fprintf(w, "%s  %s  %s\n", rec.ID, rec.UpdatedAt.Format("2006-01-02 15:04"), rec.Text)
			}
			return nil
		},
	}
}

func memorySearchCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Show the memories recall would inject for a query",
		ArgsUsage: "<query>",
		Action: func(ctx context.Context, c *cli.Command) error {
			query := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(query) == "" {
				return goerr.New("query is required")
			}
			d, err := newDeps(ctx, g)
			if err != nil {
				return err
			}
			defer d.close()

			results, err := d.retriever().Retrieve(ctx, query)
			if err != nil {
				return goerr.Wrap(err, "failed to search memories", goerr.V("query", query))
			}
			w := c.Root().Writer
			if len(results) == 0 {
				fmt.Fprintln(w, "No matching memories.")
				return nil
			}
			for i, r := range results {
				fmt.Fprintf(w, "%d. [%.3f] %s  (%s)\n", i+1, r.Score, r.Record.Text, r.Record.ID)
			}
			return nil
		},
	}
}

func memoryAddCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "Remember a fact (merged into a near-duplicate if one exists)",
		ArgsUsage: "<text>",
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			if strings.TrimSpace(text) == "" {
				return goerr.New("text is required")
			}
			d, err := newDeps(ctx, g)
			if err != nil {
				return err
			}
			defer d.close()

			dec, err := d.policy().Apply(ctx, text)
			if err != nil {
				return goerr.Wrap(err, "failed to add memory")
			}
			fmt.Fprintf(c.Root().Writer, "%s %s\n", dec.Action, dec.ID)
			return nil
		},
	}
}

func memoryForgetCommand(g *globals) *cli.Command {
	return &cli.Command{
		Name:      "forget",
		Usage:     "Delete a memory",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			id := c.Args().First()
			if id == "" {
				return goerr.New("id is required")
			}
			d, err := newDeps(ctx, g)
			if err != nil {
				return err
			}
			defer d.close()

			if err := d.store.Delete(ctx, id); err != nil {
				return goerr.Wrap(err, "failed to forget memory", goerr.V("id", id))
			}
			fmt.Fprintf(c.Root().Writer, "forgot %s\n", id)
			return nil
		},
	}
}
