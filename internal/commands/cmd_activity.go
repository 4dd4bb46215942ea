package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/printer"
	"github.com/hay-kot/weave/internal/store/jsonfile"
)

type ActivityCmd struct {
	flags *Flags

	limit  int
	since  time.Duration
	format string
}

// NewActivityCmd creates a new activity command
func NewActivityCmd(flags *Flags) *ActivityCmd {
	return &ActivityCmd{flags: flags}
}

// Register adds the activity command to the application
func (cmd *ActivityCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "activity",
		Usage:     "Show the broker's administrative journal",
		UsageText: "weave activity [options]",
		Description: `Lists recent channel creations and plugin and RPC registrations,
newest first. The journal is read from the data directory and can be
inspected while the broker is running.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "maximum entries to show (0 for all)",
				Value:       20,
				Destination: &cmd.limit,
			},
			&cli.DurationFlag{
				Name:        "since",
				Usage:       "only show entries newer than this (e.g. 1h)",
				Destination: &cmd.since,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ActivityCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	store := jsonfile.NewActivityStore(cmd.flags.Config.DataDir)

	var since time.Time
	if cmd.since > 0 {
		since = time.Now().Add(-cmd.since)
	}

	entries, err := store.ListSince(since, cmd.limit)
	if err != nil {
		return fmt.Errorf("list activity: %w", err)
	}

	if cmd.format == "json" {
		if entries == nil {
			entries = []activity.Activity{}
		}
		return printJSON(c.Root().Writer, entries)
	}

	if len(entries) == 0 {
		printer.Ctx(ctx).Infof("No activity recorded")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tTYPE\tAPP\tCHANNEL\tDETAIL")

	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Type,
			dash(e.AppID),
			dash(e.Channel),
			e.Detail,
		)
	}

	return w.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
