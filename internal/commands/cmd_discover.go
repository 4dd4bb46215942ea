package commands

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/discovery"
	"github.com/hay-kot/weave/internal/printer"
)

type DiscoverCmd struct {
	flags *Flags

	target  string
	timeout time.Duration
	format  string
}

// NewDiscoverCmd creates a new discover command.
func NewDiscoverCmd(flags *Flags) *DiscoverCmd {
	return &DiscoverCmd{flags: flags}
}

// Register adds the discover command to the application.
func (cmd *DiscoverCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "discover",
		Usage:     "Locate a broker on the local network",
		UsageText: "weave discover [--target host:port]",
		Description: `Sends a discovery query over UDP and prints the broker address from
the reply. By default the query is broadcast on the discovery port.

An empty reply means the broker has no address on the querier's network.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "target",
				Usage:       "address to query (default: broadcast on the discovery port)",
				Destination: &cmd.target,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "how long to wait for a reply",
				Value:       3 * time.Second,
				Destination: &cmd.timeout,
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

func (cmd *DiscoverCmd) run(ctx context.Context, c *cli.Command) error {
	target := cmd.target
	if target == "" {
		port := config.DefaultDiscoveryPort
		if cmd.flags.Config != nil {
			port = cmd.flags.Config.Discovery.Port
		}
		target = net.JoinHostPort("255.255.255.255", strconv.Itoa(port))
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	reply, from, err := discovery.Discover(ctx, target)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}

	if cmd.format == "json" {
		return printJSON(c.Root().Writer, reply)
	}

	p := printer.Ctx(ctx)
	if reply.Host == "" {
		p.Warnf("Broker at %s has no address on this network", from)
		return cli.Exit("", 1)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, net.JoinHostPort(reply.Host, strconv.Itoa(reply.Port)))
	return nil
}
