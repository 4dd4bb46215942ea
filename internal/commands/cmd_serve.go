package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/printer"
	"github.com/hay-kot/weave/internal/styles"
	"github.com/hay-kot/weave/internal/weave"
)

type ServeCmd struct {
	flags *Flags

	quiet bool
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the message broker",
		UsageText: "weave serve [options]",
		Description: `Runs the broker until interrupted.

The broker listens for clients on TCP (default port 11023), answers
discovery queries on UDP (default port 23034) and serves Prometheus
metrics when metrics.addr is configured.

System applications and synonyms are read from the config file.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "quiet",
				Aliases:     []string{"q"},
				Usage:       "do not print the startup banner",
				Destination: &cmd.quiet,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config
	if cfg == nil {
		return fmt.Errorf("configuration not loaded")
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := weave.New(cfg, log.Logger)
	if err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}

	if !cmd.quiet {
		p := printer.Ctx(ctx)
		p.Printf("%s", styles.BannerStyle.Render(styles.Banner))
		p.Printf("%s", styles.DividerStyle.Render(strings.Repeat("─", 24)))
		p.KeyValue("broker", svc.BrokerAddr().String())
		if addr := svc.DiscoveryAddr(); addr != nil {
			p.KeyValue("discovery", addr.String())
		}
		if cfg.Metrics.Addr != "" {
			p.KeyValue("metrics", cfg.Metrics.Addr)
		}
		p.Printf("")
	}

	return svc.Serve(ctx)
}
