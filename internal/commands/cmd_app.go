package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/printer"
)

type AppCmd struct {
	flags *Flags
	conn  connFlags

	registerID  string
	registerURL string
}

// NewAppCmd creates a new app command.
func NewAppCmd(flags *Flags) *AppCmd {
	return &AppCmd{flags: flags}
}

// Register adds the app command to the application.
func (cmd *AppCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "app",
		Usage: "Register and unregister plugin applications",
		Description: `Plugin management goes through the application manager and requires
a system application token (--token or WEAVE_TOKEN).`,
		Flags: cmd.conn.flags(),
		Commands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "Register a plugin and print its token",
				UsageText: "weave app register <name> --url <url> [--id <app-id>]",
				Description: `Registers a plugin. The token is printed on stdout and is the only
credential the plugin needs. The app id becomes the plugin's channel
namespace (/plugins/<app-id>) and is generated when omitted.

Examples:
  weave app register "Hue Bridge" --url plugins/hue --id hue`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "id",
						Usage:       "app id (default: generated)",
						Destination: &cmd.registerID,
					},
					&cli.StringFlag{
						Name:        "url",
						Usage:       "app url used by whitelist and pattern authorizers",
						Required:    true,
						Destination: &cmd.registerURL,
					},
				},
				Action: cmd.runRegister,
			},
			{
				Name:      "unregister",
				Usage:     "Revoke a plugin token",
				UsageText: "weave app unregister <token>",
				Action:    cmd.runUnregister,
			},
		},
	})

	return app
}

func (cmd *AppCmd) runRegister(ctx context.Context, c *cli.Command) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("plugin name is required")
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	var token string
	if err := cl.Admin(ctx, "register_plugin", &token, cmd.registerID, name, cmd.registerURL); err != nil {
		return fmt.Errorf("register plugin: %w", err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, token)
	printer.Ctx(ctx).Successf("Registered plugin %q", name)
	return nil
}

func (cmd *AppCmd) runUnregister(ctx context.Context, c *cli.Command) error {
	token := c.Args().First()
	if token == "" {
		return fmt.Errorf("token is required")
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	if err := cl.Admin(ctx, "unregister_plugin", nil, token); err != nil {
		return fmt.Errorf("unregister plugin: %w", err)
	}

	printer.Ctx(ctx).Successf("Plugin unregistered")
	return nil
}
