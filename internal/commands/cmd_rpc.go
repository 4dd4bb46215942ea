package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/printer"
	"github.com/hay-kot/weave/internal/rpc"
)

type RPCCmd struct {
	flags *Flags
	conn  connFlags

	registerDescription string
	registerAPIs        string
}

// NewRPCCmd creates a new rpc command.
func NewRPCCmd(flags *Flags) *RPCCmd {
	return &RPCCmd{flags: flags}
}

// Register adds the rpc command to the application.
func (cmd *RPCCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "rpc",
		Usage: "Inspect, register and call RPCs",
		Flags: cmd.conn.flags(),
		Commands: []*cli.Command{
			{
				Name:      "list",
				Aliases:   []string{"ls"},
				Usage:     "List registered RPCs",
				UsageText: "weave rpc list",
				Action:    cmd.runList,
			},
			{
				Name:      "info",
				Usage:     "Show an RPC's APIs and queues as JSON",
				UsageText: "weave rpc info <app-url> <name>",
				Action:    cmd.runInfo,
			},
			{
				Name:      "register",
				Usage:     "Register an RPC and print its queues",
				UsageText: "weave rpc register <name> --apis <json|@file>",
				Description: `Registers an RPC owned by the authenticated application.

The APIs document maps command names to their parameters:

  {"set": {"description": "Set the target",
           "params": [{"name": "celsius", "type": "number", "positional": true}]}}

Parameter types are text, number, toggle and object.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "description",
						Aliases:     []string{"d"},
						Usage:       "human readable description",
						Destination: &cmd.registerDescription,
					},
					&cli.StringFlag{
						Name:        "apis",
						Usage:       "API definitions, inline JSON or @file",
						Required:    true,
						Destination: &cmd.registerAPIs,
					},
				},
				Action: cmd.runRegister,
			},
			{
				Name:      "call",
				Usage:     "Invoke a command on an RPC",
				UsageText: "weave rpc call <app-url> <name> <command> [args...]",
				Description: `Calls command with positional arguments and prints the result.

Arguments that parse as JSON are sent as-is, anything else as a string.

Examples:
  weave rpc call plugins/nest thermostat set 21.5
  weave rpc call plugins/hue lights toggle kitchen true`,
				Action: cmd.runCall,
			},
		},
	})

	return app
}

func (cmd *RPCCmd) runList(ctx context.Context, c *cli.Command) error {
	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	var infos []rpc.Info
	if err := cl.Admin(ctx, "list_rpcs", &infos); err != nil {
		return fmt.Errorf("list rpcs: %w", err)
	}

	if len(infos) == 0 {
		printer.Ctx(ctx).Infof("No RPCs registered")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "APP\tNAME\tCOMMANDS\tREQUEST QUEUE")

	for _, info := range infos {
		commands := make([]string, 0, len(info.APIs))
		for name := range info.APIs {
			commands = append(commands, name)
		}
		sort.Strings(commands)

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			info.AppURL,
			info.Name,
			strings.Join(commands, ","),
			info.RequestQueue,
		)
	}

	return w.Flush()
}

func (cmd *RPCCmd) lookup(ctx context.Context, c *cli.Command) (rpc.Info, error) {
	var info rpc.Info
	if c.NArg() < 2 {
		return info, fmt.Errorf("app url and rpc name are required")
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return info, err
	}
	defer cl.Close() //nolint:errcheck

	if err := cl.Admin(ctx, "rpc_info", &info, c.Args().Get(0), c.Args().Get(1)); err != nil {
		return info, fmt.Errorf("rpc info: %w", err)
	}
	return info, nil
}

func (cmd *RPCCmd) runInfo(ctx context.Context, c *cli.Command) error {
	info, err := cmd.lookup(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(c.Root().Writer, info)
}

func (cmd *RPCCmd) runRegister(ctx context.Context, c *cli.Command) error {
	name := c.Args().First()
	if name == "" {
		return fmt.Errorf("rpc name is required")
	}

	raw, err := loadSchema(cmd.registerAPIs)
	if err != nil {
		return fmt.Errorf("apis: %w", err)
	}

	var apis map[string]rpc.API
	if err := json.Unmarshal(raw, &apis); err != nil {
		return fmt.Errorf("apis: %w", err)
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	var queues rpc.Queues
	if err := cl.Admin(ctx, "register_rpc", &queues, name, cmd.registerDescription, apis); err != nil {
		return fmt.Errorf("register rpc: %w", err)
	}

	return printJSON(c.Root().Writer, queues)
}

func (cmd *RPCCmd) runCall(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 3 {
		return fmt.Errorf("app url, rpc name and command are required")
	}

	info, err := cmd.lookup(ctx, c)
	if err != nil {
		return err
	}

	args := make([]any, 0, c.NArg()-3)
	for _, a := range c.Args().Slice()[3:] {
		args = append(args, jsonArg(a))
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	result, err := cl.Call(ctx, path.Dir(info.RequestQueue), c.Args().Get(2), args...)
	if err != nil {
		return fmt.Errorf("call %s: %w", c.Args().Get(2), err)
	}

	return printJSON(c.Root().Writer, result)
}
