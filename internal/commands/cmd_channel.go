package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/core/auth"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/wire"
	"github.com/hay-kot/weave/internal/printer"
)

type ChannelCmd struct {
	flags *Flags
	conn  connFlags

	// push flags
	pushFile    string
	pushCookie  string
	pushHeaders []string

	// pop flags
	popCookie  string
	popHeaders []string
	popTimeout time.Duration
	popListen  bool

	// create flags
	createType           string
	createDescription    string
	createSchema         string
	createResponseSchema string
	createPushAuth       string
	createPopAuth        string
}

// NewChannelCmd creates a new channel command.
func NewChannelCmd(flags *Flags) *ChannelCmd {
	return &ChannelCmd{flags: flags}
}

// Register adds the channel command to the application.
func (cmd *ChannelCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:    "channel",
		Aliases: []string{"ch"},
		Usage:   "Push to, pop from and create broker channels",
		Description: `Channel commands talk to a running broker.

The broker address defaults to the local broker from the config file and can
be overridden with --addr or WEAVE_ADDR. Channels that require
authentication need --token or WEAVE_TOKEN.`,
		Flags: cmd.conn.flags(),
		Commands: []*cli.Command{
			cmd.pushCmd(),
			cmd.popCmd(),
			cmd.createCmd(),
		},
	})

	return app
}

func (cmd *ChannelCmd) pushCmd() *cli.Command {
	return &cli.Command{
		Name:      "push",
		Usage:     "Push a JSON message to a channel",
		UsageText: "weave channel push <channel> [json]",
		Description: `Pushes a message to the channel.

The body can be provided as:
- A command-line argument
- From a file with -f/--file
- From stdin if no argument is provided

Sessionized channels require --cookie.

Examples:
  weave channel push /home/lights '{"on":true}'
  echo '{"on":false}' | weave channel push /synonyms/lights
  weave channel push /plugins/hue/state -f state.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "read body from file",
				Destination: &cmd.pushFile,
			},
			&cli.StringFlag{
				Name:        "cookie",
				Usage:       "COOKIE header for sessionized channels",
				Destination: &cmd.pushCookie,
			},
			&cli.StringSliceFlag{
				Name:        "header",
				Aliases:     []string{"H"},
				Usage:       "extra header as KEY=VALUE (repeatable)",
				Destination: &cmd.pushHeaders,
			},
		},
		Action: cmd.runPush,
	}
}

func (cmd *ChannelCmd) popCmd() *cli.Command {
	return &cli.Command{
		Name:      "pop",
		Usage:     "Wait for a message from a channel",
		UsageText: "weave channel pop <channel> [--listen] [--timeout 30s]",
		Description: `Waits for a delivery and prints it as JSON.

By default exits after the first delivery. Use --listen to keep popping
until the timeout or an interrupt. A timeout of 0 waits forever.

Examples:
  weave channel pop /home/lights
  weave channel pop /home/events --listen --timeout 5m
  weave channel pop /plugins/hue/replies --cookie req-42`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "cookie",
				Usage:       "COOKIE header for sessionized channels",
				Destination: &cmd.popCookie,
			},
			&cli.StringSliceFlag{
				Name:        "header",
				Aliases:     []string{"H"},
				Usage:       "extra header as KEY=VALUE (repeatable)",
				Destination: &cmd.popHeaders,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "give up after this long (0 waits forever)",
				Value:       30 * time.Second,
				Destination: &cmd.popTimeout,
			},
			&cli.BoolFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "keep popping until the timeout",
				Destination: &cmd.popListen,
			},
		},
		Action: cmd.runPop,
	}
}

func (cmd *ChannelCmd) createCmd() *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a channel",
		UsageText: "weave channel create <name> --schema <json|@file> [options]",
		Description: `Creates a channel owned by the authenticated application.

Plugin channels are created under /plugins/<app-id>. The canonical name is
printed on success.

Authorizers accept a type name (allow_all, authenticated) or a JSON spec,
for example '{"type":"whitelist","urls":["system/core"]}'.

Examples:
  weave channel create lights --type fifo --schema '{"type":"object"}'
  weave channel create events --type multicast --schema @event.schema.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "type",
				Aliases:     []string{"t"},
				Usage:       "channel type (fifo, sessionized, multicast)",
				Value:       string(channel.KindFIFO),
				Destination: &cmd.createType,
			},
			&cli.StringFlag{
				Name:        "description",
				Aliases:     []string{"d"},
				Usage:       "human readable description",
				Destination: &cmd.createDescription,
			},
			&cli.StringFlag{
				Name:        "schema",
				Usage:       "JSON schema for pushed messages, inline or @file",
				Required:    true,
				Destination: &cmd.createSchema,
			},
			&cli.StringFlag{
				Name:        "response-schema",
				Usage:       "JSON schema for replies, inline or @file",
				Destination: &cmd.createResponseSchema,
			},
			&cli.StringFlag{
				Name:        "push-auth",
				Usage:       "authorizer for push",
				Destination: &cmd.createPushAuth,
			},
			&cli.StringFlag{
				Name:        "pop-auth",
				Usage:       "authorizer for pop",
				Destination: &cmd.createPopAuth,
			},
		},
		Action: cmd.runCreate,
	}
}

func channelArg(c *cli.Command) (string, error) {
	name := c.Args().First()
	if name == "" {
		return "", fmt.Errorf("channel name is required")
	}
	return name, nil
}

func (cmd *ChannelCmd) runPush(ctx context.Context, c *cli.Command) error {
	name, err := channelArg(c)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(cmd.pushHeaders, cmd.pushCookie)
	if err != nil {
		return err
	}

	body, err := readBody(c.Args().Tail(), cmd.pushFile)
	if err != nil {
		return err
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	if err := cl.Push(ctx, name, body, headers); err != nil {
		return fmt.Errorf("push %s: %w", name, err)
	}
	return nil
}

// delivery is the JSON shape printed for each received message.
type delivery struct {
	Channel string          `json:"channel"`
	Session string          `json:"session,omitempty"`
	Cookie  string          `json:"cookie,omitempty"`
	Sender  json.RawMessage `json:"sender,omitempty"`
	Body    json.RawMessage `json:"body"`
}

func toDelivery(m *wire.Message) delivery {
	d := delivery{Body: m.Body}
	d.Channel, _ = m.Header(wire.HeaderChannel)
	d.Session, _ = m.Header(wire.HeaderSession)
	d.Cookie, _ = m.Header(wire.HeaderCookie)
	if sender, ok := m.Header(wire.HeaderAuth); ok && json.Valid([]byte(sender)) {
		d.Sender = json.RawMessage(sender)
	}
	return d
}

func (cmd *ChannelCmd) runPop(ctx context.Context, c *cli.Command) error {
	name, err := channelArg(c)
	if err != nil {
		return err
	}

	headers, err := parseHeaders(cmd.popHeaders, cmd.popCookie)
	if err != nil {
		return err
	}

	if cmd.popTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.popTimeout)
		defer cancel()
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	enc := json.NewEncoder(c.Root().Writer)
	for {
		m, err := cl.PopWait(ctx, name, headers)
		if err != nil {
			if cmd.popListen && errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("pop %s: %w", name, err)
		}

		if err := enc.Encode(toDelivery(m)); err != nil {
			return err
		}

		if !cmd.popListen {
			return nil
		}
	}
}

func (cmd *ChannelCmd) runCreate(ctx context.Context, c *cli.Command) error {
	name, err := channelArg(c)
	if err != nil {
		return err
	}

	req := channel.CreateRequest{
		QueueName:   name,
		QueueType:   cmd.createType,
		Description: cmd.createDescription,
	}

	if req.RequestSchema, err = loadSchema(cmd.createSchema); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	if cmd.createResponseSchema != "" {
		if req.ResponseSchema, err = loadSchema(cmd.createResponseSchema); err != nil {
			return fmt.Errorf("response schema: %w", err)
		}
	}

	specs := map[string]string{string(auth.OpPush): cmd.createPushAuth, string(auth.OpPop): cmd.createPopAuth}
	for op, raw := range specs {
		if raw == "" {
			continue
		}
		spec, err := parseAuthSpec(raw)
		if err != nil {
			return fmt.Errorf("%s authorizer: %w", op, err)
		}
		if req.Authorizers == nil {
			req.Authorizers = make(map[string]auth.Spec)
		}
		req.Authorizers[op] = spec
	}

	cl, err := cmd.conn.dial(ctx, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer cl.Close() //nolint:errcheck

	created, err := cl.Create(ctx, req)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, created)
	printer.Ctx(ctx).Successf("Created %s channel %s", cmd.createType, created)
	return nil
}

// loadSchema reads an inline JSON schema or, with a leading "@", a file.
func loadSchema(s string) (json.RawMessage, error) {
	data := []byte(s)
	if path, ok := strings.CutPrefix(s, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data = b
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("not valid JSON")
	}
	return data, nil
}

// parseAuthSpec accepts a bare type name or a JSON spec.
func parseAuthSpec(s string) (auth.Spec, error) {
	if !strings.HasPrefix(strings.TrimSpace(s), "{") {
		return auth.Spec{Type: s}, nil
	}
	var spec auth.Spec
	if err := json.Unmarshal([]byte(s), &spec); err != nil {
		return spec, err
	}
	return spec, nil
}
