package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/urfave/cli/v3"
)

type DocCmd struct {
	flags *Flags
}

func NewDocCmd(flags *Flags) *DocCmd {
	return &DocCmd{flags: flags}
}

func (cmd *DocCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "doc",
		Usage: "Protocol reference for plugin authors",
		Description: `Prints reference material for writing weave clients.

Use 'weave doc protocol' for the wire format and channel semantics.
Use 'weave doc rpc' for the application manager and RPC conventions.`,
		Commands: []*cli.Command{
			{
				Name:  "protocol",
				Usage: "Show the wire protocol reference",
				Action: func(_ context.Context, c *cli.Command) error {
					printProtocolGuide(c.Root().Writer)
					return nil
				},
			},
			{
				Name:  "rpc",
				Usage: "Show the RPC conventions",
				Action: func(_ context.Context, c *cli.Command) error {
					printRPCGuide(c.Root().Writer)
					return nil
				},
			},
		},
	})
	return app
}

func printProtocolGuide(w io.Writer) {
	guide := `# Weave Wire Protocol

## Framing

Clients connect over TCP (default port 11023). Every frame is a run of
"KEY VALUE" lines terminated by an empty line. The first line names the
operation and carries the protocol version:

` + "```" + `
push 1
C /home/lights
AUTH <token>
MSG {"on":true}

` + "```" + `

The MSG header holds the JSON body on a single line.

## Operations

| Operation | Direction | Purpose |
|-----------|-----------|---------|
| ` + "`push`" + ` | client | Send MSG to channel C |
| ` + "`pop`" + ` | client | Wait for the next message on channel C |
| ` + "`create`" + ` | client | Create a channel described by MSG |
| ` + "`result`" + ` | broker | Operation accepted (RES OK) |
| ` + "`inform`" + ` | broker | A delivery for an earlier pop |
| ` + "`exception`" + ` | broker | Operation failed (ERR kind, MSG detail) |

## Headers

| Header | Meaning |
|--------|---------|
| ` + "`C`" + ` | Channel name; /synonyms/<alias> names are translated |
| ` + "`SESS`" + ` | Session id; assigned per connection when omitted |
| ` + "`AUTH`" + ` | Application token on requests, sender identity on informs |
| ` + "`COOKIE`" + ` | Correlation id; required by sessionized channels |

## Channel Types

| Type | Behaviour |
|------|-----------|
| ` + "`fifo`" + ` | Each message goes to exactly one popper, in order |
| ` + "`sessionized`" + ` | Messages go to the popper holding the same COOKIE |
| ` + "`multicast`" + ` | Every subscriber except the sender gets each message |

Every pushed body is validated against the channel's request schema.
Plugins create channels under /plugins/<app-id>.

## Discovery

Broadcast the ASCII datagram QUERY to UDP port 23034. The broker answers
with {"host": "...", "port": 11023}, or {} when it has no address on your
network.
`
	_, _ = fmt.Fprintln(w, guide)
}

func printRPCGuide(w io.Writer) {
	guide := `# Weave RPC Conventions

## Application Manager

The broker runs an application manager on ` + "`/_system/registry/request`" + `
(fifo) and ` + "`/_system/registry/response`" + ` (sessionized). Push a request
with a COOKIE, then pop the response channel with the same COOKIE.

` + "```json" + `
{"id": "42", "invocation": {"command": "list_rpcs", "args": [], "kwargs": {}}}
` + "```" + `

Replies carry either a result or an error:

` + "```json" + `
{"id": "42", "result": [...]}
{"id": "42", "error": {"kind": "object-not-found", "message": "..."}}
` + "```" + `

## Commands

| Command | Arguments | Caller |
|---------|-----------|--------|
| ` + "`register_plugin`" + ` | app_id, name, url | system app |
| ` + "`unregister_plugin`" + ` | token | system app |
| ` + "`register_rpc`" + ` | name, description, apis | any app |
| ` + "`rpc_info`" + ` | app_url, rpc_name | any app |
| ` + "`list_rpcs`" + ` | | any app |

## Serving an RPC

` + "`register_rpc`" + ` returns the request and response queues. The owner pops
the request queue, runs the command and pushes the reply to the response
queue using the COOKIE of the request.

## Quick Reference

| Command | Description |
|---------|-------------|
| ` + "`weave rpc list`" + ` | List registered RPCs |
| ` + "`weave rpc info APP NAME`" + ` | Show an RPC's APIs |
| ` + "`weave rpc call APP NAME CMD ARGS...`" + ` | Invoke a command |
| ` + "`weave app register NAME --url URL`" + ` | Register a plugin |
`
	_, _ = fmt.Fprintln(w, guide)
}
