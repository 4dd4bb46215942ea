package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/weave/internal/client"
	"github.com/hay-kot/weave/internal/core/config"
	"github.com/hay-kot/weave/internal/core/wire"
)

// connFlags are shared by every command that talks to a running broker.
type connFlags struct {
	addr    string
	token   string
	session string
}

func (f *connFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Aliases:     []string{"a"},
			Usage:       "broker address (default: from config)",
			Sources:     cli.EnvVars("WEAVE_ADDR"),
			Destination: &f.addr,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "application token sent as AUTH",
			Sources:     cli.EnvVars("WEAVE_TOKEN"),
			Destination: &f.token,
		},
		&cli.StringFlag{
			Name:        "session",
			Usage:       "session id to use instead of the one the broker assigns",
			Destination: &f.session,
		},
	}
}

// resolveAddr returns the explicit address or the local broker from config.
func (f *connFlags) resolveAddr(cfg *config.Config) string {
	if f.addr != "" {
		return f.addr
	}

	port := config.DefaultBrokerPort
	host := "127.0.0.1"
	if cfg != nil {
		port = cfg.Broker.Port
		if cfg.Broker.Bind != "" && cfg.Broker.Bind != "0.0.0.0" && cfg.Broker.Bind != "::" {
			host = cfg.Broker.Bind
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (f *connFlags) dial(ctx context.Context, cfg *config.Config) (*client.Client, error) {
	var opts []client.Option
	if f.token != "" {
		opts = append(opts, client.WithToken(f.token))
	}
	if f.session != "" {
		opts = append(opts, client.WithSession(f.session))
	}
	return client.Dial(ctx, f.resolveAddr(cfg), opts...)
}

// parseHeaders turns KEY=VALUE pairs into a header map.
func parseHeaders(pairs []string, cookie string) (map[string]string, error) {
	headers := make(map[string]string, len(pairs)+1)
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid header %q, expected KEY=VALUE", pair)
		}
		headers[strings.ToUpper(k)] = v
	}
	if cookie != "" {
		headers[wire.HeaderCookie] = cookie
	}
	return headers, nil
}

// readBody returns the first of args, the named file, or stdin. The result
// must be valid JSON.
func readBody(args []string, file string) (json.RawMessage, error) {
	var data []byte
	switch {
	case len(args) >= 1:
		data = []byte(args[0])
	case file != "":
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		data = b
	default:
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		data = b
	}

	data = []byte(strings.TrimSpace(string(data)))
	if !json.Valid(data) {
		return nil, fmt.Errorf("body is not valid JSON")
	}
	return data, nil
}

// jsonArg passes valid JSON through and quotes anything else as a string.
func jsonArg(s string) json.RawMessage {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	data, _ := json.Marshal(s)
	return data
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
