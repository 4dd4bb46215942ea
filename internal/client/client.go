// Package client speaks the broker's wire protocol.
//
// A Client is a thin synchronous wrapper around one connection and is not
// safe for concurrent use. Informs that arrive while waiting for the reply
// to another operation are buffered and returned by Receive.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
)

// Client is a broker connection.
type Client struct {
	nc    net.Conn
	r     *wire.Reader
	w     *wire.Writer
	token string
	sess  string

	pending []*wire.Message
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends token as AUTH on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithSession sends sess as SESS on every request instead of relying on the
// id the broker assigns.
func WithSession(sess string) Option {
	return func(c *Client) { c.sess = sess }
}

// Dial connects to the broker at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial broker: %w", err)
	}

	c := &Client{
		nc: nc,
		r:  wire.NewReader(nc),
		w:  wire.NewWriter(nc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.nc.Close()
}

// Session returns the session id in use. Before the first reply it is empty
// unless WithSession was given.
func (c *Client) Session() string {
	return c.sess
}

// Push sends body to the channel and waits for the broker to accept it.
func (c *Client) Push(ctx context.Context, name string, body json.RawMessage, headers map[string]string) error {
	m := wire.NewMessage(wire.OpPush, body)
	m.SetHeader(wire.HeaderChannel, name)
	for k, v := range headers {
		m.SetHeader(k, v)
	}

	_, err := c.roundTrip(ctx, m)
	return err
}

// Pop registers for a delivery from the channel without waiting for it.
// Deliveries are read with Receive.
func (c *Client) Pop(ctx context.Context, name string, headers map[string]string) error {
	m := wire.NewMessage(wire.OpPop, nil)
	m.SetHeader(wire.HeaderChannel, name)
	for k, v := range headers {
		m.SetHeader(k, v)
	}

	return c.withDeadline(ctx, func() error {
		return c.send(m)
	})
}

// PopWait pops and waits for the delivery.
func (c *Client) PopWait(ctx context.Context, name string, headers map[string]string) (*wire.Message, error) {
	if err := c.Pop(ctx, name, headers); err != nil {
		return nil, err
	}
	return c.Receive(ctx)
}

// Create asks the broker to create a channel and returns its canonical name.
func (c *Client) Create(ctx context.Context, req channel.CreateRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode create request: %w", err)
	}

	res, err := c.roundTrip(ctx, wire.NewMessage(wire.OpCreate, body))
	if err != nil {
		return "", err
	}
	name, _ := res.Header(wire.HeaderChannel)
	return name, nil
}

// Receive returns the next inform. An exception frame is returned as an
// error alongside the frame itself.
func (c *Client) Receive(ctx context.Context) (*wire.Message, error) {
	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		return m, m.Err()
	}

	var m *wire.Message
	err := c.withDeadline(ctx, func() error {
		var err error
		m, err = c.r.Read()
		return err
	})
	if err != nil {
		return nil, err
	}
	return m, m.Err()
}

// Send writes a raw frame, adding AUTH and SESS when configured.
func (c *Client) Send(ctx context.Context, m *wire.Message) error {
	return c.withDeadline(ctx, func() error {
		return c.send(m)
	})
}

func (c *Client) send(m *wire.Message) error {
	if c.token != "" {
		if _, ok := m.Header(wire.HeaderAuth); !ok {
			m.SetHeader(wire.HeaderAuth, c.token)
		}
	}
	if c.sess != "" {
		if _, ok := m.Header(wire.HeaderSession); !ok {
			m.SetHeader(wire.HeaderSession, c.sess)
		}
	}
	return c.w.Write(m)
}

// roundTrip sends m and reads until its result or exception arrives,
// buffering informs that come first.
func (c *Client) roundTrip(ctx context.Context, m *wire.Message) (*wire.Message, error) {
	var res *wire.Message
	err := c.withDeadline(ctx, func() error {
		if err := c.send(m); err != nil {
			return err
		}

		for {
			f, err := c.r.Read()
			if err != nil {
				return err
			}

			switch f.Operation {
			case wire.OpResult:
				res = f
				if c.sess == "" {
					c.sess, _ = f.Header(wire.HeaderSession)
				}
				return nil
			case wire.OpException:
				return f.Err()
			case wire.OpInform:
				c.pending = append(c.pending, f)
			default:
				return werr.BadOperation(string(f.Operation))
			}
		}
	})
	return res, err
}

// withDeadline applies ctx's deadline and cancellation to the socket for the
// duration of fn.
func (c *Client) withDeadline(ctx context.Context, fn func() error) error {
	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetDeadline(dl)
	} else {
		_ = c.nc.SetDeadline(time.Time{})
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Now())
	})
	defer stop()

	err := fn()
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	// The socket deadline can fire a moment before ctx notices its own.
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if _, ok := ctx.Deadline(); ok {
			<-ctx.Done()
			return ctx.Err()
		}
	}
	return err
}
