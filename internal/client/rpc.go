package client

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/hay-kot/weave/internal/core/wire"
	"github.com/hay-kot/weave/internal/rpc"
)

// Call invokes command on the RPC whose channels live under base and returns
// the raw result. Positional args are JSON encoded in order.
func (c *Client) Call(ctx context.Context, base, command string, args ...any) (json.RawMessage, error) {
	rawArgs := make([]json.RawMessage, 0, len(args))
	for i, a := range args {
		data, err := json.Marshal(a)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		rawArgs = append(rawArgs, data)
	}

	cookie := uuid.NewString()
	body, err := json.Marshal(rpc.Request{
		ID:         cookie,
		Invocation: rpc.Invocation{Command: command, Args: rawArgs},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	headers := map[string]string{wire.HeaderCookie: cookie}
	if err := c.Push(ctx, rpc.RequestChannelOf(base), body, headers); err != nil {
		return nil, err
	}

	m, err := c.PopWait(ctx, rpc.ResponseChannelOf(base), headers)
	if err != nil {
		return nil, err
	}

	var reply rpc.Reply
	if err := json.Unmarshal(m.Body, &reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	if err := reply.Err(); err != nil {
		return nil, err
	}
	return reply.Result, nil
}

// Admin calls the application manager.
func (c *Client) Admin(ctx context.Context, command string, out any, args ...any) error {
	result, err := c.Call(ctx, rpc.RegistryBase, command, args...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s result: %w", command, err)
	}
	return nil
}
