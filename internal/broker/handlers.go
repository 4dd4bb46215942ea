package broker

import (
	"github.com/hay-kot/weave/internal/core/activity"
	"github.com/hay-kot/weave/internal/core/apps"
	"github.com/hay-kot/weave/internal/core/channel"
	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
)

// request is an inbound frame after preprocessing.
type request struct {
	msg      *wire.Message
	sess     string
	channel  string
	identity *apps.Identity
}

func (c *conn) handle(msg *wire.Message) {
	req, err := c.preprocess(msg)
	if err != nil {
		c.srv.deps.Metrics.Operation(string(msg.Operation), err)
		c.reply(req, err)
		return
	}

	switch msg.Operation {
	case wire.OpPush:
		err = c.push(req)
		if err == nil {
			c.reply(req, nil)
		}
	case wire.OpPop:
		// Pops are answered later by the channel through the mailbox.
		err = c.pop(req)
	case wire.OpCreate:
		err = c.create(req)
	default:
		err = werr.BadOperation(string(msg.Operation))
	}

	c.srv.deps.Metrics.Operation(string(msg.Operation), err)
	if err != nil {
		c.log.Debug().
			Str("op", string(msg.Operation)).
			Str("channel", req.channel).
			Str("kind", string(werr.KindOf(err))).
			Msg(werr.Detail(err))
		c.reply(req, err)
	}
}

// preprocess resolves the session, the caller's identity and the channel
// name. The returned request is usable for replies even on error.
func (c *conn) preprocess(msg *wire.Message) (*request, error) {
	req := &request{msg: msg, sess: c.id}

	if sess, ok := msg.Header(wire.HeaderSession); ok && sess != "" {
		req.sess = sess
	}

	if token, ok := msg.Header(wire.HeaderAuth); ok {
		id, err := c.srv.deps.Apps.Resolve(token)
		if err != nil {
			return req, werr.Authentication("unknown application token")
		}
		req.identity = id
	}

	if name, ok := msg.Header(wire.HeaderChannel); ok {
		req.channel = c.srv.deps.Synonyms.Translate(name)
	}

	return req, nil
}

// channelRequest builds what the channel sees: the client's headers with the
// token removed and the session and channel name resolved. Parked pops are
// owned by the connection, not by the client-chosen SESS.
func (c *conn) channelRequest(r *request) channel.Request {
	headers := make(map[string]string, len(r.msg.Headers))
	for k, v := range r.msg.Headers {
		if k == wire.HeaderAuth {
			continue
		}
		headers[k] = v
	}
	headers[wire.HeaderSession] = r.sess
	if r.channel != "" {
		headers[wire.HeaderChannel] = r.channel
	}

	return channel.Request{
		Body:      r.msg.Body,
		Headers:   headers,
		Identity:  r.identity,
		Requestor: c.id,
	}
}

func (c *conn) lookup(req *request) (channel.Channel, error) {
	if req.channel == "" {
		return nil, werr.Protocol("missing required header %s", wire.HeaderChannel)
	}
	return c.srv.deps.Channels.Get(req.channel)
}

func (c *conn) push(req *request) error {
	if !req.msg.HasBody() {
		return werr.Protocol("push requires a body")
	}
	ch, err := c.lookup(req)
	if err != nil {
		return err
	}
	return ch.Push(c.channelRequest(req))
}

func (c *conn) pop(req *request) error {
	ch, err := c.lookup(req)
	if err != nil {
		return err
	}
	return ch.Pop(c.channelRequest(req), c.deliverTo(req.channel))
}

// deliverTo wraps deliveries into inform frames. It runs under the channel
// lock and only posts to the mailbox.
func (c *conn) deliverTo(name string) channel.DeliverFunc {
	return func(d channel.Delivery) {
		var m *wire.Message
		if d.Err != nil {
			m = wire.Exception(d.Err)
		} else {
			m = wire.NewMessage(wire.OpInform, d.Body)
			m.SetHeader(wire.HeaderChannel, name)
		}
		for k, v := range d.Headers {
			m.SetHeader(k, v)
		}

		if c.mbox.post(m) {
			c.srv.deps.Metrics.Delivered()
		}
	}
}

func (c *conn) create(req *request) error {
	if req.identity == nil {
		return werr.Authentication("create requires an application token")
	}

	body, err := channel.ParseCreateRequest(req.msg.Body)
	if err != nil {
		return err
	}
	info, err := body.Info(req.identity)
	if err != nil {
		return err
	}

	if _, err := c.srv.deps.Channels.Create(info); err != nil {
		return err
	}
	c.srv.deps.Metrics.SetChannels(c.srv.deps.Channels.Len())

	c.log.Info().
		Str("channel", info.Name).
		Str("type", string(info.Kind)).
		Str("app", req.identity.AppID).
		Msg("channel created")

	if err := c.srv.deps.Activity.Record(activity.Activity{
		Type:      activity.TypeChannelCreate,
		Channel:   info.Name,
		AppID:     req.identity.AppID,
		SessionID: req.sess,
		Detail:    string(info.Kind),
	}); err != nil {
		c.log.Warn().Err(err).Msg("failed to record activity")
	}

	res := c.result(req)
	res.SetHeader(wire.HeaderChannel, info.Name)
	c.mbox.post(res)
	return nil
}

func (c *conn) result(req *request) *wire.Message {
	m := wire.NewMessage(wire.OpResult, nil)
	m.SetHeader(wire.HeaderResult, wire.ResultOK)
	m.SetHeader(wire.HeaderSession, req.sess)
	return m
}

// reply posts a result, or an exception when err is set. req may be nil for
// frames that could not be decoded.
func (c *conn) reply(req *request, err error) {
	sess := c.id
	if req != nil {
		sess = req.sess
	}

	var m *wire.Message
	if err != nil {
		m = wire.Exception(err)
		m.SetHeader(wire.HeaderSession, sess)
	} else {
		m = c.result(req)
	}
	c.mbox.post(m)
}
