package broker

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/weave/internal/core/werr"
	"github.com/hay-kot/weave/internal/core/wire"
)

// conn is one client connection.
type conn struct {
	srv  *Server
	nc   net.Conn
	id   string
	log  zerolog.Logger
	mbox *mailbox

	pumpDone chan struct{}

	closeOnce sync.Once
}

func newConn(srv *Server, nc net.Conn, id string) *conn {
	log := srv.root.With().
		Str("component", "conn").
		Str("sess", id).
		Str("remote", nc.RemoteAddr().String()).
		Logger()

	return &conn{
		srv:      srv,
		nc:       nc,
		id:       id,
		log:      log,
		mbox:     newMailbox(),
		pumpDone: make(chan struct{}),
	}
}

func (c *conn) serve() {
	c.log.Debug().Msg("connection opened")
	go c.pump()

	r := wire.NewReader(c.nc, wire.WithMaxLineBytes(c.srv.cfg.MaxLineBytes))
	for {
		msg, err := r.Read()
		if err != nil {
			if c.recoverable(err) {
				c.reply(nil, err)
				continue
			}
			c.logReadError(err)
			break
		}

		c.handle(msg)
	}

	c.finish()
}

// recoverable reports whether the reader can continue after err. Malformed
// frames are consumed whole, so the stream stays in sync.
func (c *conn) recoverable(err error) bool {
	var we *werr.Error
	return errors.As(err, &we) && we.Kind == werr.KindProtocol
}

func (c *conn) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		c.log.Debug().Msg("connection closed")
	case errors.Is(err, wire.ErrLineTooLong):
		c.log.Warn().Msg("line too long, closing connection")
		c.mbox.post(wire.Exception(werr.Protocol("line too long")))
	default:
		c.log.Debug().Err(err).Msg("read failed")
	}
}

// pump is the only writer of the socket.
func (c *conn) pump() {
	defer close(c.pumpDone)

	w := wire.NewWriter(c.nc)
	failed := false
	for {
		batch, ok := c.mbox.take()
		if !ok {
			return
		}
		if failed {
			continue
		}

		for _, m := range batch {
			_ = c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := w.Write(m); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				failed = true
				// Unblock the reader so the connection is torn down.
				_ = c.nc.Close()
				break
			}
		}
	}
}

// finish runs once the read loop ends. Every pop this connection parked is
// owned by its assigned id whatever SESS the client sent, so purging by id
// releases exactly this connection's requestors. The purge happens before
// the mailbox closes so no further deliveries are routed here.
func (c *conn) finish() {
	c.srv.deps.Channels.RemoveRequestor(c.id)

	c.mbox.close()
	<-c.pumpDone
	c.closeSocket()

	c.srv.untrack(c)
	c.log.Debug().Msg("connection finished")
}

// stop is called during server shutdown. Queued replies, including the
// object-closed releases of parked pops, get a short window to flush before
// the socket is closed.
func (c *conn) stop() {
	c.mbox.close()
	select {
	case <-c.pumpDone:
	case <-time.After(drainTimeout):
	}
	c.closeSocket()
}

func (c *conn) closeSocket() {
	c.closeOnce.Do(func() {
		_ = c.nc.Close()
	})
}
