// Package discovery answers LAN broadcast queries for the broker's address.
//
// A client broadcasts the ASCII payload QUERY to DefaultPort. The responder
// answers with the local IPv4 address that shares a subnet with the client,
// or with an empty object when none does.
package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultPort = 23034
	Query       = "QUERY"

	pollInterval = 100 * time.Millisecond
	maxDatagram  = 1024
)

// Reply is the answer to a query. Both fields are omitted when no local
// address is reachable from the peer.
type Reply struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
}

// AddrSource lists the host's IPv4 networks.
type AddrSource func() ([]*net.IPNet, error)

// InterfaceAddrs returns every IPv4 address assigned to a local interface.
func InterfaceAddrs() ([]*net.IPNet, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, fmt.Errorf("list interface addresses: %w", err)
	}

	nets := make([]*net.IPNet, 0, len(addrs))
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.To4() == nil {
			continue
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

// Config configures a Responder.
type Config struct {
	// Addr is the UDP listen address, e.g. ":23034".
	Addr string
	// BrokerPort is advertised in replies.
	BrokerPort int
	// Addrs defaults to InterfaceAddrs.
	Addrs AddrSource
}

// Responder serves discovery queries.
type Responder struct {
	cfg Config
	log zerolog.Logger

	mu      sync.Mutex
	conn    *net.UDPConn
	started bool
	running atomic.Bool
	done    chan struct{}
}

// New creates a responder. Call Listen, then Run.
func New(cfg Config, log zerolog.Logger) *Responder {
	if cfg.Addrs == nil {
		cfg.Addrs = InterfaceAddrs
	}
	return &Responder{
		cfg:  cfg,
		log:  log.With().Str("component", "discovery").Logger(),
		done: make(chan struct{}),
	}
}

// Listen binds the UDP socket.
func (r *Responder) Listen() error {
	addr, err := net.ResolveUDPAddr("udp4", r.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", r.cfg.Addr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Addr, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	r.running.Store(true)
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (r *Responder) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	return r.conn.LocalAddr()
}

// Run answers queries until ctx is cancelled or Stop is called.
func (r *Responder) Run(ctx context.Context) error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil || r.started {
		r.mu.Unlock()
		return errors.New("discovery: Run requires a single prior Listen")
	}
	r.started = true
	r.mu.Unlock()

	defer close(r.done)
	defer conn.Close()

	r.log.Info().Str("addr", conn.LocalAddr().String()).Msg("discovery listening")

	buf := make([]byte, maxDatagram)
	for r.running.Load() {
		if ctx.Err() != nil {
			return nil
		}

		_ = conn.SetReadDeadline(time.Now().Add(pollInterval))
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if !r.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("discovery read: %w", err)
		}

		if !bytes.Equal(buf[:n], []byte(Query)) {
			r.log.Debug().Str("peer", peer.String()).Int("bytes", n).Msg("ignoring datagram")
			continue
		}

		reply, err := r.Answer(peer.IP)
		if err != nil {
			r.log.Warn().Err(err).Msg("failed to list local addresses")
		}
		data, _ := json.Marshal(reply)
		if _, err := conn.WriteToUDP(data, peer); err != nil {
			r.log.Warn().Err(err).Str("peer", peer.String()).Msg("failed to answer query")
			continue
		}
		r.log.Debug().Str("peer", peer.String()).Str("host", reply.Host).Msg("answered query")
	}
	return nil
}

// Stop ends Run within one poll interval and waits for it to return.
func (r *Responder) Stop() {
	if !r.running.Swap(false) {
		return
	}

	r.mu.Lock()
	started := r.started
	if !started && r.conn != nil {
		_ = r.conn.Close()
	}
	r.mu.Unlock()

	if started {
		<-r.done
	}
}

// Answer picks the local address on the same subnet as peer. An empty Reply
// means no local network contains peer.
func (r *Responder) Answer(peer net.IP) (Reply, error) {
	nets, err := r.cfg.Addrs()
	if err != nil {
		return Reply{}, err
	}

	peer4 := peer.To4()
	if peer4 == nil {
		return Reply{}, nil
	}

	for _, n := range nets {
		if n.Contains(peer4) {
			return Reply{Host: n.IP.String(), Port: r.cfg.BrokerPort}, nil
		}
	}
	return Reply{}, nil
}

// Discover sends a query to target, typically the broadcast address, and
// waits for the first reply.
func Discover(ctx context.Context, target string) (Reply, net.Addr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", target)
	if err != nil {
		return Reply{}, nil, fmt.Errorf("resolve %s: %w", target, err)
	}

	lc := net.ListenConfig{Control: enableBroadcast}
	pc, err := lc.ListenPacket(ctx, "udp4", ":0")
	if err != nil {
		return Reply{}, nil, err
	}
	conn := pc.(*net.UDPConn)
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := conn.WriteToUDP([]byte(Query), raddr); err != nil {
		return Reply{}, nil, fmt.Errorf("send query: %w", err)
	}

	buf := make([]byte, maxDatagram)
	n, from, err := conn.ReadFromUDP(buf)
	if err != nil {
		if ctx.Err() != nil {
			return Reply{}, nil, ctx.Err()
		}
		return Reply{}, nil, fmt.Errorf("read reply: %w", err)
	}

	var reply Reply
	if err := json.Unmarshal(buf[:n], &reply); err != nil {
		return Reply{}, from, fmt.Errorf("decode reply: %w", err)
	}
	return reply, from, nil
}

// enableBroadcast sets SO_BROADCAST so queries to a broadcast address are
// not refused by the kernel.
func enableBroadcast(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
