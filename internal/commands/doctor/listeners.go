package doctor

import (
	"context"
	"fmt"
	"net"
	"time"
)

const dialTimeout = 500 * time.Millisecond

// ListenerCheck reports whether the broker's TCP address and the discovery
// UDP address can be bound. A TCP address already accepting connections is
// taken to be a running broker.
type ListenerCheck struct {
	brokerAddr    string
	discoveryAddr string
}

// NewListenerCheck creates a listener check. An empty discoveryAddr skips
// the UDP check.
func NewListenerCheck(brokerAddr, discoveryAddr string) *ListenerCheck {
	return &ListenerCheck{brokerAddr: brokerAddr, discoveryAddr: discoveryAddr}
}

func (c *ListenerCheck) Name() string {
	return "Listeners"
}

func (c *ListenerCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}
	result.Items = append(result.Items, c.checkBroker(ctx))
	if c.discoveryAddr != "" {
		result.Items = append(result.Items, c.checkDiscovery())
	}
	return result
}

func (c *ListenerCheck) checkBroker(ctx context.Context) CheckItem {
	label := "Broker " + c.brokerAddr

	ln, err := net.Listen("tcp", c.brokerAddr)
	if err == nil {
		_ = ln.Close()
		return CheckItem{Label: label, Status: StatusPass, Detail: "available"}
	}

	d := net.Dialer{Timeout: dialTimeout}
	conn, dialErr := d.DialContext(ctx, "tcp", dialable(c.brokerAddr))
	if dialErr == nil {
		_ = conn.Close()
		return CheckItem{Label: label, Status: StatusWarn, Detail: "in use, a broker may already be running"}
	}

	return CheckItem{Label: label, Status: StatusFail, Detail: err.Error()}
}

func (c *ListenerCheck) checkDiscovery() CheckItem {
	label := "Discovery " + c.discoveryAddr

	conn, err := net.ListenPacket("udp4", c.discoveryAddr)
	if err != nil {
		return CheckItem{Label: label, Status: StatusWarn, Detail: fmt.Sprintf("cannot bind: %v", err)}
	}
	_ = conn.Close()
	return CheckItem{Label: label, Status: StatusPass, Detail: "available"}
}

// dialable replaces an unspecified host with loopback.
func dialable(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
