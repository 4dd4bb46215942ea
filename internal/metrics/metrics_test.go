package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/hay-kot/weave/internal/core/werr"
)

func TestBroker_NilIsNoop(t *testing.T) {
	var b *Broker
	assert.NotPanics(t, func() {
		b.ConnOpened()
		b.ConnClosed()
		b.ConnRejected()
		b.Operation("push", nil)
		b.Delivered()
		b.SetChannels(3)
	})
}

func TestBroker_Counts(t *testing.T) {
	b := NewBroker(prometheus.NewRegistry())

	b.ConnOpened()
	b.ConnOpened()
	b.ConnClosed()
	b.Operation("push", nil)
	b.Operation("push", werr.NotFound("/x"))
	b.Operation("push", werr.NotFound("/y"))
	b.SetChannels(4)

	assert.InDelta(t, 1, testutil.ToFloat64(b.connectionsActive), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(b.connectionsTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(b.operations.WithLabelValues("push", "ok")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(b.operations.WithLabelValues("push", "object-not-found")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(b.channels), 0)
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	r.Broker.ConnOpened()

	families, err := r.Prometheus().Gather()
	assert.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["weave_broker_connections_total"])
	assert.True(t, names["go_goroutines"])
}
