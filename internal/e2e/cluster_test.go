// Package e2e runs multi-node protocol scenarios in-process over the
// fake transport, with a manually advanced clock, so membership
// convergence, failure detection, and leave propagation are exercised
// without sockets or sleeps.
package e2e

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/config"
	"github.com/swimring/swimring/internal/member"
	"github.com/swimring/swimring/internal/rpc/fake"
	"github.com/swimring/swimring/internal/swimring"
)

// cluster is an in-process test cluster: every node shares one fake
// network and one fake clock.
type cluster struct {
	t     *testing.T
	net   *fake.Network
	clk   *clock.Fake
	nodes []*swimring.Node
	addrs []string
}

func newCluster(t *testing.T, size int, opts ...config.Option) *cluster {
	t.Helper()

	c := &cluster{
		t:   t,
		net: fake.NewNetwork(),
		clk: clock.NewFake(time.Unix(1_700_000_000, 0)),
	}
	for i := 0; i < size; i++ {
		c.addrs = append(c.addrs, fmt.Sprintf("127.0.0.1:%d", 3000+i))
	}
	for _, addr := range c.addrs {
		cfgOpts := append([]config.Option{
			config.WithApp("e2e"),
			config.WithHostPort(addr),
			config.WithBootstrapHosts(c.addrs),
			// Keep the background scheduler effectively parked; tests
			// drive protocol periods by hand for determinism.
			config.WithMinProtocolPeriod(time.Hour),
		}, opts...)
		node := swimring.New(config.New(cfgOpts...), fake.NewTransport(c.net), c.clk, nil, nil)
		c.net.Register(addr, node)
		c.nodes = append(c.nodes, node)
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Destroy()
		}
	})
	return c
}

// bootstrap joins every node and parks its scheduler so ticks are
// manual from here on.
func (c *cluster) bootstrap() {
	c.t.Helper()
	for _, n := range c.nodes {
		require.NoError(c.t, n.Bootstrap(context.Background()))
		n.Gossip().Stop()
	}
}

// tick runs one protocol period on every node, in order.
func (c *cluster) tick() {
	for _, n := range c.nodes {
		n.Gossip().RunPeriod(context.Background())
	}
}

// converge ticks until every node's table checksum agrees, or the
// round budget runs out.
func (c *cluster) converge(rounds int) {
	c.t.Helper()
	for i := 0; i < rounds; i++ {
		c.tick()
		if c.agreed() {
			return
		}
	}
	require.True(c.t, c.agreed(), "cluster did not converge within %d rounds", rounds)
}

func (c *cluster) agreed() bool {
	first := c.nodes[0].Table().Checksum()
	for _, n := range c.nodes[1:] {
		if n.Table().Checksum() != first {
			return false
		}
	}
	return true
}

// requireRingMatchesAlive asserts the ring's server set is exactly the
// alive member set, on every node.
func (c *cluster) requireRingMatchesAlive() {
	c.t.Helper()
	for _, n := range c.nodes {
		alive := map[string]bool{}
		for _, m := range n.Table().Members() {
			if m.Status == member.Alive {
				alive[m.Address] = true
			}
		}
		onRing := n.Ring().Addresses()
		require.Len(c.t, onRing, len(alive), "node %s ring/table size mismatch", n.LocalAddress())
		for _, a := range onRing {
			require.True(c.t, alive[a], "node %s has non-alive %s on its ring", n.LocalAddress(), a)
		}
	}
}

func status(n *swimring.Node, addr string) (member.Status, int64, bool) {
	m, ok := n.Table().Get(addr)
	return m.Status, m.Incarnation, ok
}
