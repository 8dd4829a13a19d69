// Package swimring is the node facade: it wires together the
// membership table, dissemination buffer, hash ring, suspicion service,
// gossip loop, and admin joiner into one lifecycle state machine
// {unstarted, joining, ready, leaving, destroyed}, and answers the
// protocol RPCs as an rpc.Handler.
package swimring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/config"
	"github.com/swimring/swimring/internal/dissemination"
	"github.com/swimring/swimring/internal/gossip"
	"github.com/swimring/swimring/internal/hostlist"
	"github.com/swimring/swimring/internal/join"
	"github.com/swimring/swimring/internal/member"
	"github.com/swimring/swimring/internal/proxy"
	"github.com/swimring/swimring/internal/ring"
	"github.com/swimring/swimring/internal/rpc"
	"github.com/swimring/swimring/internal/suspicion"
)

// State is one of the facade's lifecycle states.
type State int

const (
	StateUnstarted State = iota
	StateJoining
	StateReady
	StateLeaving
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateJoining:
		return "joining"
	case StateReady:
		return "ready"
	case StateLeaving:
		return "leaving"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Transport is everything the facade needs to talk to the rest of the
// cluster; internal/rpc.Transport and internal/rpc/fake.Transport both
// implement it.
type Transport interface {
	gossip.Pinger
	join.Joiner
	Leave(ctx context.Context, target string, source string, incarnation int64) error
	Forward(ctx context.Context, target, source, key string, payload []byte) ([]byte, error)
}

// Node is one swimring cluster member.
type Node struct {
	mu    sync.RWMutex
	state State

	cfg    config.Config
	clock  clock.Clock
	logger *zap.Logger
	stats  Stats

	table     *member.Table
	buffer    *dissemination.Buffer
	iterator  *member.Iterator
	ring      *ring.Ring
	suspicion *suspicion.Service
	loop      *gossip.Loop
	transport Transport
	proxy     *proxy.Proxy

	handlerMu sync.RWMutex
	handler   proxy.LocalHandler

	readyCh   chan struct{}
	readyOnce sync.Once
	changedCh chan member.Change
}

// New constructs a Node in the unstarted state. Call Bootstrap to join
// the cluster.
func New(cfg config.Config, transport Transport, clk clock.Clock, logger *zap.Logger, stats Stats) *Node {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table := member.New(cfg.HostPort, clk)
	buffer := dissemination.New()
	iterator := member.NewIterator(table)
	r := ring.New(cfg.VirtualNodes)
	susp := suspicion.New(tableUpdater{table}, clk, cfg.SuspicionTimeout)

	n := &Node{
		state:     StateUnstarted,
		cfg:       cfg,
		clock:     clk,
		logger:    logger,
		stats:     stats,
		table:     table,
		buffer:    buffer,
		iterator:  iterator,
		ring:      r,
		suspicion: susp,
		transport: transport,
		readyCh:   make(chan struct{}),
		changedCh: make(chan member.Change, 256),
	}

	table.Subscribe(ringSubscriber{ring: r})
	table.Subscribe(suspicionSubscriber{service: susp})
	table.Subscribe(disseminationSubscriber{buffer: buffer})
	table.Subscribe(statsSubscriber{stats: stats, table: table})
	table.Subscribe(eventSubscriber{notify: n.emitChanged})

	n.loop = gossip.New(table, buffer, iterator, transport, clk, cfg.Gossip, gossipStatsAdapter{stats}, logger)
	n.proxy = proxy.New(cfg.HostPort, r, n.handleLocal, n.forwardRemote, cfg.ProxyRequestTimeout)
	return n
}

func (n *Node) incr(name string) {
	if n.stats != nil {
		n.stats.IncrCounter(name)
	}
}

func (n *Node) observe(name string, d time.Duration) {
	if n.stats != nil {
		n.stats.ObserveTimer(name, d)
	}
}

// SetHandler registers the application callback invoked for requests
// whose key this node owns. Forwarded requests land here too.
func (n *Node) SetHandler(h proxy.LocalHandler) {
	n.handlerMu.Lock()
	n.handler = h
	n.handlerMu.Unlock()
}

func (n *Node) handleLocal(ctx context.Context, key string, payload []byte) ([]byte, error) {
	n.handlerMu.RLock()
	h := n.handler
	n.handlerMu.RUnlock()
	if h == nil {
		return nil, ErrNoHandler
	}
	return h(ctx, key, payload)
}

func (n *Node) forwardRemote(ctx context.Context, target, key string, payload []byte) ([]byte, error) {
	return n.transport.Forward(ctx, target, n.LocalAddress(), key, payload)
}

// Forward routes an application request to the node owning key,
// handling it in-process when that node is us.
func (n *Node) Forward(ctx context.Context, key string, payload []byte) ([]byte, error) {
	if n.State() != StateReady {
		return nil, ErrNotReady
	}
	return n.proxy.Handle(ctx, key, payload)
}

// tableUpdater adapts *member.Table to suspicion.Table.
type tableUpdater struct{ table *member.Table }

func (t tableUpdater) Update(updates []member.Update) []member.Change { return t.table.Update(updates) }

// gossipStatsAdapter adapts Stats to gossip.Stats (a strict subset).
type gossipStatsAdapter struct{ stats Stats }

func (a gossipStatsAdapter) IncrCounter(name string) {
	if a.stats != nil {
		a.stats.IncrCounter(name)
	}
}

func (a gossipStatsAdapter) ObserveTimer(name string, d time.Duration) {
	if a.stats != nil {
		a.stats.ObserveTimer(name, d)
	}
}

func (n *Node) emitChanged(c member.Change) {
	select {
	case n.changedCh <- c:
	default:
		n.logger.Warn("changed channel full, dropping event", zap.String("address", c.Address))
	}
}

// Ready returns a channel closed once Bootstrap succeeds.
func (n *Node) Ready() <-chan struct{} { return n.readyCh }

// Changed returns a channel of every committed membership change.
func (n *Node) Changed() <-chan member.Change { return n.changedCh }

// State reports the current lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// LocalAddress returns this node's own address.
func (n *Node) LocalAddress() string { return n.table.LocalAddress() }

// Bootstrap joins the cluster: resolve the host list (explicit array
// over explicit file over default file), add the local member, run the
// admin joiner, and on success start the gossip loop and mark the node
// ready.
func (n *Node) Bootstrap(ctx context.Context) error {
	n.mu.Lock()
	if n.state == StateReady {
		n.mu.Unlock()
		return ErrAlreadyReady
	}
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return ErrDestroyed
	}
	n.state = StateJoining
	n.mu.Unlock()

	hosts := n.cfg.BootstrapHosts
	if len(hosts) == 0 {
		loaded, err := hostlist.Load(n.cfg.BootstrapFile)
		if err != nil {
			return fmt.Errorf("swimring: bootstrap: %w", err)
		}
		hosts = loaded
	}
	if len(hosts) == 0 {
		return ErrNoBootstrapHosts
	}
	n.warnHostListShape(hosts)

	n.table.AddLocalMember()

	if err := join.Bootstrap(ctx, n.transport, hosts, n.LocalAddress(), n.cfg.App, n.table, n.cfg.Join); err != nil {
		return fmt.Errorf("swimring: bootstrap: %w", err)
	}

	n.mu.Lock()
	n.state = StateReady
	n.mu.Unlock()

	n.loop.Start()
	n.readyOnce.Do(func() { close(n.readyCh) })
	n.logger.Info("bootstrap complete", zap.String("address", n.LocalAddress()))
	return nil
}

// warnHostListShape logs a non-fatal warning if the local address is
// absent from hosts, or the list mixes IP literals with hostnames.
func (n *Node) warnHostListShape(hosts []string) {
	local := n.LocalAddress()
	present := false
	sawIP, sawHostname := false, false
	for _, h := range hosts {
		if h == local {
			present = true
		}
		if looksLikeIPHostPort(h) {
			sawIP = true
		} else {
			sawHostname = true
		}
	}
	if !present {
		n.logger.Warn("local address absent from bootstrap host list", zap.String("address", local))
	}
	if sawIP && sawHostname {
		n.logger.Warn("bootstrap host list mixes IP literals and hostnames")
	}
}

func looksLikeIPHostPort(hostPort string) bool {
	for i := 0; i < len(hostPort); i++ {
		c := hostPort[i]
		if c == ':' {
			break
		}
		if c == '.' {
			return true
		}
		if !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// AdminLeave gracefully removes the local node from the cluster: the
// local member is marked leave at a bumped incarnation, gossip and all
// suspicion timers stop, and the leave status propagates to peers via
// piggyback on any subsequent inbound protocol message.
func (n *Node) AdminLeave() error {
	local := n.table.Local()
	if local.Status == member.Leave {
		return ProtocolError{Type: RedundantLeave}
	}
	if local.Address == "" {
		return ProtocolError{Type: InvalidLeaveLocalMember}
	}

	n.mu.Lock()
	n.state = StateLeaving
	n.mu.Unlock()

	n.table.MakeLeave()
	n.loop.Stop()
	n.suspicion.StopAll()
	n.notifyLeave()
	return nil
}

// notifyLeave tells a few random peers about the departure directly.
// Best-effort: the leave status also rides piggyback on any later
// inbound message, so errors here are only logged.
func (n *Node) notifyLeave() {
	local := n.table.Local()
	peers := n.table.GetRandomPingableMembers(n.cfg.Join.JoinSize, nil)
	for _, p := range peers {
		p := p
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), n.cfg.Gossip.PingTimeout)
			defer cancel()
			if err := n.transport.Leave(ctx, p.Address, local.Address, local.Incarnation); err != nil {
				n.logger.Debug("leave notice failed", zap.String("peer", p.Address), zap.Error(err))
			}
		}()
	}
}

// Rejoin is the inverse of AdminLeave.
func (n *Node) Rejoin() {
	n.table.MakeAlive()
	n.suspicion.Reenable()
	n.loop.Start()

	n.mu.Lock()
	n.state = StateReady
	n.mu.Unlock()
}

// Lookup returns the address owning key: self if the ring is empty,
// otherwise the ring's owner.
func (n *Node) Lookup(key string) string {
	if n.stats != nil {
		n.stats.IncrCounter("lookup")
	}
	if owner, ok := n.ring.Lookup(key); ok {
		return owner
	}
	return n.LocalAddress()
}

// Destroy stops everything and marks the node destroyed. Idempotent.
func (n *Node) Destroy() {
	n.mu.Lock()
	if n.state == StateDestroyed {
		n.mu.Unlock()
		return
	}
	n.state = StateDestroyed
	n.mu.Unlock()

	n.loop.Stop()
	n.suspicion.StopAll()
}

// Ring exposes the node's hash ring for diagnostics.
func (n *Node) Ring() *ring.Ring { return n.ring }

// Gossip exposes the protocol loop so tests and operational tooling can
// drive a period by hand.
func (n *Node) Gossip() *gossip.Loop { return n.loop }

// Table exposes the node's membership table for diagnostics (the debug
// /status endpoint).
func (n *Node) Table() *member.Table { return n.table }

var _ rpc.Handler = (*Node)(nil)
