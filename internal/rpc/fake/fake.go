// Package fake provides an in-process stand-in for internal/rpc,
// routing the protocol RPCs directly to registered handlers
// instead of over a socket. It exists so internal/e2e can run
// multi-node scenarios deterministically, without binding real ports
// or tolerating real network flakiness.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/swimring/swimring/internal/gossip"
	"github.com/swimring/swimring/internal/join"
	"github.com/swimring/swimring/internal/protoerr"
	"github.com/swimring/swimring/internal/rpc"
)

// Network is a shared in-memory registry of node addresses to
// handlers. Every node in a test cluster registers itself once; each
// node then gets its own *Transport bound to the shared Network.
type Network struct {
	mu       sync.RWMutex
	handlers map[string]rpc.Handler
	// partitioned holds addresses that should appear unreachable from
	// every other node, used to simulate a crashed or unreachable peer.
	partitioned map[string]bool
}

// NewNetwork creates an empty shared network.
func NewNetwork() *Network {
	return &Network{handlers: make(map[string]rpc.Handler), partitioned: make(map[string]bool)}
}

// Register binds addr to handler. Re-registering an address replaces
// its handler.
func (n *Network) Register(addr string, handler rpc.Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[addr] = handler
}

// Unregister removes addr, so calls to it fail as if the process had
// exited.
func (n *Network) Unregister(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, addr)
}

// Partition marks addr unreachable from every peer until Heal is
// called, modelling a real network failure rather than a clean leave.
func (n *Network) Partition(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[addr] = true
}

// Heal clears a previously set partition.
func (n *Network) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.partitioned, addr)
}

func (n *Network) lookup(addr string) (rpc.Handler, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.partitioned[addr] {
		return nil, fmt.Errorf("fake: %s is partitioned", addr)
	}
	h, ok := n.handlers[addr]
	if !ok {
		return nil, fmt.Errorf("fake: no node registered at %s", addr)
	}
	return h, nil
}

// Transport implements gossip.Pinger and join.Joiner against a shared
// Network, used in place of internal/rpc.Transport in tests.
type Transport struct {
	net *Network
}

// NewTransport creates a Transport bound to net.
func NewTransport(net *Network) *Transport {
	return &Transport{net: net}
}

func (t *Transport) Ping(ctx context.Context, target string, req gossip.PingRequest) (gossip.PingReply, error) {
	h, err := t.net.lookup(target)
	if err != nil {
		return gossip.PingReply{}, err
	}
	reply, err := h.HandlePing(ctx, rpc.PingRequest{Source: req.Source, Checksum: req.Checksum, Changes: rpc.ToWire(req.Changes)})
	if err != nil {
		return gossip.PingReply{}, err
	}
	return gossip.PingReply{Changes: rpc.FromWire(reply.Changes)}, nil
}

func (t *Transport) PingReq(ctx context.Context, via string, req gossip.PingReqRequest) (gossip.PingReqReply, error) {
	h, err := t.net.lookup(via)
	if err != nil {
		return gossip.PingReqReply{}, err
	}
	reply, err := h.HandlePingReq(ctx, rpc.PingReqRequest{
		Source: req.Source, Target: req.Target, Checksum: req.Checksum, Changes: rpc.ToWire(req.Changes),
	})
	if err != nil {
		return gossip.PingReqReply{}, err
	}
	return gossip.PingReqReply{
		Changes:    rpc.FromWire(reply.Changes),
		PingStatus: reply.PingStatus,
		Target:     reply.Target,
	}, nil
}

func (t *Transport) Join(ctx context.Context, target string, req join.Request) (join.Reply, error) {
	h, err := t.net.lookup(target)
	if err != nil {
		return join.Reply{}, err
	}
	reply, err := h.HandleJoin(ctx, rpc.JoinRequest{Source: req.Source, App: req.App, Incarnation: req.Incarnation})
	if err != nil {
		return join.Reply{}, err
	}
	if reply.Rejected != "" {
		return join.Reply{}, protoerr.Error{Type: protoerr.Type(reply.Rejected)}
	}
	return join.Reply{Membership: rpc.FromWire(reply.Membership)}, nil
}

// Leave notifies target of a graceful departure, mirroring
// rpc.Transport.Leave.
func (t *Transport) Leave(ctx context.Context, target string, source string, incarnation int64) error {
	h, err := t.net.lookup(target)
	if err != nil {
		return err
	}
	_, err = h.HandleLeave(ctx, rpc.LeaveRequest{Source: source, Incarnation: incarnation})
	return err
}

// Forward routes a forwarded application request to target's handler.
func (t *Transport) Forward(ctx context.Context, target, source, key string, payload []byte) ([]byte, error) {
	h, err := t.net.lookup(target)
	if err != nil {
		return nil, err
	}
	reply, err := h.HandleForward(ctx, rpc.ForwardRequest{Source: source, Key: key, Payload: payload})
	if err != nil {
		return nil, err
	}
	return reply.Payload, nil
}
