package rpc

import (
	"context"

	"github.com/swimring/swimring/internal/gossip"
	"github.com/swimring/swimring/internal/join"
	"github.com/swimring/swimring/internal/protoerr"
)

// Transport adapts the ClientPool to the native request/reply types
// used by gossip.Pinger and join.Joiner, so neither package needs to
// know anything about gRPC.
type Transport struct {
	pool *ClientPool
}

// NewTransport creates a Transport with its own connection pool.
func NewTransport() *Transport {
	return &Transport{pool: NewClientPool()}
}

// Close tears down every pooled connection.
func (t *Transport) Close() error { return t.pool.Close() }

// Ping implements gossip.Pinger.
func (t *Transport) Ping(ctx context.Context, target string, req gossip.PingRequest) (gossip.PingReply, error) {
	conn, err := t.pool.get(target)
	if err != nil {
		return gossip.PingReply{}, err
	}
	wireReq := PingRequest{Source: req.Source, Checksum: req.Checksum, Changes: ToWire(req.Changes)}
	var wireReply PingReply
	if err := invoke(ctx, conn, "Ping", &wireReq, &wireReply); err != nil {
		return gossip.PingReply{}, err
	}
	return gossip.PingReply{Changes: FromWire(wireReply.Changes)}, nil
}

// PingReq implements gossip.Pinger.
func (t *Transport) PingReq(ctx context.Context, via string, req gossip.PingReqRequest) (gossip.PingReqReply, error) {
	conn, err := t.pool.get(via)
	if err != nil {
		return gossip.PingReqReply{}, err
	}
	wireReq := PingReqRequest{
		Source: req.Source, Target: req.Target, Checksum: req.Checksum, Changes: ToWire(req.Changes),
	}
	var wireReply PingReqReply
	if err := invoke(ctx, conn, "PingReq", &wireReq, &wireReply); err != nil {
		return gossip.PingReqReply{}, err
	}
	return gossip.PingReqReply{
		Changes:    FromWire(wireReply.Changes),
		PingStatus: wireReply.PingStatus,
		Target:     wireReply.Target,
	}, nil
}

// Join implements join.Joiner.
func (t *Transport) Join(ctx context.Context, target string, req join.Request) (join.Reply, error) {
	conn, err := t.pool.get(target)
	if err != nil {
		return join.Reply{}, err
	}
	wireReq := JoinRequest{Source: req.Source, App: req.App, Incarnation: req.Incarnation}
	var wireReply JoinReply
	if err := invoke(ctx, conn, "Join", &wireReq, &wireReply); err != nil {
		return join.Reply{}, err
	}
	if wireReply.Rejected != "" {
		return join.Reply{}, protoerr.Error{Type: protoerr.Type(wireReply.Rejected)}
	}
	return join.Reply{Membership: FromWire(wireReply.Membership)}, nil
}

// Leave notifies target of a graceful departure. Best-effort: the
// leave status also propagates via piggyback.
func (t *Transport) Leave(ctx context.Context, target string, source string, incarnation int64) error {
	conn, err := t.pool.get(target)
	if err != nil {
		return err
	}
	wireReq := LeaveRequest{Source: source, Incarnation: incarnation}
	var wireReply LeaveReply
	if err := invoke(ctx, conn, "Leave", &wireReq, &wireReply); err != nil {
		return err
	}
	if wireReply.Rejected != "" {
		return protoerr.Error{Type: protoerr.Type(wireReply.Rejected)}
	}
	return nil
}

// Forward sends a forwarded application request to the node owning its
// key and returns the owner's response payload.
func (t *Transport) Forward(ctx context.Context, target, source, key string, payload []byte) ([]byte, error) {
	conn, err := t.pool.get(target)
	if err != nil {
		return nil, err
	}
	wireReq := ForwardRequest{Source: source, Key: key, Payload: payload}
	var wireReply ForwardReply
	if err := invoke(ctx, conn, "Forward", &wireReq, &wireReply); err != nil {
		return nil, err
	}
	return wireReply.Payload, nil
}
