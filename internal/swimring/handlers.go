package swimring

import (
	"context"

	"go.uber.org/zap"

	"github.com/swimring/swimring/internal/dissemination"
	"github.com/swimring/swimring/internal/gossip"
	"github.com/swimring/swimring/internal/member"
	"github.com/swimring/swimring/internal/rpc"
)

// The receiving half of the protocol. Each handler merges whatever the
// caller piggybacked before answering, so dissemination rides on every
// inbound message, not just pings.

// HandleJoin answers a join RPC: validate the joiner, add it to the
// table, and return the full membership snapshot. Rejections travel as
// reply data, never as a transport error.
func (n *Node) HandleJoin(ctx context.Context, req rpc.JoinRequest) (rpc.JoinReply, error) {
	if n.State() == StateDestroyed {
		return rpc.JoinReply{}, ErrDestroyed
	}
	n.incr("join.recv")

	if req.Source == n.LocalAddress() {
		n.logger.Warn("rejecting join from self", zap.String("source", req.Source))
		return rpc.JoinReply{Rejected: string(InvalidJoinSource)}, nil
	}
	if req.App != n.cfg.App {
		n.logger.Warn("rejecting join from another app",
			zap.String("source", req.Source), zap.String("app", req.App))
		return rpc.JoinReply{Rejected: string(InvalidJoinApp)}, nil
	}

	n.table.AddMember(req.Source, req.Incarnation)
	return rpc.JoinReply{Membership: rpc.ToWire(n.fullState())}, nil
}

// HandlePing answers a direct ping: merge the caller's piggybacked
// changes, then reply with our own. On a checksum mismatch with an
// otherwise-empty buffer the full member state is substituted, the
// convergence path of last resort.
func (n *Node) HandlePing(ctx context.Context, req rpc.PingRequest) (rpc.PingReply, error) {
	if n.State() == StateDestroyed {
		return rpc.PingReply{}, ErrDestroyedWhilePinging
	}
	n.incr("ping.recv")

	n.table.Update(toUpdates(rpc.FromWire(req.Changes)))
	return rpc.PingReply{Changes: rpc.ToWire(n.outgoingChanges(req.Checksum))}, nil
}

// HandlePingReq performs an indirect ping on behalf of req.Source: it
// pings req.Target directly with its own ping timeout and reports
// whether the target answered.
func (n *Node) HandlePingReq(ctx context.Context, req rpc.PingReqRequest) (rpc.PingReqReply, error) {
	if n.State() == StateDestroyed {
		return rpc.PingReqReply{}, ErrDestroyedWhilePinging
	}
	n.incr("ping-req.recv")

	n.table.Update(toUpdates(rpc.FromWire(req.Changes)))

	pingCtx, cancel := context.WithTimeout(ctx, n.cfg.Gossip.PingTimeout)
	defer cancel()

	start := n.clock.Now()
	reply, err := n.transport.Ping(pingCtx, req.Target, gossip.PingRequest{
		Source:   n.LocalAddress(),
		Checksum: n.table.Checksum(),
		Changes:  n.outgoingChanges(req.Checksum),
	})
	n.observe("ping-req-ping", n.clock.Now().Sub(start))

	pingStatus := err == nil
	if pingStatus {
		n.table.Update(toUpdates(reply.Changes))
	} else {
		n.logger.Debug("ping-req child ping failed",
			zap.String("target", req.Target), zap.Error(err))
	}

	return rpc.PingReqReply{
		Changes:    rpc.ToWire(n.outgoingChanges(req.Checksum)),
		PingStatus: pingStatus,
		Target:     req.Target,
	}, nil
}

// HandleLeave acknowledges a graceful departure notice. The leave
// status also arrives via piggyback; the direct notice just shortens
// the window.
func (n *Node) HandleLeave(ctx context.Context, req rpc.LeaveRequest) (rpc.LeaveReply, error) {
	if n.State() == StateDestroyed {
		return rpc.LeaveReply{}, ErrDestroyed
	}
	if req.Source != "" {
		n.table.Update([]member.Update{{Address: req.Source, Status: member.Leave, Incarnation: req.Incarnation}})
	}
	return rpc.LeaveReply{}, nil
}

// HandleForward processes an application request forwarded here because
// this node owns its key.
func (n *Node) HandleForward(ctx context.Context, req rpc.ForwardRequest) (rpc.ForwardReply, error) {
	if n.State() == StateDestroyed {
		return rpc.ForwardReply{}, ErrDestroyed
	}
	payload, err := n.handleLocal(ctx, req.Key, req.Payload)
	if err != nil {
		return rpc.ForwardReply{}, err
	}
	return rpc.ForwardReply{Payload: payload}, nil
}

// outgoingChanges drains up to max_piggyback buffered changes for an
// outbound reply, falling back to full state when the peer's checksum
// disagrees with ours and the buffer is empty.
func (n *Node) outgoingChanges(remoteChecksum uint32) []member.Change {
	local := n.table.Checksum()
	return n.buffer.GetChanges(
		dissemination.MaxPiggyback(len(n.table.Members())),
		remoteChecksum, local, n.fullState,
	)
}

// fullState snapshots the whole table as changes, used for the
// checksum-mismatch fallback and the join reply.
func (n *Node) fullState() []member.Change {
	members := n.table.Members()
	out := make([]member.Change, 0, len(members))
	for _, m := range members {
		out = append(out, member.Change{
			Address:     m.Address,
			Status:      m.Status,
			Incarnation: m.Incarnation,
			Kind:        member.KindOf(m.Status),
		})
	}
	return out
}

func toUpdates(changes []member.Change) []member.Update {
	out := make([]member.Update, 0, len(changes))
	for _, c := range changes {
		out = append(out, member.Update{Address: c.Address, Status: c.Status, Incarnation: c.Incarnation})
	}
	return out
}
