// Package rpc implements the wire transport for the protocol messages
// (join, ping, ping-req, leave, forward) over gRPC. The service is
// defined with a hand-written grpc.ServiceDesc and a JSON codec rather
// than protoc-generated bindings, which keeps the wire layer free of a
// code-generation step while staying wire-compatible with a future
// generated client.
package rpc

import "github.com/swimring/swimring/internal/member"

// ChangeWire is the wire shape of a member.Change.
type ChangeWire struct {
	Address     string `json:"address"`
	Status      string `json:"status"`
	Incarnation int64  `json:"incarnation"`
}

// JoinRequest is the wire shape of join.Request.
type JoinRequest struct {
	Source      string `json:"source"`
	App         string `json:"app"`
	Incarnation int64  `json:"incarnation"`
}

// JoinReply is the wire shape of join.Reply. Rejected carries a
// protoerr.Type when the receiver refuses the join; it
// travels as reply data, never as a transport error.
type JoinReply struct {
	Membership []ChangeWire `json:"membership"`
	Rejected   string       `json:"rejected,omitempty"`
}

// PingRequest is the wire shape of gossip.PingRequest.
type PingRequest struct {
	Source   string       `json:"source"`
	Checksum uint32       `json:"checksum"`
	Changes  []ChangeWire `json:"changes"`
}

// PingReply is the wire shape of gossip.PingReply.
type PingReply struct {
	Changes []ChangeWire `json:"changes"`
}

// PingReqRequest is the wire shape of gossip.PingReqRequest.
type PingReqRequest struct {
	Source   string       `json:"source"`
	Target   string       `json:"target"`
	Checksum uint32       `json:"checksum"`
	Changes  []ChangeWire `json:"changes"`
}

// PingReqReply is the wire shape of gossip.PingReqReply.
type PingReqReply struct {
	Changes    []ChangeWire `json:"changes"`
	PingStatus bool         `json:"ping_status"`
	Target     string       `json:"target"`
}

// LeaveRequest is the wire shape of an admin leave notification.
type LeaveRequest struct {
	Source      string `json:"source"`
	Incarnation int64  `json:"incarnation"`
}

// LeaveReply acknowledges a leave notification. Rejected carries a
// protoerr.Type when the receiver refuses the leave.
type LeaveReply struct {
	Rejected string `json:"rejected,omitempty"`
}

// ForwardRequest carries a forwarded application request to the node
// owning its key.
type ForwardRequest struct {
	Source  string `json:"source"`
	Key     string `json:"key"`
	Payload []byte `json:"payload"`
}

// ForwardReply is the owning node's response to a forwarded request.
type ForwardReply struct {
	Payload []byte `json:"payload"`
}

// ToWire converts table changes to their wire shape.
func ToWire(changes []member.Change) []ChangeWire {
	out := make([]ChangeWire, 0, len(changes))
	for _, c := range changes {
		out = append(out, ChangeWire{Address: c.Address, Status: c.Status.String(), Incarnation: c.Incarnation})
	}
	return out
}

// FromWire converts wire changes back to table changes. The change
// kind is derived from the status; piggyback bookkeeping never crosses
// the wire.
func FromWire(wire []ChangeWire) []member.Change {
	out := make([]member.Change, 0, len(wire))
	for _, w := range wire {
		out = append(out, member.Change{
			Address:     w.Address,
			Status:      statusFromString(w.Status),
			Kind:        member.KindOf(statusFromString(w.Status)),
			Incarnation: w.Incarnation,
		})
	}
	return out
}

func statusFromString(s string) member.Status {
	switch s {
	case "suspect":
		return member.Suspect
	case "faulty":
		return member.Faulty
	case "leave":
		return member.Leave
	default:
		return member.Alive
	}
}
