package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name, kept stable so
// a hand-rolled ServiceDesc and a future protoc-generated one would be
// wire-compatible.
const ServiceName = "swimring.Membership"

// Handler answers the four protocol RPCs and the forwarding RPC
// server-side. The swimring facade implements it.
type Handler interface {
	HandleJoin(ctx context.Context, req JoinRequest) (JoinReply, error)
	HandlePing(ctx context.Context, req PingRequest) (PingReply, error)
	HandlePingReq(ctx context.Context, req PingReqRequest) (PingReqReply, error)
	HandleLeave(ctx context.Context, req LeaveRequest) (LeaveReply, error)
	HandleForward(ctx context.Context, req ForwardRequest) (ForwardReply, error)
}

func joinHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(JoinRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		reply, err := srv.(Handler).HandleJoin(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Join"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		reply, err := srv.(Handler).HandleJoin(ctx, *req.(*JoinRequest))
		return &reply, err
	}
	return interceptor(ctx, in, info, handler)
}

func pingHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		reply, err := srv.(Handler).HandlePing(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Ping"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		reply, err := srv.(Handler).HandlePing(ctx, *req.(*PingRequest))
		return &reply, err
	}
	return interceptor(ctx, in, info, handler)
}

func pingReqHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PingReqRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		reply, err := srv.(Handler).HandlePingReq(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/PingReq"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		reply, err := srv.(Handler).HandlePingReq(ctx, *req.(*PingReqRequest))
		return &reply, err
	}
	return interceptor(ctx, in, info, handler)
}

func leaveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LeaveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		reply, err := srv.(Handler).HandleLeave(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Leave"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		reply, err := srv.(Handler).HandleLeave(ctx, *req.(*LeaveRequest))
		return &reply, err
	}
	return interceptor(ctx, in, info, handler)
}

func forwardHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ForwardRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		reply, err := srv.(Handler).HandleForward(ctx, *in)
		return &reply, err
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Forward"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		reply, err := srv.(Handler).HandleForward(ctx, *req.(*ForwardRequest))
		return &reply, err
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would emit from a swimring.proto declaring Join, Ping, PingReq, Leave,
// and Forward as unary RPCs on the Membership service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Join", Handler: joinHandler},
		{MethodName: "Ping", Handler: pingHandler},
		{MethodName: "PingReq", Handler: pingReqHandler},
		{MethodName: "Leave", Handler: leaveHandler},
		{MethodName: "Forward", Handler: forwardHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "swimring.proto",
}
