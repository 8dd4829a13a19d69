package rpc

import (
	"net"

	"google.golang.org/grpc"
)

// NewServer wraps handler in a *grpc.Server registered for the
// Membership service.
func NewServer(handler Handler) *grpc.Server {
	s := grpc.NewServer()
	s.RegisterService(&ServiceDesc, handler)
	return s
}

// Serve starts listening on addr and serves handler in a background
// goroutine, returning the grpc.Server so the caller can GracefulStop
// it and the listener's resolved address (useful when addr ends in
// ":0").
func Serve(addr string, handler Handler) (*grpc.Server, string, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	s := NewServer(handler)
	go func() {
		_ = s.Serve(lis)
	}()
	return s, lis.Addr().String(), nil
}
