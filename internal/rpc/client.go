package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// dialTimeout bounds how long establishing a new connection to a peer
// may take.
const dialTimeout = 5 * time.Second

// ClientPool lazily dials and caches one *grpc.ClientConn per peer
// address. The protocol has a single gRPC service, so one map suffices.
type ClientPool struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

// NewClientPool creates an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{conns: make(map[string]*grpc.ClientConn)}
}

func (p *ClientPool) get(addr string) (*grpc.ClientConn, error) {
	p.mu.RLock()
	conn, ok := p.conns[addr]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.conns[addr]; ok {
		return conn, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	conn, err := grpc.DialContext(ctx, addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("rpc: dial %s: %w", addr, err)
	}
	p.conns[addr] = conn
	return conn, nil
}

// Close tears down every cached connection.
func (p *ClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var firstErr error
	for addr, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("rpc: close %s: %w", addr, err)
		}
	}
	p.conns = make(map[string]*grpc.ClientConn)
	return firstErr
}

func invoke(ctx context.Context, conn *grpc.ClientConn, method string, req, reply interface{}) error {
	return conn.Invoke(ctx, "/"+ServiceName+"/"+method, req, reply, grpc.CallContentSubtype(codecName))
}
