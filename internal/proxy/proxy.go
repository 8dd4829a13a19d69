// Package proxy implements the thin request-forwarding layer: given a
// key, find its ring owner and either handle it locally or forward the
// raw payload to the owner over a ForwardFunc. There is no read/write
// quorum; ownership is single-homed to the ring's current Lookup
// result.
package proxy

import (
	"context"
	"fmt"
	"time"

	"github.com/swimring/swimring/internal/ring"
)

// DefaultRequestTimeout bounds one forwarded application request.
const DefaultRequestTimeout = 30000 * time.Millisecond

// LocalHandler processes a request this node owns.
type LocalHandler func(ctx context.Context, key string, payload []byte) ([]byte, error)

// ForwardFunc sends payload to a remote owner and returns its
// response.
type ForwardFunc func(ctx context.Context, target string, key string, payload []byte) ([]byte, error)

// ErrNoOwner is returned when the ring has no servers at all.
var ErrNoOwner = fmt.Errorf("proxy: no owner for key, ring is empty")

// Proxy forwards a request to whichever node owns its key.
type Proxy struct {
	localAddr string
	ring      *ring.Ring
	local     LocalHandler
	forward   ForwardFunc
	timeout   time.Duration
}

// New creates a Proxy. timeout <= 0 uses DefaultRequestTimeout.
func New(localAddr string, r *ring.Ring, local LocalHandler, forward ForwardFunc, timeout time.Duration) *Proxy {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Proxy{localAddr: localAddr, ring: r, local: local, forward: forward, timeout: timeout}
}

// Handle looks up key's owner: if it's the local node, payload is
// handled in-process; otherwise it's forwarded over the configured
// ForwardFunc, bounded by proxy_req_timeout.
func (p *Proxy) Handle(ctx context.Context, key string, payload []byte) ([]byte, error) {
	owner, ok := p.ring.Lookup(key)
	if !ok {
		return nil, ErrNoOwner
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if owner == p.localAddr {
		return p.local(ctx, key, payload)
	}
	return p.forward(ctx, owner, key, payload)
}

// Owner reports which node currently owns key, without issuing a
// request.
func (p *Proxy) Owner(key string) (string, bool) {
	return p.ring.Lookup(key)
}
