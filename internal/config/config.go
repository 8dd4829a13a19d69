// Package config assembles one node's configuration surface behind a
// functional-options constructor. CLI flag parsing lives in
// cmd/swimring-agent, closer to where the flags are defined.
package config

import (
	"time"

	"github.com/swimring/swimring/internal/gossip"
	"github.com/swimring/swimring/internal/join"
	"github.com/swimring/swimring/internal/proxy"
	"github.com/swimring/swimring/internal/ring"
)

// Config is the fully-resolved configuration for one swimring node.
type Config struct {
	App      string
	HostPort string

	BootstrapFile  string
	BootstrapHosts []string
	VirtualNodes   int
	LogLevel       string
	StatsEnabled   bool
	DebugHTTPAddr  string

	ProxyRequestTimeout time.Duration
	SuspicionTimeout    time.Duration

	Gossip gossip.Config
	Join   join.Config
}

// DefaultSuspicionTimeout is how long a member stays suspect before
// being declared faulty.
const DefaultSuspicionTimeout = 5000 * time.Millisecond

// Option mutates a Config under construction.
type Option func(*Config)

// WithApp sets the application name used to namespace stats and logs.
func WithApp(app string) Option { return func(c *Config) { c.App = app } }

// WithHostPort sets this node's own address.
func WithHostPort(hostPort string) Option { return func(c *Config) { c.HostPort = hostPort } }

// WithBootstrapFile sets the JSON host-list file path consulted by
// internal/hostlist.
func WithBootstrapFile(path string) Option { return func(c *Config) { c.BootstrapFile = path } }

// WithBootstrapHosts sets the bootstrap host list directly, bypassing
// internal/hostlist's file loader.
func WithBootstrapHosts(hosts []string) Option {
	return func(c *Config) { c.BootstrapHosts = hosts }
}

// WithVirtualNodes overrides the ring's virtual-node count (default
// ring.DefaultVirtualNodes).
func WithVirtualNodes(n int) Option { return func(c *Config) { c.VirtualNodes = n } }

// WithLogLevel sets the zap level name ("debug", "info", "warn",
// "error").
func WithLogLevel(level string) Option { return func(c *Config) { c.LogLevel = level } }

// WithStats toggles the Prometheus sink and its /metrics endpoint.
func WithStats(enabled bool) Option { return func(c *Config) { c.StatsEnabled = enabled } }

// WithDebugHTTPAddr sets the listen address for the debug /status and
// /metrics endpoints; empty disables them.
func WithDebugHTTPAddr(addr string) Option { return func(c *Config) { c.DebugHTTPAddr = addr } }

// WithPingTimeout overrides the direct-ping timeout (default 1500ms).
func WithPingTimeout(d time.Duration) Option {
	return func(c *Config) { c.Gossip.PingTimeout = d }
}

// WithPingReqTimeout overrides the indirect-ping timeout (default
// 5000ms).
func WithPingReqTimeout(d time.Duration) Option {
	return func(c *Config) { c.Gossip.PingReqTimeout = d }
}

// WithPingReqSize overrides k, the indirect-ping fan-out size (default
// 3).
func WithPingReqSize(n int) Option { return func(c *Config) { c.Gossip.PingReqSize = n } }

// WithMinProtocolPeriod overrides the protocol period floor (default
// 200ms).
func WithMinProtocolPeriod(d time.Duration) Option {
	return func(c *Config) { c.Gossip.MinProtocolPeriod = d }
}

// WithJoinSize overrides the bootstrap fan-out size (default 3).
func WithJoinSize(n int) Option { return func(c *Config) { c.Join.JoinSize = n } }

// WithMaxJoinDuration overrides the bootstrap deadline (default
// 300000ms).
func WithMaxJoinDuration(d time.Duration) Option {
	return func(c *Config) { c.Join.MaxJoinDuration = d }
}

// WithProxyRequestTimeout overrides proxy_req_timeout (default
// 30000ms).
func WithProxyRequestTimeout(d time.Duration) Option {
	return func(c *Config) { c.ProxyRequestTimeout = d }
}

// WithSuspicionTimeout overrides suspicion_timeout (default 5000ms).
func WithSuspicionTimeout(d time.Duration) Option {
	return func(c *Config) { c.SuspicionTimeout = d }
}

// New builds a Config from its defaults plus opts, in order.
func New(opts ...Option) Config {
	c := Config{
		App:                 "swimring",
		VirtualNodes:        ring.DefaultVirtualNodes,
		LogLevel:            "info",
		StatsEnabled:        true,
		ProxyRequestTimeout: proxy.DefaultRequestTimeout,
		SuspicionTimeout:    DefaultSuspicionTimeout,
		Gossip:              gossip.DefaultConfig(),
		Join:                join.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
