// Command swimring-agent runs one swimring cluster member: it serves
// the membership protocol on -hostport, joins the cluster named by
// -hosts / -hosts-file, and exposes an operational HTTP surface
// (/status, /lookup, /proxy, /leave, /rejoin, /metrics) on -debug-http.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/config"
	"github.com/swimring/swimring/internal/logging"
	"github.com/swimring/swimring/internal/rpc"
	"github.com/swimring/swimring/internal/stats"
	"github.com/swimring/swimring/internal/swimring"
)

func main() {
	var (
		app              = flag.String("app", "swimring", "application name; joins are rejected across apps")
		hostPort         = flag.String("hostport", "127.0.0.1:3000", "address to serve the membership protocol on")
		hosts            = flag.String("hosts", "", "comma-separated bootstrap hosts (overrides -hosts-file)")
		hostsFile        = flag.String("hosts-file", "", "path to a JSON array of bootstrap hosts (default ./hosts.json)")
		debugHTTP        = flag.String("debug-http", "", "listen address for /status, /lookup, /proxy and /metrics; empty disables")
		logLevel         = flag.String("log-level", "info", "zap level: debug, info, warn, error")
		dev              = flag.Bool("dev", false, "human-readable console logging")
		minPeriod        = flag.Duration("min-protocol-period", 200*time.Millisecond, "protocol period floor")
		pingTimeout      = flag.Duration("ping-timeout", 1500*time.Millisecond, "direct ping deadline")
		suspicionTimeout = flag.Duration("suspicion-timeout", 5*time.Second, "suspect-to-faulty deadline")
		maxJoinDuration  = flag.Duration("max-join-duration", 300*time.Second, "bootstrap deadline")
		vnodes           = flag.Int("vnodes", 0, "virtual nodes per server on the hash ring (0 = default)")
	)
	flag.Parse()

	if err := run(agentOptions{
		app: *app, hostPort: *hostPort, hosts: *hosts, hostsFile: *hostsFile,
		debugHTTP: *debugHTTP, logLevel: *logLevel, dev: *dev,
		minPeriod: *minPeriod, pingTimeout: *pingTimeout,
		suspicionTimeout: *suspicionTimeout, maxJoinDuration: *maxJoinDuration,
		vnodes: *vnodes,
	}); err != nil {
		fmt.Fprintln(os.Stderr, "swimring-agent:", err)
		os.Exit(1)
	}
}

type agentOptions struct {
	app, hostPort, hosts, hostsFile, debugHTTP, logLevel string
	dev                                                  bool
	minPeriod, pingTimeout, suspicionTimeout             time.Duration
	maxJoinDuration                                      time.Duration
	vnodes                                               int
}

func run(opts agentOptions) error {
	var logger *zap.Logger
	var err error
	if opts.dev {
		logger, err = logging.NewDevelopment(opts.app, opts.hostPort)
	} else {
		logger, err = logging.New(opts.app, opts.hostPort, opts.logLevel)
	}
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	cfgOpts := []config.Option{
		config.WithApp(opts.app),
		config.WithHostPort(opts.hostPort),
		config.WithLogLevel(opts.logLevel),
		config.WithMinProtocolPeriod(opts.minPeriod),
		config.WithPingTimeout(opts.pingTimeout),
		config.WithSuspicionTimeout(opts.suspicionTimeout),
		config.WithMaxJoinDuration(opts.maxJoinDuration),
		config.WithDebugHTTPAddr(opts.debugHTTP),
	}
	if opts.hosts != "" {
		cfgOpts = append(cfgOpts, config.WithBootstrapHosts(splitHosts(opts.hosts)))
	}
	if opts.hostsFile != "" {
		cfgOpts = append(cfgOpts, config.WithBootstrapFile(opts.hostsFile))
	}
	if opts.vnodes > 0 {
		cfgOpts = append(cfgOpts, config.WithVirtualNodes(opts.vnodes))
	}
	cfg := config.New(cfgOpts...)

	var sink *stats.Sink
	var nodeStats swimring.Stats
	if cfg.StatsEnabled {
		sink = stats.New(cfg.App, cfg.HostPort)
		nodeStats = sink
	}
	transport := rpc.NewTransport()
	defer transport.Close()

	node := swimring.New(cfg, transport, clock.New(), logger, nodeStats)

	// Default application handler: echo the payload back along with the
	// address that handled it, enough to observe forwarding end to end.
	node.SetHandler(func(ctx context.Context, key string, payload []byte) ([]byte, error) {
		resp := map[string]string{"key": key, "handledBy": cfg.HostPort, "payload": string(payload)}
		return json.Marshal(resp)
	})

	go func() {
		for c := range node.Changed() {
			logger.Debug("membership changed",
				zap.String("member", c.Address),
				zap.String("kind", c.Kind.String()),
				zap.Int64("incarnation", c.Incarnation))
		}
	}()

	server, boundAddr, err := rpc.Serve(cfg.HostPort, node)
	if err != nil {
		return fmt.Errorf("serve protocol on %s: %w", cfg.HostPort, err)
	}
	defer server.GracefulStop()
	logger.Info("protocol listener up", zap.String("addr", boundAddr))

	if cfg.DebugHTTPAddr != "" {
		go serveDebug(cfg.DebugHTTPAddr, node, sink, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("ready", zap.Int("members", len(node.Table().Members())))

	<-ctx.Done()
	logger.Info("shutting down")
	node.Destroy()
	return nil
}

func splitHosts(s string) []string {
	var out []string
	for _, h := range strings.Split(s, ",") {
		if h = strings.TrimSpace(h); h != "" {
			out = append(out, h)
		}
	}
	return out
}

type statusMember struct {
	Address     string `json:"address"`
	Status      string `json:"status"`
	Incarnation int64  `json:"incarnation"`
}

type statusReply struct {
	Address  string         `json:"address"`
	State    string         `json:"state"`
	Checksum uint32         `json:"checksum"`
	Members  []statusMember `json:"members"`
	Ring     []string       `json:"ring"`
}

func serveDebug(addr string, node *swimring.Node, sink *stats.Sink, logger *zap.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		reply := statusReply{
			Address:  node.LocalAddress(),
			State:    node.State().String(),
			Checksum: node.Table().Checksum(),
			Ring:     node.Ring().Addresses(),
		}
		for _, m := range node.Table().Members() {
			reply.Members = append(reply.Members, statusMember{
				Address: m.Address, Status: m.Status.String(), Incarnation: m.Incarnation,
			})
		}
		sort.Slice(reply.Members, func(i, j int) bool { return reply.Members[i].Address < reply.Members[j].Address })
		sort.Strings(reply.Ring)
		writeJSON(w, reply)
	})

	mux.HandleFunc("/lookup", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		writeJSON(w, map[string]string{"key": key, "owner": node.Lookup(key)})
	})

	mux.HandleFunc("/proxy", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		payload, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp, err := node.Forward(r.Context(), key, payload)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(resp)
	})

	mux.HandleFunc("/leave", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if err := node.AdminLeave(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, map[string]string{"state": node.State().String()})
	})

	mux.HandleFunc("/rejoin", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		node.Rejoin()
		writeJSON(w, map[string]string{"state": node.State().String()})
	})

	if sink != nil {
		mux.Handle("/metrics", sink.Handler())
	}

	logger.Info("debug listener up", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Warn("debug listener exited", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
