// Package gossip implements the protocol period scheduler: select a
// ping target, run a direct ping, fall back to k parallel indirect
// pings on failure, and reschedule the next period with an adaptively
// computed delay. It is the sending half of SWIM; the receiving half
// (the protocol-message handlers) lives in the swimring facade.
package gossip

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/dissemination"
	"github.com/swimring/swimring/internal/member"
)

// PingRequest is the outgoing direct-ping payload.
type PingRequest struct {
	Source   string
	Checksum uint32
	Changes  []member.Change
}

// PingReply is the direct-ping response.
type PingReply struct {
	Changes []member.Change
}

// PingReqRequest is the outgoing indirect-ping payload.
type PingReqRequest struct {
	Source   string
	Target   string
	Checksum uint32
	Changes  []member.Change
}

// PingReqReply is the indirect-ping response.
type PingReqReply struct {
	Changes    []member.Change
	PingStatus bool
	Target     string
}

// Pinger sends the two outbound protocol RPCs. The swimring facade
// implements it on top of internal/rpc.
type Pinger interface {
	Ping(ctx context.Context, target string, req PingRequest) (PingReply, error)
	PingReq(ctx context.Context, via string, req PingReqRequest) (PingReqReply, error)
}

// Stats receives the protocol counters and timers. A nil Stats is
// valid and simply discards everything.
type Stats interface {
	IncrCounter(name string)
	ObserveTimer(name string, d time.Duration)
}

// Config holds the timing constants this package owns.
type Config struct {
	PingTimeout       time.Duration
	PingReqTimeout    time.Duration
	PingReqSize       int
	MinProtocolPeriod time.Duration
}

// DefaultConfig returns the stock protocol timing constants.
func DefaultConfig() Config {
	return Config{
		PingTimeout:       1500 * time.Millisecond,
		PingReqTimeout:    5000 * time.Millisecond,
		PingReqSize:       3,
		MinProtocolPeriod: 200 * time.Millisecond,
	}
}

type noopStats struct{}

func (noopStats) IncrCounter(string)             {}
func (noopStats) ObserveTimer(string, time.Duration) {}

// Loop is the single-threaded cooperative protocol-period driver: at
// most one direct ping is in flight at a time (the isPinging guard),
// ping-req children run concurrently with each other but under one
// wall-clock deadline.
type Loop struct {
	table    *member.Table
	buffer   *dissemination.Buffer
	iterator *member.Iterator
	pinger   Pinger
	clock    clock.Clock
	cfg      Config
	stats    Stats
	logger   *zap.Logger

	rtt *rttHistogram

	mu                 sync.Mutex
	running            bool
	isPinging          bool
	firstTick          bool
	lastProtocolPeriod time.Time
	lastProtocolRate   time.Duration
	protocolPeriods    int

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a gossip loop. The suspicion service is not wired here:
// it subscribes to the membership table directly, started on OnSuspect
// and stopped on OnAlive/OnFaulty/OnLeave by an adapter in the
// swimring facade. stats may be nil.
func New(table *member.Table, buffer *dissemination.Buffer, iterator *member.Iterator, pinger Pinger, clk clock.Clock, cfg Config, stats Stats, logger *zap.Logger) *Loop {
	if stats == nil {
		stats = noopStats{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		table:     table,
		buffer:    buffer,
		iterator:  iterator,
		pinger:    pinger,
		clock:     clk,
		cfg:       cfg,
		stats:     stats,
		logger:    logger,
		rtt:       newRTTHistogram(128),
		firstTick: true,
	}
}

// Start begins the protocol-period loop and the 1Hz rate-refresh timer
// as two goroutines, both torn down by Stop.
func (l *Loop) Start() {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return
	}
	l.running = true
	l.stopCh = make(chan struct{})
	l.doneCh = make(chan struct{})
	l.mu.Unlock()

	go l.run()
	go l.refreshRateLoop()
}

// Stop halts the loop and waits for its goroutine to exit.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	stop := l.stopCh
	done := l.doneCh
	l.mu.Unlock()

	close(stop)
	<-done
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		delay := l.computeProtocolDelay()
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-l.stopCh:
			timer.Stop()
			return
		}
		l.RunPeriod(context.Background())
	}
}

func (l *Loop) refreshRateLoop() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.refreshRate()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Loop) refreshRate() {
	rate := 2 * l.rtt.P50()
	if rate < l.cfg.MinProtocolPeriod {
		rate = l.cfg.MinProtocolPeriod
	}
	l.mu.Lock()
	l.lastProtocolRate = rate
	l.mu.Unlock()
}

// computeProtocolDelay returns the sleep before the next period: the
// first tick returns a uniform random delay in [0, MinProtocolPeriod]
// to stagger a synchronised fleet; later ticks return
// max(lastProtocolPeriod + lastProtocolRate - now, MinProtocolPeriod).
func (l *Loop) computeProtocolDelay() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.firstTick {
		l.firstTick = false
		if l.cfg.MinProtocolPeriod <= 0 {
			return 0
		}
		return time.Duration(rand.Int63n(int64(l.cfg.MinProtocolPeriod) + 1))
	}

	rate := l.lastProtocolRate
	if rate < l.cfg.MinProtocolPeriod {
		rate = l.cfg.MinProtocolPeriod
	}
	delay := l.lastProtocolPeriod.Add(rate).Sub(l.clock.Now())
	if delay < l.cfg.MinProtocolPeriod {
		delay = l.cfg.MinProtocolPeriod
	}
	return delay
}

// RunPeriod executes one protocol period. It is exported so tests and
// "ping now" style callers can drive it directly without waiting on
// the real scheduler.
func (l *Loop) RunPeriod(ctx context.Context) {
	l.mu.Lock()
	if l.isPinging {
		l.mu.Unlock()
		return
	}
	l.isPinging = true
	l.lastProtocolPeriod = l.clock.Now()
	l.protocolPeriods++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.isPinging = false
		l.mu.Unlock()
	}()

	target, ok := l.iterator.Next()
	if !ok {
		return
	}
	l.runPeriodFor(ctx, target)
}

func (l *Loop) runPeriodFor(ctx context.Context, target string) {
	local := l.table.LocalAddress()
	checksum := l.table.Checksum()
	changes := l.buffer.GetChanges(maxPiggyback(l.clusterSize()), checksum, checksum, nil)

	pingCtx, cancel := context.WithTimeout(ctx, l.cfg.PingTimeout)
	start := l.clock.Now()
	reply, err := l.pinger.Ping(pingCtx, target, PingRequest{Source: local, Checksum: checksum, Changes: changes})
	cancel()

	l.stats.IncrCounter("ping.send")
	if err == nil {
		rtt := l.clock.Now().Sub(start)
		l.rtt.Add(rtt)
		l.stats.ObserveTimer("ping", rtt)
		l.table.Update(toUpdates(reply.Changes))
		return
	}

	l.logger.Debug("direct ping failed, trying indirect", zap.String("target", target), zap.Error(err))
	targetMember, _ := l.table.Get(target)
	l.indirectPing(ctx, target, targetMember.Incarnation, checksum, changes)
}

// indirectPing fans out to up to PingReqSize random members (excluding
// target) and resolves target's status from whether any of them
// reports success within PingReqTimeout.
func (l *Loop) indirectPing(ctx context.Context, target string, targetIncarnation int64, checksum uint32, changes []member.Change) {
	local := l.table.LocalAddress()
	helpers := l.table.GetRandomPingableMembers(l.cfg.PingReqSize, []string{target})

	if len(helpers) == 0 {
		l.table.Update([]member.Update{{Address: target, Status: member.Suspect, Incarnation: targetIncarnation}})
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, l.cfg.PingReqTimeout)
	defer cancel()

	fanOutStart := l.clock.Now()
	defer func() { l.stats.ObserveTimer("ping-req", l.clock.Now().Sub(fanOutStart)) }()

	type result struct {
		reply PingReqReply
		err   error
	}
	results := make(chan result, len(helpers))
	for _, h := range helpers {
		h := h
		l.stats.IncrCounter("ping-req.send")
		go func() {
			reply, err := l.pinger.PingReq(reqCtx, h.Address, PingReqRequest{
				Source: local, Target: target, Checksum: checksum, Changes: changes,
			})
			select {
			case results <- result{reply, err}:
			case <-reqCtx.Done():
			}
		}()
	}

	var anyAlive bool
	var merged []member.Change
	for i := 0; i < len(helpers); i++ {
		select {
		case r := <-results:
			if r.err == nil {
				l.stats.ObserveTimer("ping-req.other-members", l.clock.Now().Sub(fanOutStart))
				merged = append(merged, r.reply.Changes...)
				if r.reply.PingStatus {
					anyAlive = true
				}
			}
		case <-reqCtx.Done():
			i = len(helpers)
		}
	}

	if len(merged) > 0 {
		l.table.Update(toUpdates(merged))
	}

	if anyAlive {
		l.table.Update([]member.Update{{Address: target, Status: member.Alive, Incarnation: targetIncarnation}})
		return
	}
	l.logger.Info("no indirect ping reached target, marking suspect", zap.String("target", target))
	l.table.Update([]member.Update{{Address: target, Status: member.Suspect, Incarnation: targetIncarnation}})
}

func toUpdates(changes []member.Change) []member.Update {
	out := make([]member.Update, 0, len(changes))
	for _, c := range changes {
		out = append(out, member.Update{Address: c.Address, Status: c.Status, Incarnation: c.Incarnation})
	}
	return out
}

func (l *Loop) clusterSize() int {
	return len(l.table.Members())
}

// maxPiggyback is re-exported here so the gossip package doesn't need
// to import dissemination's internals beyond the buffer itself.
func maxPiggyback(clusterSize int) int {
	return dissemination.MaxPiggyback(clusterSize)
}

// ProtocolPeriods reports how many periods have run (test/debug use).
func (l *Loop) ProtocolPeriods() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.protocolPeriods
}
