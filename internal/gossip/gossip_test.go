package gossip

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/dissemination"
	"github.com/swimring/swimring/internal/member"
)

type fakePinger struct {
	mu         sync.Mutex
	pingErr    error
	pingReply  PingReply
	pingReqFor map[string]PingReqReply
	pingReqErr map[string]error
	pingCalls  int
}

func (f *fakePinger) Ping(ctx context.Context, target string, req PingRequest) (PingReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pingCalls++
	return f.pingReply, f.pingErr
}

func (f *fakePinger) PingReq(ctx context.Context, via string, req PingReqRequest) (PingReqReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.pingReqErr[via]; ok {
		return PingReqReply{}, err
	}
	return f.pingReqFor[via], nil
}

func newTestLoop(t *testing.T, pinger Pinger) (*Loop, *member.Table, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Unix(0, 0))
	table := member.New("local:1", clk)
	table.AddLocalMember()
	buf := dissemination.New()
	iter := member.NewIterator(table)
	cfg := DefaultConfig()
	cfg.MinProtocolPeriod = 10 * time.Millisecond
	loop := New(table, buf, iter, pinger, clk, cfg, nil, nil)
	return loop, table, clk
}

func TestLoop_ComputeProtocolDelay_FirstTickBounded(t *testing.T) {
	loop, _, _ := newTestLoop(t, &fakePinger{})
	d := loop.computeProtocolDelay()
	if d < 0 || d > loop.cfg.MinProtocolPeriod {
		t.Errorf("first-tick delay %v out of [0, %v]", d, loop.cfg.MinProtocolPeriod)
	}
}

func TestLoop_ComputeProtocolDelay_SubsequentUsesRate(t *testing.T) {
	loop, _, clk := newTestLoop(t, &fakePinger{})
	loop.firstTick = false
	loop.lastProtocolPeriod = clk.Now()
	loop.lastProtocolRate = 500 * time.Millisecond

	d := loop.computeProtocolDelay()
	if d != 500*time.Millisecond {
		t.Errorf("expected delay to equal the rate when no time has passed, got %v", d)
	}

	clk.Advance(500 * time.Millisecond)
	d = loop.computeProtocolDelay()
	if d != loop.cfg.MinProtocolPeriod {
		t.Errorf("expected delay to floor at MinProtocolPeriod once the period elapsed, got %v", d)
	}
}

func TestLoop_RunPeriod_DirectPingSuccess_RecordsRTTAndAppliesChanges(t *testing.T) {
	pinger := &fakePinger{
		pingReply: PingReply{Changes: []member.Change{
			{Address: "new-peer", Status: member.Alive, Incarnation: 1, Kind: member.ChangeNew},
		}},
	}
	loop, table, _ := newTestLoop(t, pinger)
	table.AddMember("target:1", 1)

	loop.RunPeriod(context.Background())

	if pinger.pingCalls != 1 {
		t.Fatalf("expected exactly one direct ping, got %d", pinger.pingCalls)
	}
	if _, ok := table.Get("new-peer"); !ok {
		t.Error("expected piggybacked change about new-peer to be applied")
	}
}

func TestLoop_RunPeriod_DirectPingFailure_IndirectSuccessMarksAlive(t *testing.T) {
	pinger := &fakePinger{
		pingErr: errors.New("timeout"),
		pingReqFor: map[string]PingReqReply{
			"helper:1": {PingStatus: true, Target: "target:1"},
		},
	}
	loop, table, _ := newTestLoop(t, pinger)
	table.AddMember("target:1", 1)
	table.AddMember("helper:1", 1)

	loop.RunPeriod(context.Background())

	m, ok := table.Get("target:1")
	if !ok || m.Status != member.Alive {
		t.Errorf("expected target:1 to remain alive, got %+v (ok=%v)", m, ok)
	}
}

func TestLoop_RunPeriod_DirectPingFailure_IndirectFailureMarksSuspect(t *testing.T) {
	pinger := &fakePinger{
		pingErr: errors.New("timeout"),
		pingReqErr: map[string]error{
			"helper:1": errors.New("no response"),
		},
	}
	loop, table, _ := newTestLoop(t, pinger)
	table.AddMember("target:1", 1)
	table.AddMember("helper:1", 1)

	loop.RunPeriod(context.Background())

	m, ok := table.Get("target:1")
	if !ok || m.Status != member.Suspect {
		t.Errorf("expected target:1 to become suspect, got %+v (ok=%v)", m, ok)
	}
}

func TestLoop_RunPeriod_NoHelpersAvailable_MarksSuspectDirectly(t *testing.T) {
	pinger := &fakePinger{pingErr: errors.New("timeout")}
	loop, table, _ := newTestLoop(t, pinger)
	table.AddMember("target:1", 1)

	loop.RunPeriod(context.Background())

	m, ok := table.Get("target:1")
	if !ok || m.Status != member.Suspect {
		t.Errorf("expected target:1 to become suspect with no helpers available, got %+v (ok=%v)", m, ok)
	}
}

func TestLoop_RunPeriod_EmptyTable_NoOp(t *testing.T) {
	loop, _, _ := newTestLoop(t, &fakePinger{})
	loop.RunPeriod(context.Background())
}

func TestLoop_StartStop_Idempotent(t *testing.T) {
	loop, table, _ := newTestLoop(t, &fakePinger{})
	table.AddMember("target:1", 1)

	loop.Start()
	loop.Start()
	time.Sleep(5 * time.Millisecond)
	loop.Stop()
	loop.Stop()
}

// slowPinger advances the fake clock by a fixed amount inside each
// Ping, simulating a constant round-trip time.
type slowPinger struct {
	clk *clock.Fake
	rtt time.Duration
}

func (p *slowPinger) Ping(ctx context.Context, target string, req PingRequest) (PingReply, error) {
	p.clk.Advance(p.rtt)
	return PingReply{}, nil
}

func (p *slowPinger) PingReq(ctx context.Context, via string, req PingReqRequest) (PingReqReply, error) {
	return PingReqReply{}, nil
}

func TestLoop_AdaptivePeriod_ConvergesToTwiceMedianRTT(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	table := member.New("local:1", clk)
	table.AddLocalMember()
	table.AddMember("target:1", 1)

	cfg := DefaultConfig()
	loop := New(table, dissemination.New(), member.NewIterator(table), &slowPinger{clk: clk, rtt: 400 * time.Millisecond}, clk, cfg, nil, nil)

	for i := 0; i < 20; i++ {
		loop.RunPeriod(context.Background())
	}
	loop.refreshRate()

	loop.mu.Lock()
	rate := loop.lastProtocolRate
	loop.firstTick = false
	loop.lastProtocolPeriod = clk.Now()
	loop.mu.Unlock()

	if rate != 800*time.Millisecond {
		t.Fatalf("expected the protocol rate to converge to 2*p50 = 800ms, got %v", rate)
	}
	if d := loop.computeProtocolDelay(); d != 800*time.Millisecond {
		t.Fatalf("expected the next delay to equal the converged rate, got %v", d)
	}
}

func TestLoop_AdaptivePeriod_FlooredAtMinimum(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	table := member.New("local:1", clk)
	table.AddLocalMember()
	table.AddMember("target:1", 1)

	loop := New(table, dissemination.New(), member.NewIterator(table), &slowPinger{clk: clk, rtt: 10 * time.Millisecond}, clk, DefaultConfig(), nil, nil)

	for i := 0; i < 10; i++ {
		loop.RunPeriod(context.Background())
	}
	loop.refreshRate()

	loop.mu.Lock()
	rate := loop.lastProtocolRate
	loop.mu.Unlock()
	if rate != loop.cfg.MinProtocolPeriod {
		t.Fatalf("expected the rate to floor at MinProtocolPeriod with fast RTTs, got %v", rate)
	}
}
