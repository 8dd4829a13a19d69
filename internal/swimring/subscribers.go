package swimring

import (
	"time"

	"github.com/swimring/swimring/internal/dissemination"
	"github.com/swimring/swimring/internal/member"
	"github.com/swimring/swimring/internal/ring"
	"github.com/swimring/swimring/internal/suspicion"
)

// ringSubscriber keeps the hash ring in sync with the membership
// table's liveness view: a server stays on the ring while merely
// suspected (still reachable, just being monitored) and is removed
// only once faulty or left.
type ringSubscriber struct {
	ring *ring.Ring
}

func (s ringSubscriber) OnNew(c member.Change)    { s.ring.AddServer(c.Address) }
func (s ringSubscriber) OnAlive(c member.Change)  { s.ring.AddServer(c.Address) }
func (s ringSubscriber) OnSuspect(member.Change)  {}
func (s ringSubscriber) OnFaulty(c member.Change) { s.ring.RemoveServer(c.Address) }
func (s ringSubscriber) OnLeave(c member.Change)  { s.ring.RemoveServer(c.Address) }

// suspicionSubscriber starts a suspicion timer on Suspect and cancels
// it on any resolution.
type suspicionSubscriber struct {
	service *suspicion.Service
}

func (s suspicionSubscriber) OnNew(member.Change) {}
func (s suspicionSubscriber) OnAlive(c member.Change) { s.service.Stop(c.Address) }
func (s suspicionSubscriber) OnSuspect(c member.Change) {
	s.service.Start(member.Member{Address: c.Address, Status: c.Status, Incarnation: c.Incarnation})
}
func (s suspicionSubscriber) OnFaulty(c member.Change) { s.service.Stop(c.Address) }
func (s suspicionSubscriber) OnLeave(c member.Change)  { s.service.Stop(c.Address) }

// disseminationSubscriber enqueues every change for piggyback.
type disseminationSubscriber struct {
	buffer *dissemination.Buffer
}

func (s disseminationSubscriber) OnNew(c member.Change)     { s.buffer.AddChange(c) }
func (s disseminationSubscriber) OnAlive(c member.Change)   { s.buffer.AddChange(c) }
func (s disseminationSubscriber) OnSuspect(c member.Change) { s.buffer.AddChange(c) }
func (s disseminationSubscriber) OnFaulty(c member.Change)  { s.buffer.AddChange(c) }
func (s disseminationSubscriber) OnLeave(c member.Change)   { s.buffer.AddChange(c) }

// statsSubscriber fires the membership-update.* counters and keeps the
// num-members gauge current.
type statsSubscriber struct {
	stats Stats
	table *member.Table
}

func (s statsSubscriber) onAny() {
	if s.stats == nil {
		return
	}
	s.stats.SetGauge("num-members", float64(len(s.table.Members())))
}

func (s statsSubscriber) OnNew(c member.Change) {
	s.incr("membership-update.new")
}
func (s statsSubscriber) OnAlive(c member.Change) {
	s.incr("membership-update.alive")
}
func (s statsSubscriber) OnSuspect(c member.Change) {
	s.incr("membership-update.suspect")
}
func (s statsSubscriber) OnFaulty(c member.Change) {
	s.incr("membership-update.faulty")
}
func (s statsSubscriber) OnLeave(c member.Change) {
	s.incr("membership-update.leave")
}

func (s statsSubscriber) incr(name string) {
	if s.stats == nil {
		return
	}
	s.stats.IncrCounter(name)
	s.stats.IncrCounter("updates")
	s.onAny()
}

// eventSubscriber fans committed changes out to the facade's public
// "changed" channel.
type eventSubscriber struct {
	notify func(member.Change)
}

func (s eventSubscriber) OnNew(c member.Change)     { s.notify(c) }
func (s eventSubscriber) OnAlive(c member.Change)   { s.notify(c) }
func (s eventSubscriber) OnSuspect(c member.Change) { s.notify(c) }
func (s eventSubscriber) OnFaulty(c member.Change)  { s.notify(c) }
func (s eventSubscriber) OnLeave(c member.Change)   { s.notify(c) }

// Stats is the subset of stats.Sink the facade depends on, kept as an
// interface so tests can assert on counters without a real Prometheus
// registry.
type Stats interface {
	IncrCounter(name string)
	ObserveTimer(name string, d time.Duration)
	SetGauge(name string, v float64)
}
