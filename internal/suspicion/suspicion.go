// Package suspicion implements the per-member suspicion timer registry:
// one timer per currently-suspect member, firing a synthetic faulty
// update on expiry. One clock.Timer per address rather than a single
// min-heap; the suspect set stays small at the cluster sizes this runs
// at.
package suspicion

import (
	"sync"
	"time"

	"github.com/swimring/swimring/internal/clock"
	"github.com/swimring/swimring/internal/member"
)

// Table is the minimal membership surface the suspicion service needs:
// applying a synthetic faulty update when a timer fires.
type Table interface {
	Update(updates []member.Update) []member.Change
}

// Service manages one deadline timer per suspect address.
type Service struct {
	mu       sync.Mutex
	timers   map[string]clock.Timer
	table    Table
	clock    clock.Clock
	timeout  time.Duration
	disabled bool
}

// New creates a suspicion service with the given suspicion_timeout.
func New(table Table, clk clock.Clock, timeout time.Duration) *Service {
	return &Service{
		timers:  make(map[string]clock.Timer),
		table:   table,
		clock:   clk,
		timeout: timeout,
	}
}

// Start begins (or restarts) the suspicion timer for m, cancelling any
// existing timer for the same address first.
func (s *Service) Start(m member.Member) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disabled {
		return
	}
	if t, ok := s.timers[m.Address]; ok {
		t.Stop()
	}

	addr := m.Address
	incarnation := m.Incarnation
	s.timers[addr] = s.clock.AfterFunc(s.timeout, func() {
		s.fire(addr, incarnation)
	})
}

func (s *Service) fire(addr string, incarnation int64) {
	s.mu.Lock()
	delete(s.timers, addr)
	s.mu.Unlock()

	s.table.Update([]member.Update{{Address: addr, Status: member.Faulty, Incarnation: incarnation}})
}

// Stop cancels the timer for address, a no-op if none exists.
func (s *Service) Stop(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[address]; ok {
		t.Stop()
		delete(s.timers, address)
	}
}

// StopAll cancels every outstanding timer (used by AdminLeave and
// Destroy) and halts new Start calls until Reenable.
func (s *Service) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, t := range s.timers {
		t.Stop()
		delete(s.timers, addr)
	}
	s.disabled = true
}

// Reenable permits Start to schedule new timers again after an
// adminLeave-triggered halt.
func (s *Service) Reenable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disabled = false
}

// Count reports how many suspicion timers are currently outstanding
// (test/debug use).
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
