// Package member implements the membership table: the authoritative
// address -> Member map, the supersession rule that decides whether an
// incoming change replaces the stored state, and the local-member
// refutation path. Table storage (this file), event subscription, and
// the ping iterator (iterator.go) are kept as separate concerns.
package member

import (
	"hash/crc32"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/swimring/swimring/internal/clock"
)

// Status is a member's liveness state. Precedence for tie-breaking
// same-incarnation updates is Faulty > Suspect > Alive > Leave.
type Status int

const (
	Alive Status = iota
	Suspect
	Faulty
	Leave
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Suspect:
		return "suspect"
	case Faulty:
		return "faulty"
	case Leave:
		return "leave"
	default:
		return "unknown"
	}
}

// precedence orders statuses for same-incarnation tie-breaking: higher
// wins. Leave is lowest so that a same-incarnation leave never
// overrides a liveness downgrade already applied.
func (s Status) precedence() int {
	switch s {
	case Faulty:
		return 3
	case Suspect:
		return 2
	case Alive:
		return 1
	case Leave:
		return 0
	default:
		return -1
	}
}

// Member is a single entry in the membership table.
type Member struct {
	Address     string
	Status      Status
	Incarnation int64
}

// ChangeKind tags the kind of update a Change carries.
type ChangeKind int

const (
	ChangeAlive ChangeKind = iota
	ChangeSuspect
	ChangeFaulty
	ChangeLeave
	ChangeNew
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAlive:
		return "alive"
	case ChangeSuspect:
		return "suspect"
	case ChangeFaulty:
		return "faulty"
	case ChangeLeave:
		return "leave"
	case ChangeNew:
		return "new"
	default:
		return "unknown"
	}
}

// Change is the event record emitted by the table and consumed by the
// dissemination buffer.
type Change struct {
	Address        string
	Status         Status
	Incarnation    int64
	Kind           ChangeKind
	PiggybackCount int
}

// Subscriber receives membership events. The facade, the ring, the
// suspicion service, and the dissemination buffer each implement it.
type Subscriber interface {
	OnAlive(c Change)
	OnSuspect(c Change)
	OnFaulty(c Change)
	OnLeave(c Change)
	OnNew(c Change)
}

func notify(s Subscriber, c Change) {
	switch c.Kind {
	case ChangeNew:
		s.OnNew(c)
	case ChangeAlive:
		s.OnAlive(c)
	case ChangeSuspect:
		s.OnSuspect(c)
	case ChangeFaulty:
		s.OnFaulty(c)
	case ChangeLeave:
		s.OnLeave(c)
	}
}

// Update is an incoming change request, shaped identically to Change
// minus the piggyback bookkeeping; it's what callers hand to Update().
type Update struct {
	Address     string
	Status      Status
	Incarnation int64
}

// Table is the membership table for one local node.
type Table struct {
	mu          sync.RWMutex
	localAddr   string
	members     map[string]*Member
	subscribers []Subscriber
	clock       clock.Clock
}

// New creates an empty membership table for the node at localAddr.
func New(localAddr string, clk clock.Clock) *Table {
	return &Table{
		localAddr: localAddr,
		members:   make(map[string]*Member),
		clock:     clk,
	}
}

// Subscribe registers s to receive every future Change emitted by the
// table. Subscription is not retroactive.
func (t *Table) Subscribe(s Subscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subscribers = append(t.subscribers, s)
}

// LocalAddress returns the address of the local member.
func (t *Table) LocalAddress() string { return t.localAddr }

// AddLocalMember inserts the local node as Alive with a freshly minted
// incarnation.
func (t *Table) AddLocalMember() {
	t.mu.Lock()
	m := &Member{Address: t.localAddr, Status: Alive, Incarnation: t.clock.NowMillis()}
	t.members[t.localAddr] = m
	change := Change{Address: m.Address, Status: m.Status, Incarnation: m.Incarnation, Kind: ChangeNew}
	subs := append([]Subscriber(nil), t.subscribers...)
	t.mu.Unlock()

	for _, s := range subs {
		notify(s, change)
	}
}

// AddMember inserts address as Alive if absent (emitting a "new"
// change), or treats the call as an Update to {Alive, incarnation} if
// already present.
func (t *Table) AddMember(address string, incarnation int64) []Change {
	t.mu.Lock()
	_, exists := t.members[address]
	t.mu.Unlock()

	if !exists {
		if incarnation == 0 {
			incarnation = t.clock.NowMillis()
		}
		t.mu.Lock()
		// Re-check under lock in case of a race with a concurrent AddMember.
		if _, exists := t.members[address]; exists {
			t.mu.Unlock()
			return t.Update([]Update{{Address: address, Status: Alive, Incarnation: incarnation}})
		}
		m := &Member{Address: address, Status: Alive, Incarnation: incarnation}
		t.members[address] = m
		change := Change{Address: address, Status: Alive, Incarnation: incarnation, Kind: ChangeNew}
		subs := append([]Subscriber(nil), t.subscribers...)
		t.mu.Unlock()

		for _, s := range subs {
			notify(s, change)
		}
		return []Change{change}
	}
	return t.Update([]Update{{Address: address, Status: Alive, Incarnation: incarnation}})
}

// Update applies a batch of incoming updates under the supersession
// rule and emits one Change per applied update, as a single
// batch delivered to subscribers. A change targeting the local member
// that would mark it Suspect or Faulty instead triggers refutation:
// the local incarnation is bumped and an Alive change at the new
// incarnation is emitted, never adopting the incoming record.
func (t *Table) Update(updates []Update) []Change {
	t.mu.Lock()

	var changes []Change
	for _, u := range updates {
		if u.Address == t.localAddr && (u.Status == Suspect || u.Status == Faulty) {
			local := t.members[t.localAddr]
			if local == nil {
				local = &Member{Address: t.localAddr, Status: Alive, Incarnation: t.clock.NowMillis()}
				t.members[t.localAddr] = local
			}
			if u.Incarnation >= local.Incarnation {
				local.Incarnation = u.Incarnation + 1
				local.Status = Alive
				changes = append(changes, Change{
					Address: t.localAddr, Status: Alive, Incarnation: local.Incarnation, Kind: ChangeAlive,
				})
			}
			continue
		}

		current, exists := t.members[u.Address]
		if !exists {
			m := &Member{Address: u.Address, Status: u.Status, Incarnation: u.Incarnation}
			t.members[u.Address] = m
			changes = append(changes, Change{
				Address: u.Address, Status: u.Status, Incarnation: u.Incarnation, Kind: KindOf(u.Status),
			})
			continue
		}

		if !supersedes(current, u) {
			continue
		}
		current.Status = u.Status
		current.Incarnation = u.Incarnation
		changes = append(changes, Change{
			Address: u.Address, Status: u.Status, Incarnation: u.Incarnation, Kind: KindOf(u.Status),
		})
	}

	subs := append([]Subscriber(nil), t.subscribers...)
	t.mu.Unlock()

	for _, c := range changes {
		for _, s := range subs {
			notify(s, c)
		}
	}
	return changes
}

// KindOf maps a status to the change kind emitted when a member
// transitions into it.
func KindOf(s Status) ChangeKind {
	switch s {
	case Alive:
		return ChangeAlive
	case Suspect:
		return ChangeSuspect
	case Faulty:
		return ChangeFaulty
	case Leave:
		return ChangeLeave
	default:
		return ChangeAlive
	}
}

// supersedes reports whether an incoming update (status', incarnation')
// replaces the current (status, incarnation): it does iff
// incarnation' > incarnation, or incarnation' == incarnation and
// status' has higher precedence.
func supersedes(current *Member, u Update) bool {
	if u.Incarnation > current.Incarnation {
		return true
	}
	if u.Incarnation == current.Incarnation && u.Status.precedence() > current.Status.precedence() {
		return true
	}
	return false
}

// MakeAlive forces the local member to Alive, bumping its incarnation
// to the current time, or to one past the current incarnation if the
// clock has not moved beyond it.
func (t *Table) MakeAlive() {
	t.setLocalStatus(Alive)
}

// MakeLeave forces the local member to Leave, bumping its incarnation
// to the current time, or to one past the current incarnation if the
// clock has not moved beyond it.
func (t *Table) MakeLeave() {
	t.setLocalStatus(Leave)
}

func (t *Table) setLocalStatus(status Status) {
	t.mu.Lock()
	local, ok := t.members[t.localAddr]
	incarnation := t.clock.NowMillis()
	if !ok {
		local = &Member{Address: t.localAddr}
		t.members[t.localAddr] = local
	} else if incarnation <= local.Incarnation {
		incarnation = local.Incarnation + 1
	}
	local.Status = status
	local.Incarnation = incarnation
	change := Change{Address: t.localAddr, Status: status, Incarnation: incarnation, Kind: KindOf(status)}
	subs := append([]Subscriber(nil), t.subscribers...)
	t.mu.Unlock()

	for _, s := range subs {
		notify(s, change)
	}
}

// Get returns a copy of the member at address, and whether it exists.
func (t *Table) Get(address string) (Member, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.members[address]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Local returns a copy of the local member.
func (t *Table) Local() Member {
	m, _ := t.Get(t.localAddr)
	return m
}

// Members returns a snapshot of every member in the table.
func (t *Table) Members() []Member {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		out = append(out, *m)
	}
	return out
}

// GetRandomPingableMembers returns a uniform random sample without
// replacement of up to n members that are Alive, not the local member,
// and not in exclude.
func (t *Table) GetRandomPingableMembers(n int, exclude []string) []Member {
	excludeSet := make(map[string]struct{}, len(exclude))
	for _, a := range exclude {
		excludeSet[a] = struct{}{}
	}

	t.mu.RLock()
	candidates := make([]Member, 0, len(t.members))
	for _, m := range t.members {
		if m.Address == t.localAddr || m.Status != Alive {
			continue
		}
		if _, excluded := excludeSet[m.Address]; excluded {
			continue
		}
		candidates = append(candidates, *m)
	}
	t.mu.RUnlock()

	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// Checksum is a deterministic 32-bit hash over a canonical encoding of
// the table: members sorted by address, each encoded as
// "addr,incarnation,status", joined by ';'. Two tables holding the same
// membership produce the same checksum regardless of insertion order.
func (t *Table) Checksum() uint32 {
	t.mu.RLock()
	addrs := make([]string, 0, len(t.members))
	for a := range t.members {
		addrs = append(addrs, a)
	}
	sort.Strings(addrs)

	var sb strings.Builder
	for i, a := range addrs {
		m := t.members[a]
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(m.Address)
		sb.WriteByte(',')
		sb.WriteString(strconv.FormatInt(m.Incarnation, 10))
		sb.WriteByte(',')
		sb.WriteString(m.Status.String())
	}
	t.mu.RUnlock()

	return crc32.ChecksumIEEE([]byte(sb.String()))
}
