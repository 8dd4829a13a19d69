// Package dissemination implements the piggyback buffer: recent
// membership changes are queued here and attached
// to outgoing protocol messages until they've been piggybacked
// max_piggyback times, at which point they're evicted. This is the
// infection-style propagation mechanism that makes SWIM eventually
// consistent without a broadcast.
package dissemination

import (
	"math"
	"sort"
	"sync"

	"github.com/swimring/swimring/internal/member"
)

// entry tracks a change plus FIFO insertion order, used to break ties
// when two changes have the same piggyback count.
type entry struct {
	change member.Change
	seq    int
}

// Buffer is the dissemination buffer for one local node.
type Buffer struct {
	mu      sync.Mutex
	changes map[string]entry
	seq     int
}

// New creates an empty dissemination buffer.
func New() *Buffer {
	return &Buffer{changes: make(map[string]entry)}
}

// MaxPiggyback returns ceil(3 * log10(clusterSize + 1)), the number of
// times a change is piggybacked before eviction.
func MaxPiggyback(clusterSize int) int {
	if clusterSize < 0 {
		clusterSize = 0
	}
	return int(math.Ceil(3 * math.Log10(float64(clusterSize+1))))
}

// AddChange inserts or replaces the buffered change for c.Address. A
// replacing change resets PiggybackCount to 0.
func (b *Buffer) AddChange(c member.Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c.PiggybackCount = 0
	b.changes[c.Address] = entry{change: c, seq: b.seq}
	b.seq++
}

// GetChanges returns up to maxPiggyback changes, oldest-to-newest by
// piggyback count (ties broken by insertion order), incrementing each
// returned change's count before the caller sees it and evicting any
// whose count has now reached maxPiggyback. If remoteChecksum differs from
// localChecksum and the buffer would otherwise return nothing, the full
// member table is substituted instead, the convergence mechanism of
// last resort when disagreement has persisted.
func (b *Buffer) GetChanges(maxPiggyback int, remoteChecksum, localChecksum uint32, fullState func() []member.Change) []member.Change {
	b.mu.Lock()

	entries := make([]entry, 0, len(b.changes))
	for _, e := range b.changes {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].change.PiggybackCount != entries[j].change.PiggybackCount {
			return entries[i].change.PiggybackCount < entries[j].change.PiggybackCount
		}
		return entries[i].seq < entries[j].seq
	})

	if len(entries) > maxPiggyback {
		entries = entries[:maxPiggyback]
	}

	out := make([]member.Change, 0, len(entries))
	for _, e := range entries {
		c := e.change
		c.PiggybackCount++
		out = append(out, c)
		if c.PiggybackCount >= maxPiggyback {
			delete(b.changes, c.Address)
		} else {
			b.changes[c.Address] = entry{change: c, seq: e.seq}
		}
	}
	b.mu.Unlock()

	if len(out) == 0 && remoteChecksum != localChecksum && fullState != nil {
		return fullState()
	}
	return out
}

// Len reports how many changes are currently buffered (test/debug use).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.changes)
}
