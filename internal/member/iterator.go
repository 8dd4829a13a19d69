package member

import (
	"math/rand"
	"sync"
)

// Iterator yields a shuffled, non-local, Alive-or-Suspect ping target
// on each call to Next, reshuffling on exhaustion so that a full pass
// over the table happens before any address repeats. The shuffle keeps
// target selection uniform without starving any single peer.
type Iterator struct {
	mu       sync.Mutex
	table    *Table
	order    []string
	idx      int
	checksum uint32
}

// NewIterator creates an iterator bound to table.
func NewIterator(table *Table) *Iterator {
	return &Iterator{table: table}
}

// Next returns the next ping target, or ("", false) if the table has
// no pingable members at all.
func (it *Iterator) Next() (string, bool) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.idx >= len(it.order) || it.stale() {
		it.reshuffle()
	}
	if len(it.order) == 0 {
		return "", false
	}
	addr := it.order[it.idx]
	it.idx++
	return addr, true
}

// stale reports whether the table's membership has changed since the
// last shuffle, judged by the table checksum.
func (it *Iterator) stale() bool {
	return it.table.Checksum() != it.checksum
}

func (it *Iterator) reshuffle() {
	local := it.table.LocalAddress()
	var candidates []string
	for _, m := range it.table.Members() {
		if m.Address == local {
			continue
		}
		if m.Status == Alive || m.Status == Suspect {
			candidates = append(candidates, m.Address)
		}
	}
	rand.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
	it.order = candidates
	it.idx = 0
	it.checksum = it.table.Checksum()
}
