package ring

import (
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultVirtualNodes is the number of virtual positions each alive
// server occupies on the ring.
const DefaultVirtualNodes = 100

// vnode is one virtual position on the ring.
type vnode struct {
	hash    uint64
	address string
}

// Ring implements consistent hashing with virtual nodes. xxhash64 is
// the pinned hash function: it must be identical on every node in the
// cluster or lookups diverge. Virtual positions are derived as
// hash(address + "#" + i).
type Ring struct {
	mu      sync.RWMutex
	r       int
	vnodes  []vnode
	present map[string]struct{}
}

// New creates a ring with r virtual positions per server. r <= 0 uses
// DefaultVirtualNodes.
func New(r int) *Ring {
	if r <= 0 {
		r = DefaultVirtualNodes
	}
	return &Ring{r: r, present: make(map[string]struct{})}
}

// hash64 hashes s with the ring's pinned hash function.
func hash64(s string) uint64 {
	return xxhash.Sum64String(s)
}

// AddServer inserts address's R virtual positions. Idempotent: adding
// an already-present address is a no-op.
func (r *Ring) AddServer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.present[address]; ok {
		return
	}
	r.present[address] = struct{}{}

	for i := 0; i < r.r; i++ {
		h := hash64(address + "#" + strconv.Itoa(i))
		r.vnodes = append(r.vnodes, vnode{hash: h, address: address})
	}
	sort.Slice(r.vnodes, func(i, j int) bool {
		if r.vnodes[i].hash != r.vnodes[j].hash {
			return r.vnodes[i].hash < r.vnodes[j].hash
		}
		// Collision tie-break: ascending address.
		return r.vnodes[i].address < r.vnodes[j].address
	})
}

// RemoveServer removes all of address's virtual positions. Idempotent:
// removing an absent address is a no-op.
func (r *Ring) RemoveServer(address string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.present[address]; !ok {
		return
	}
	delete(r.present, address)

	kept := r.vnodes[:0:0]
	for _, v := range r.vnodes {
		if v.address != address {
			kept = append(kept, v)
		}
	}
	r.vnodes = kept
}

// Lookup hashes key and returns the address owning the first ring
// position >= hash, wrapping around past the last position. Returns
// ("", false) if the ring is empty.
func (r *Ring) Lookup(key string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 {
		return "", false
	}
	h := hash64(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if idx == len(r.vnodes) {
		idx = 0
	}
	return r.vnodes[idx].address, true
}

// PreferenceList returns the first n distinct addresses encountered
// walking forward from key's owning position, used for forwarding
// fallback / replica-aware extensions.
func (r *Ring) PreferenceList(key string, n int) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || n <= 0 {
		return nil
	}
	h := hash64(key)
	idx := sort.Search(len(r.vnodes), func(i int) bool { return r.vnodes[i].hash >= h })
	if idx == len(r.vnodes) {
		idx = 0
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, n)
	for i := 0; i < len(r.vnodes) && len(out) < n; i++ {
		addr := r.vnodes[(idx+i)%len(r.vnodes)].address
		if _, ok := seen[addr]; !ok {
			seen[addr] = struct{}{}
			out = append(out, addr)
		}
	}
	return out
}

// Addresses returns the distinct set of servers currently on the ring.
func (r *Ring) Addresses() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.present))
	for a := range r.present {
		out = append(out, a)
	}
	return out
}

// Len returns the number of distinct servers on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.present)
}
