// Package join implements the admin bootstrap procedure: fan out to a
// random subset of the configured bootstrap hosts, merge whichever
// membership snapshot comes back first, and keep refilling the attempt
// pool with untried hosts until at least one succeeds or
// MaxJoinDuration elapses.
package join

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/swimring/swimring/internal/member"
)

// Request is the outgoing join RPC payload.
type Request struct {
	Source      string
	App         string
	Incarnation int64
}

// Reply is the bootstrap host's response: its current membership
// snapshot.
type Reply struct {
	Membership []member.Change
}

// Joiner sends the join RPC to one bootstrap host.
type Joiner interface {
	Join(ctx context.Context, target string, req Request) (Reply, error)
}

// Config holds the timing and fan-out constants this package owns.
type Config struct {
	// JoinSize is the number of hosts contacted per round (k of the
	// k-of-n fan-out).
	JoinSize int
	// MaxJoinDuration bounds the whole bootstrap attempt, across every
	// round.
	MaxJoinDuration time.Duration
	// RequestTimeout bounds a single host's join RPC.
	RequestTimeout time.Duration
}

// DefaultConfig returns the stock join constants.
func DefaultConfig() Config {
	return Config{
		JoinSize:        3,
		MaxJoinDuration: 300000 * time.Millisecond,
		RequestTimeout:  1000 * time.Millisecond,
	}
}

// ErrNoHosts is returned when the bootstrap host list is empty.
var ErrNoHosts = fmt.Errorf("join: no bootstrap hosts configured")

// ErrTimedOut is returned when no host acknowledged within
// MaxJoinDuration.
var ErrTimedOut = fmt.Errorf("join: no bootstrap host responded within max_join_duration")

// retryDelay is the pause between full passes over the host pool. A
// fleet starting together needs the early joiners to keep retrying
// until their peers begin listening.
const retryDelay = 100 * time.Millisecond

// Bootstrap repeatedly selects up to JoinSize untried hosts from hosts
// (excluding local), fans the join RPC out to them in parallel, and
// applies the first successful reply's membership snapshot to table.
// It keeps refilling with fresh hosts on a round with zero acks, and
// restarts the whole pass once the pool is exhausted, until either a
// round succeeds or MaxJoinDuration elapses.
func Bootstrap(ctx context.Context, joiner Joiner, hosts []string, local, app string, table *member.Table, cfg Config) error {
	candidates := make([]string, 0, len(hosts))
	for _, h := range hosts {
		if h != local {
			candidates = append(candidates, h)
		}
	}
	if len(candidates) == 0 {
		return ErrNoHosts
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.MaxJoinDuration)
	defer cancel()

	tried := make(map[string]bool)
	localMember := table.Local()

	for {
		round := pickUntried(candidates, tried, cfg.JoinSize)
		if len(round) == 0 {
			// Every host has been tried this pass. Start over after a
			// short pause, until the deadline says otherwise.
			select {
			case <-ctx.Done():
				return ErrTimedOut
			case <-time.After(retryDelay):
			}
			tried = make(map[string]bool)
			continue
		}
		for _, h := range round {
			tried[h] = true
		}

		reply, ok := fanOut(ctx, joiner, round, Request{Source: local, App: app, Incarnation: localMember.Incarnation}, cfg.RequestTimeout)
		if ok {
			table.Update(changesToUpdates(reply.Membership))
			return nil
		}

		select {
		case <-ctx.Done():
			return ErrTimedOut
		default:
		}
	}
}

// pickUntried returns up to n addresses from candidates that aren't
// yet in tried, in random order.
func pickUntried(candidates []string, tried map[string]bool, n int) []string {
	var fresh []string
	for _, c := range candidates {
		if !tried[c] {
			fresh = append(fresh, c)
		}
	}
	rand.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })
	if n < len(fresh) {
		fresh = fresh[:n]
	}
	return fresh
}

// fanOut sends the join RPC to every host in round concurrently and
// returns the first successful reply, or (Reply{}, false) if none of
// them responded before ctx or the per-request timeout expired.
func fanOut(ctx context.Context, joiner Joiner, round []string, req Request, perHostTimeout time.Duration) (Reply, bool) {
	type result struct {
		reply Reply
		err   error
	}

	results := make(chan result, len(round))
	var wg sync.WaitGroup
	for _, host := range round {
		host := host
		wg.Add(1)
		go func() {
			defer wg.Done()
			hostCtx, cancel := context.WithTimeout(ctx, perHostTimeout)
			defer cancel()
			reply, err := joiner.Join(hostCtx, host, req)
			results <- result{reply, err}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err == nil {
			return r.reply, true
		}
	}
	return Reply{}, false
}

func changesToUpdates(changes []member.Change) []member.Update {
	out := make([]member.Update, 0, len(changes))
	for _, c := range changes {
		out = append(out, member.Update{Address: c.Address, Status: c.Status, Incarnation: c.Incarnation})
	}
	return out
}
