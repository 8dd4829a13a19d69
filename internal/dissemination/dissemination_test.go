package dissemination

import (
	"testing"

	"github.com/swimring/swimring/internal/member"
)

func TestMaxPiggyback(t *testing.T) {
	cases := map[int]int{0: 0, 1: 1, 9: 3, 99: 6}
	for size, want := range cases {
		if got := MaxPiggyback(size); got != want {
			t.Errorf("MaxPiggyback(%d) = %d, want %d", size, got, want)
		}
	}
}

func TestBuffer_AddAndGetChanges_IncrementsCount(t *testing.T) {
	b := New()
	b.AddChange(member.Change{Address: "a:1", Status: member.Alive, Incarnation: 1, Kind: member.ChangeAlive})

	out := b.GetChanges(3, 1, 1, nil)
	if len(out) != 1 || out[0].PiggybackCount != 1 {
		t.Fatalf("expected one change with count 1, got %+v", out)
	}
}

func TestBuffer_EvictsAfterMaxPiggyback(t *testing.T) {
	b := New()
	b.AddChange(member.Change{Address: "a:1", Status: member.Alive, Incarnation: 1, Kind: member.ChangeAlive})

	for i := 0; i < 3; i++ {
		b.GetChanges(3, 1, 1, nil)
	}
	if b.Len() != 0 {
		t.Fatalf("expected change to be evicted after 3 piggybacks, buffer still has %d", b.Len())
	}
}

func TestBuffer_ReplaceResetsCount(t *testing.T) {
	b := New()
	b.AddChange(member.Change{Address: "a:1", Status: member.Alive, Incarnation: 1, Kind: member.ChangeAlive})
	b.GetChanges(3, 1, 1, nil)
	b.GetChanges(3, 1, 1, nil)

	b.AddChange(member.Change{Address: "a:1", Status: member.Suspect, Incarnation: 2, Kind: member.ChangeSuspect})
	out := b.GetChanges(3, 1, 1, nil)
	if len(out) != 1 || out[0].PiggybackCount != 1 {
		t.Fatalf("expected replaced change to restart its count, got %+v", out)
	}
}

func TestBuffer_ChecksumMismatchFallsBackToFullState(t *testing.T) {
	b := New()
	called := false
	full := []member.Change{{Address: "x:1", Status: member.Alive, Kind: member.ChangeAlive}}

	out := b.GetChanges(3, 7, 9, func() []member.Change {
		called = true
		return full
	})
	if !called {
		t.Fatal("expected full state fallback to be invoked on checksum mismatch with empty buffer")
	}
	if len(out) != 1 || out[0].Address != "x:1" {
		t.Fatalf("expected full state to be returned, got %+v", out)
	}
}

func TestBuffer_NoFallbackWhenChecksumsMatch(t *testing.T) {
	b := New()
	called := false
	out := b.GetChanges(3, 5, 5, func() []member.Change {
		called = true
		return nil
	})
	if called {
		t.Fatal("must not fall back to full state when checksums agree")
	}
	if len(out) != 0 {
		t.Fatalf("expected no changes, got %+v", out)
	}
}

func TestBuffer_OldestFirstByPiggybackCount(t *testing.T) {
	b := New()
	b.AddChange(member.Change{Address: "a:1", Kind: member.ChangeAlive})
	b.GetChanges(10, 1, 1, nil) // a:1 now at count 1
	b.AddChange(member.Change{Address: "b:1", Kind: member.ChangeAlive})

	out := b.GetChanges(1, 1, 1, nil)
	if len(out) != 1 || out[0].Address != "b:1" {
		t.Fatalf("expected b:1 (count 0) to be returned before a:1 (count 1), got %+v", out)
	}
}
