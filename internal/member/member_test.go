package member

import (
	"testing"
	"time"

	"github.com/swimring/swimring/internal/clock"
)

func newTestTable(t *testing.T, local string) (*Table, *clock.Fake) {
	t.Helper()
	fc := clock.NewFake(time.Unix(1_700_000_000, 0))
	tbl := New(local, fc)
	return tbl, fc
}

func TestTable_AddLocalMember(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()

	m, ok := tbl.Get("a:1")
	if !ok {
		t.Fatal("expected local member to exist")
	}
	if m.Status != Alive {
		t.Errorf("expected Alive, got %v", m.Status)
	}
}

func TestTable_AddMember_NewEmitsNewChange(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()

	changes := tbl.AddMember("b:1", 5)
	if len(changes) != 1 || changes[0].Kind != ChangeNew {
		t.Fatalf("expected one New change, got %+v", changes)
	}

	m, _ := tbl.Get("b:1")
	if m.Status != Alive || m.Incarnation != 5 {
		t.Errorf("unexpected member state: %+v", m)
	}
}

func TestTable_Update_HigherIncarnationWins(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddMember("b:1", 1)

	tbl.Update([]Update{{Address: "b:1", Status: Suspect, Incarnation: 5}})
	m, _ := tbl.Get("b:1")
	if m.Status != Suspect || m.Incarnation != 5 {
		t.Fatalf("expected suspect@5, got %+v", m)
	}

	// Lower incarnation is ignored.
	tbl.Update([]Update{{Address: "b:1", Status: Alive, Incarnation: 3}})
	m, _ = tbl.Get("b:1")
	if m.Status != Suspect || m.Incarnation != 5 {
		t.Fatalf("lower incarnation should be ignored, got %+v", m)
	}
}

func TestTable_Update_SameIncarnationPrecedence(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddMember("b:1", 5)

	// Same incarnation, faulty beats alive.
	changes := tbl.Update([]Update{{Address: "b:1", Status: Faulty, Incarnation: 5}})
	if len(changes) != 1 {
		t.Fatalf("expected faulty to override alive at same incarnation, got %+v", changes)
	}
	m, _ := tbl.Get("b:1")
	if m.Status != Faulty {
		t.Fatalf("expected faulty, got %v", m.Status)
	}

	// Same incarnation, alive does NOT override faulty (upgrade loses).
	changes = tbl.Update([]Update{{Address: "b:1", Status: Alive, Incarnation: 5}})
	if len(changes) != 0 {
		t.Fatalf("expected same-incarnation upgrade to lose, got %+v", changes)
	}
}

func TestTable_Update_SelfRefutation(t *testing.T) {
	tbl, fc := newTestTable(t, "a:1")
	tbl.AddLocalMember()
	local := tbl.Local()

	fc.Advance(time.Second)
	changes := tbl.Update([]Update{{Address: "a:1", Status: Suspect, Incarnation: local.Incarnation}})
	if len(changes) != 1 || changes[0].Kind != ChangeAlive {
		t.Fatalf("expected a refutation Alive change, got %+v", changes)
	}
	if changes[0].Incarnation <= local.Incarnation {
		t.Fatalf("expected incarnation to be bumped past %d, got %d", local.Incarnation, changes[0].Incarnation)
	}

	newLocal := tbl.Local()
	if newLocal.Status != Alive {
		t.Fatalf("local member must never be marked suspect/faulty, got %v", newLocal.Status)
	}
}

func TestTable_Update_SelfRefutation_NeverAdoptsFaultyOrSuspect(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()
	local := tbl.Local()

	for _, s := range []Status{Suspect, Faulty} {
		changes := tbl.Update([]Update{{Address: "a:1", Status: s, Incarnation: local.Incarnation + 10}})
		for _, c := range changes {
			if c.Address == "a:1" && (c.Status == Suspect || c.Status == Faulty) {
				t.Fatalf("outgoing change must never carry suspect/faulty for self: %+v", c)
			}
		}
	}
}

func TestTable_GetRandomPingableMembers_ExcludesLocalAndNonAlive(t *testing.T) {
	tbl, _ := newTestTable(t, "a:1")
	tbl.AddLocalMember()
	tbl.AddMember("b:1", 1)
	tbl.Update([]Update{{Address: "c:1", Status: Suspect, Incarnation: 1}})

	picked := tbl.GetRandomPingableMembers(10, nil)
	for _, m := range picked {
		if m.Address == "a:1" {
			t.Fatal("local member must not be pingable")
		}
		if m.Status != Alive {
			t.Fatalf("expected only alive members, got %+v", m)
		}
	}
}

func TestTable_Checksum_Deterministic(t *testing.T) {
	t1, _ := newTestTable(t, "a:1")
	t1.AddMember("b:1", 1)
	t1.AddMember("c:1", 2)

	t2, _ := newTestTable(t, "a:1")
	t2.AddMember("c:1", 2)
	t2.AddMember("b:1", 1)

	if t1.Checksum() != t2.Checksum() {
		t.Fatal("checksum must be independent of insertion order")
	}
}
