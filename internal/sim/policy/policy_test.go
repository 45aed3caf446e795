package policy

import (
	"testing"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

func TestSelect(t *testing.T) {
	line := []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}}
	u := NewUnlocks()
	u.Unlock(grid.Study, 2)

	cases := []struct {
		name string
		p    pattern.Pattern
		want ExecutorKind
	}{
		{"match locked", pattern.New(pattern.KindMatch, grid.Work, 1, line), ExecClear},
		{"match unlocked", pattern.New(pattern.KindMatch, grid.Study, 1, line), ExecMerge},
		{"match unlocked wrong tier", pattern.New(pattern.KindMatch, grid.Study, 2, line), ExecClear},
		{"match pair unlocked", pattern.New(pattern.KindMatch, grid.Study, 1, line[:2]), ExecClear},
		{"tierup locked", pattern.New(pattern.KindTierUp, grid.Work, 1, line), ExecClear},
		{"tierup unlocked", pattern.New(pattern.KindTierUp, grid.Study, 1, line), ExecMerge},
		{"transmute", pattern.New(pattern.KindTransmute, grid.Study, 1, line), ExecNone},
	}
	for _, tc := range cases {
		if got := Select(tc.p, u); got != tc.want {
			t.Fatalf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
	if got := Select(cases[1].p, nil); got != ExecClear {
		t.Fatalf("nil unlocks must fall back to clear, got %s", got)
	}
}

func TestSelectIsPure(t *testing.T) {
	p := pattern.New(pattern.KindTierUp, grid.Rest, 1, []grid.Pos{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: 2}})
	calls := 0
	u := UnlockFunc(func(bt grid.BlockType, tier int) bool {
		calls++
		return bt == grid.Rest && tier == 2
	})
	for i := 0; i < 10; i++ {
		if Select(p, u) != ExecMerge {
			t.Fatalf("iteration %d: selection changed", i)
		}
	}
	if calls != 10 {
		t.Fatalf("expected one unlock read per call, got %d", calls)
	}
}

func TestUnlocksLock(t *testing.T) {
	u := NewUnlocks()
	u.Unlock(grid.Work, 2)
	if !u.IsTierUnlocked(grid.Work, 2) || u.IsTierUnlocked(grid.Work, 3) {
		t.Fatalf("unexpected unlock state")
	}
	u.Lock(grid.Work, 2)
	if u.IsTierUnlocked(grid.Work, 2) {
		t.Fatalf("lock did not clear flag")
	}
	var nilU *Unlocks
	if nilU.IsTierUnlocked(grid.Work, 2) {
		t.Fatalf("nil unlocks must report locked")
	}
}
