package pattern

import (
	"testing"

	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/grid"
)

func TestPriorityOrder(t *testing.T) {
	if !(KindTransmute.Priority() > KindTierUp.Priority() && KindTierUp.Priority() > KindMatch.Priority()) {
		t.Fatalf("expected TRANSMUTE > TIER_UP > MATCH")
	}
	if Kind("SPARKLE").Known() {
		t.Fatalf("unknown kind reported as known")
	}
}

func TestNewSortsAndAnchors(t *testing.T) {
	p := New(KindMatch, grid.Work, 1, []grid.Pos{{X: 2, Y: 0}, {X: 0, Y: 0}, {X: 1, Y: 0}})
	if p.Anchor() != (grid.Pos{X: 0, Y: 0}) {
		t.Fatalf("anchor: got %s", p.Anchor())
	}
	if p.Positions[2] != (grid.Pos{X: 2, Y: 0}) {
		t.Fatalf("positions not sorted: %v", p.Positions)
	}
	if p.Key() != "MATCH:WORK:1:0,0:1,0:2,0" {
		t.Fatalf("key: %s", p.Key())
	}
}

func TestSizeBonusTable(t *testing.T) {
	b := DefaultSizeBonus()
	cases := map[int]string{2: "1", 3: "1", 4: "1.5", 5: "2", 6: "3", 11: "3"}
	for size, want := range cases {
		if got := b.For(size); !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("size %d: got %s want %s", size, got, want)
		}
	}
	if !(SizeBonus{}).For(9).Equal(decimal.NewFromInt(1)) {
		t.Fatalf("empty table must default to x1")
	}
}

func TestOutcomeReward(t *testing.T) {
	cats := catalogs.Default()
	p := New(KindMatch, grid.Work, 1, []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}})
	out := p.Outcome(cats, DefaultSizeBonus(), decimal.NewFromInt(1))
	if len(out.Rewards) != 1 || out.Rewards[0].Resource != "MONEY" || !out.Rewards[0].Amount.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("unexpected rewards: %+v", out.Rewards)
	}
	if len(out.Remove) != 3 || !out.Chainable {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	four := New(KindMatch, grid.Health, 1, []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 2, Y: 0}, {X: 3, Y: 0}})
	out = four.Outcome(cats, DefaultSizeBonus(), decimal.NewFromInt(2))
	// 6 x 4 x 1.5 x 2
	if !out.Rewards[0].Amount.Equal(decimal.NewFromInt(72)) {
		t.Fatalf("chained reward: got %s want 72", out.Rewards[0].Amount)
	}
}

func TestValidRejectsBrokenPatterns(t *testing.T) {
	s := grid.NewStore(5, 5)
	for _, p := range []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 3, Y: 0}} {
		_, _ = s.PlaceBlock(p, grid.Rest)
	}
	_, _ = s.PlaceBlock(grid.Pos{X: 2, Y: 0}, grid.Work)

	ok := New(KindMatch, grid.Rest, 1, []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}})
	if err := ok.Valid(s.BlockAt); err != nil {
		t.Fatalf("valid pattern rejected: %v", err)
	}
	gap := New(KindMatch, grid.Rest, 1, []grid.Pos{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 3, Y: 0}})
	if err := gap.Valid(s.BlockAt); err == nil {
		t.Fatalf("non-contiguous pattern accepted")
	}
	mixed := New(KindMatch, grid.Rest, 1, []grid.Pos{{X: 1, Y: 0}, {X: 2, Y: 0}})
	if err := mixed.Valid(s.BlockAt); err == nil {
		t.Fatalf("mixed-type pattern accepted")
	}
	single := New(KindMatch, grid.Rest, 1, []grid.Pos{{X: 0, Y: 0}})
	if err := single.Valid(s.BlockAt); err == nil {
		t.Fatalf("single-cell pattern accepted")
	}
}
