package resolve

import (
	"math/rand"
	"testing"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

func ps(xy ...int) []grid.Pos {
	out := make([]grid.Pos, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		out = append(out, grid.Pos{X: xy[i], Y: xy[i+1]})
	}
	return out
}

func TestHigherPriorityWinsOverlap(t *testing.T) {
	match := pattern.New(pattern.KindMatch, grid.Work, 1, ps(0, 0, 1, 0, 2, 0, 3, 0))
	tier := pattern.New(pattern.KindTierUp, grid.Work, 1, ps(1, 0, 2, 0, 3, 0))
	got := Resolver{}.Resolve([]pattern.Pattern{match, tier})
	if len(got) != 1 || got[0].Kind != pattern.KindTierUp {
		t.Fatalf("expected tier-up only, got %+v", got)
	}
}

func TestLowerAnchorWinsTie(t *testing.T) {
	// L-shape: (0,0) (1,0) (2,0) (2,1), trigger (1,0)
	a := pattern.New(pattern.KindTierUp, grid.Health, 1, ps(1, 0, 2, 0, 2, 1))
	b := pattern.New(pattern.KindTierUp, grid.Health, 1, ps(0, 0, 1, 0, 2, 0))
	got := Resolver{}.Resolve([]pattern.Pattern{a, b})
	if len(got) != 1 || got[0].Key() != b.Key() {
		t.Fatalf("expected %s, got %+v", b.Key(), got)
	}
}

func TestDisjointPatternsAllAccepted(t *testing.T) {
	a := pattern.New(pattern.KindMatch, grid.Work, 1, ps(0, 0, 1, 0, 2, 0))
	b := pattern.New(pattern.KindMatch, grid.Rest, 1, ps(0, 2, 1, 2, 2, 2))
	c := pattern.New(pattern.KindTierUp, grid.Rest, 1, ps(4, 4, 4, 5, 4, 6))
	got := Resolver{}.Resolve([]pattern.Pattern{a, b, c})
	if len(got) != 3 {
		t.Fatalf("expected 3 accepted, got %d", len(got))
	}
	if got[0].Kind != pattern.KindTierUp {
		t.Fatalf("acceptance order must follow priority: %+v", got)
	}
}

func TestRejectsUnknownAndDisabled(t *testing.T) {
	var rejected []string
	r := Resolver{
		Enabled:  func(k pattern.Kind) bool { return k != pattern.KindTierUp },
		OnReject: func(p pattern.Pattern, reason string) { rejected = append(rejected, reason) },
	}
	odd := pattern.New(pattern.Kind("SPARKLE"), grid.Work, 1, ps(5, 5, 5, 6))
	tier := pattern.New(pattern.KindTierUp, grid.Work, 1, ps(0, 0, 1, 0, 2, 0))
	match := pattern.New(pattern.KindMatch, grid.Work, 1, ps(0, 0, 1, 0, 2, 0))
	got := r.Resolve([]pattern.Pattern{odd, tier, match})
	if len(got) != 1 || got[0].Kind != pattern.KindMatch {
		t.Fatalf("expected only match, got %+v", got)
	}
	if len(rejected) != 2 {
		t.Fatalf("expected 2 rejections, got %v", rejected)
	}
	if out := r.Resolve(nil); out != nil {
		t.Fatalf("empty input must resolve to nothing")
	}
}

// No position of an accepted pattern is shared, and any rejected candidate
// overlaps an accepted one that sorts before it.
func TestResolutionLaw(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	kinds := []pattern.Kind{pattern.KindMatch, pattern.KindTierUp}
	for round := 0; round < 200; round++ {
		var cands []pattern.Pattern
		for i := 0; i < 8; i++ {
			x, y := rng.Intn(6), rng.Intn(6)
			var pos []grid.Pos
			for n := 0; n < 3; n++ {
				pos = append(pos, grid.Pos{X: x + n, Y: y})
			}
			cands = append(cands, pattern.New(kinds[rng.Intn(2)], grid.Work, 1, pos))
		}
		got := Resolver{}.Resolve(cands)
		used := map[grid.Pos]bool{}
		for _, p := range got {
			for _, q := range p.Positions {
				if used[q] {
					t.Fatalf("round %d: position %s reused", round, q)
				}
				used[q] = true
			}
		}
		for i := 1; i < len(got); i++ {
			if Less(got[i], got[i-1]) {
				t.Fatalf("round %d: acceptance order broken", round)
			}
		}
		for _, c := range cands {
			accepted := false
			blocked := false
			for _, a := range got {
				if a.Key() == c.Key() {
					accepted = true
				}
				if a.Overlaps(c) && !Less(c, a) {
					blocked = true
				}
			}
			if !accepted && !blocked {
				t.Fatalf("round %d: %s rejected without a better overlapping winner", round, c.Key())
			}
		}
	}
}
