package recognize

import (
	"sort"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

// TierUpSize is the exact number of blocks a tier-up consumes.
const TierUpSize = 3

// TierUp emits every connected triple that contains the trigger.
//
// A triple on a grid is always a path a-b-c, so the trigger is either the
// middle cell (two of its neighbors) or an end (neighbor plus the neighbor's
// neighbor). Both shapes are enumerated.
type TierUp struct {
	Disabled bool
}

func NewTierUp() *TierUp { return &TierUp{} }

func (r *TierUp) Kind() pattern.Kind { return pattern.KindTierUp }
func (r *TierUp) Enabled() bool      { return !r.Disabled }

func (r *TierUp) Recognize(v View, trigger grid.Pos, ctx Context) []pattern.Pattern {
	origin, region, ok := Region(v, trigger, ctx.floodCap())
	if !ok || len(region) < TierUpSize {
		return nil
	}
	in := make(map[grid.Pos]bool, len(region))
	for _, p := range region {
		in[p] = true
	}
	var near []grid.Pos
	for _, n := range trigger.Neighbors() {
		if in[n] {
			near = append(near, n)
		}
	}

	seen := map[string]bool{}
	var out []pattern.Pattern
	add := func(a, b grid.Pos) {
		p := pattern.New(pattern.KindTierUp, origin.Type, origin.Tier, []grid.Pos{trigger, a, b})
		k := p.Key()
		if seen[k] {
			return
		}
		seen[k] = true
		out = append(out, p)
	}

	for i := 0; i < len(near); i++ {
		for j := i + 1; j < len(near); j++ {
			add(near[i], near[j])
		}
	}
	for _, n := range near {
		for _, m := range n.Neighbors() {
			if m != trigger && in[m] {
				add(n, m)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return lessPositions(out[i].Positions, out[j].Positions) })
	return out
}

func lessPositions(a, b []grid.Pos) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i].Less(b[i])
		}
	}
	return len(a) < len(b)
}
