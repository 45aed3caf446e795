// Package resolve picks a non-overlapping subset of candidate patterns.
package resolve

import (
	"sort"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

// Resolver orders candidates by priority (desc), anchor (asc) and position
// list, then accepts greedily while no position is reused.
type Resolver struct {
	// Enabled reports whether a kind may be executed. Nil accepts every known kind.
	Enabled func(k pattern.Kind) bool
	// OnReject is called for candidates dropped as configuration errors.
	OnReject func(p pattern.Pattern, reason string)
}

func (r Resolver) allowed(p pattern.Pattern) (bool, string) {
	if !p.Kind.Known() {
		return false, "unknown pattern kind"
	}
	if r.Enabled != nil && !r.Enabled(p.Kind) {
		return false, "pattern kind disabled"
	}
	return true, ""
}

// Resolve returns the accepted patterns in acceptance order.
func (r Resolver) Resolve(candidates []pattern.Pattern) []pattern.Pattern {
	if len(candidates) == 0 {
		return nil
	}
	cs := make([]pattern.Pattern, 0, len(candidates))
	for _, c := range candidates {
		if ok, why := r.allowed(c); !ok {
			if r.OnReject != nil {
				r.OnReject(c, why)
			}
			continue
		}
		cs = append(cs, c)
	}
	sort.SliceStable(cs, func(i, j int) bool { return Less(cs[i], cs[j]) })

	used := map[grid.Pos]bool{}
	var out []pattern.Pattern
next:
	for _, c := range cs {
		for _, p := range c.Positions {
			if used[p] {
				continue next
			}
		}
		for _, p := range c.Positions {
			used[p] = true
		}
		out = append(out, c)
	}
	return out
}

// Less is the resolution order.
func Less(a, b pattern.Pattern) bool {
	if a.Priority() != b.Priority() {
		return a.Priority() > b.Priority()
	}
	if a.Anchor() != b.Anchor() {
		return a.Anchor().Less(b.Anchor())
	}
	for i := 0; i < len(a.Positions) && i < len(b.Positions); i++ {
		if a.Positions[i] != b.Positions[i] {
			return a.Positions[i].Less(b.Positions[i])
		}
	}
	return len(a.Positions) < len(b.Positions)
}
