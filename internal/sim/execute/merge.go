package execute

import (
	"fmt"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/policy"
)

// MergeSize is the number of blocks consumed by one merge.
const MergeSize = 3

type AnchorPolicy string

const (
	// AnchorHub places the new block on the cell adjacent to both others.
	AnchorHub AnchorPolicy = "hub"
	// AnchorFirst places it on the lowest consumed cell.
	AnchorFirst AnchorPolicy = "first"
	// AnchorTrigger places it where the player acted, falling back to hub.
	AnchorTrigger AnchorPolicy = "trigger"
)

func (a AnchorPolicy) Valid() bool {
	switch a {
	case AnchorHub, AnchorFirst, AnchorTrigger:
		return true
	}
	return false
}

// Merge consumes three connected blocks and creates one block of the next tier.
// Patterns already at the catalog's max tier are handed to Fallback.
type Merge struct {
	Catalog  Catalog
	Anchor   AnchorPolicy
	Fallback Executor
}

func (m *Merge) Kind() policy.ExecutorKind { return policy.ExecMerge }

func (m *Merge) Execute(g Grid, p pattern.Pattern, ctx ExecContext) (Result, error) {
	if err := p.Valid(g.BlockAt); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrStalePattern, p.Key(), err)
	}
	if m.Catalog != nil && p.Tier >= m.Catalog.MaxTier(p.Type) {
		if m.Fallback == nil {
			return Result{}, fmt.Errorf("%w: %s at max tier", ErrNoExecutor, p.Type)
		}
		return m.Fallback.Execute(g, p, ctx)
	}
	triple, ok := SelectTriple(p.Positions)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s has no connected triple", ErrStalePattern, p.Key())
	}
	anchor := m.anchorFor(triple, ctx.Trigger)

	ids, err := removeAll(g, triple[:])
	if err != nil {
		return Result{}, err
	}
	newTier := p.Tier + 1
	id, err := g.PlaceBlockTier(anchor, p.Type, newTier)
	if err != nil {
		return Result{}, fmt.Errorf("place merged block at %s: %w", anchor, err)
	}

	used := map[grid.Pos]bool{triple[0]: true, triple[1]: true, triple[2]: true}
	var affected []grid.Pos
	for _, q := range p.Positions {
		if !used[q] {
			affected = append(affected, q)
		}
	}
	affected = append(affected, anchor)
	grid.SortPositions(affected)

	return Result{
		Affected: affected,
		Effects: []effects.Effect{
			ctx.stamp(effects.Effect{
				Kind:      effects.KindMerged,
				BlockID:   id,
				Type:      p.Type,
				Tier:      newTier,
				To:        effects.PosPtr(anchor),
				Pattern:   p.Kind,
				Positions: triple[:],
				BlockIDs:  ids,
				Triggers:  affected,
			}),
			ctx.stamp(effects.Effect{
				Kind:    effects.KindPlaced,
				BlockID: id,
				Type:    p.Type,
				Tier:    newTier,
				To:      effects.PosPtr(anchor),
				Pattern: p.Kind,
			}),
		},
	}, nil
}

func (m *Merge) anchorFor(t [3]grid.Pos, trigger grid.Pos) grid.Pos {
	switch m.Anchor {
	case AnchorFirst:
		return t[0]
	case AnchorTrigger:
		for _, q := range t {
			if q == trigger {
				return q
			}
		}
	}
	return Hub(t)
}

// Hub returns the cell of a connected triple that touches both others.
func Hub(t [3]grid.Pos) grid.Pos {
	for i := 0; i < 3; i++ {
		a, b := t[(i+1)%3], t[(i+2)%3]
		if grid.Adjacent(t[i], a) && grid.Adjacent(t[i], b) {
			return t[i]
		}
	}
	return t[0]
}

func connected3(a, b, c grid.Pos) bool {
	n := 0
	if grid.Adjacent(a, b) {
		n++
	}
	if grid.Adjacent(b, c) {
		n++
	}
	if grid.Adjacent(a, c) {
		n++
	}
	return n >= 2
}

// SelectTriple picks the first three positions in anchor ordering when they
// are connected, otherwise the lexicographically first connected triple.
// ps must already be in anchor ordering.
func SelectTriple(ps []grid.Pos) ([3]grid.Pos, bool) {
	n := len(ps)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			for k := j + 1; k < n; k++ {
				if connected3(ps[i], ps[j], ps[k]) {
					return [3]grid.Pos{ps[i], ps[j], ps[k]}, true
				}
			}
		}
	}
	return [3]grid.Pos{}, false
}
