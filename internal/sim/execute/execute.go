// Package execute applies resolved patterns to the grid.
package execute

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/policy"
)

var (
	ErrStalePattern = errors.New("pattern no longer matches grid")
	ErrNoExecutor   = errors.New("no executor for kind")
)

// Grid is the mutation surface executors need. *grid.Store implements it.
type Grid interface {
	BlockAt(pos grid.Pos) (grid.Block, bool)
	RemoveAt(pos grid.Pos) (grid.Block, error)
	PlaceBlockTier(pos grid.Pos, typ grid.BlockType, tier int) (grid.BlockID, error)
}

// Catalog supplies reward values and tier limits.
type Catalog interface {
	pattern.ValueTable
	MaxTier(t grid.BlockType) int
}

type ExecContext struct {
	ChainID    uuid.UUID
	Step       int
	ChainBonus decimal.Decimal
	// Trigger is the position whose recognition pass produced the pattern.
	Trigger grid.Pos
	Now     time.Time
}

func (c ExecContext) stamp(e effects.Effect) effects.Effect {
	e.ChainID = c.ChainID
	e.Step = c.Step
	e.Time = c.Now
	return e
}

type Result struct {
	Effects []effects.Effect
	// Affected are positions to re-check for chained patterns.
	Affected []grid.Pos
}

type Executor interface {
	Kind() policy.ExecutorKind
	Execute(g Grid, p pattern.Pattern, ctx ExecContext) (Result, error)
}

type Registry struct {
	byKind map[policy.ExecutorKind]Executor
}

func NewRegistry(xs ...Executor) *Registry {
	r := &Registry{byKind: map[policy.ExecutorKind]Executor{}}
	for _, x := range xs {
		r.byKind[x.Kind()] = x
	}
	return r
}

func (r *Registry) Execute(k policy.ExecutorKind, g Grid, p pattern.Pattern, ctx ExecContext) (Result, error) {
	x, ok := r.byKind[k]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoExecutor, k)
	}
	return x.Execute(g, p, ctx)
}

// removeAll takes the given positions off the grid. Positions were validated by
// the caller, so a failure here means the grid changed underneath the executor.
func removeAll(g Grid, ps []grid.Pos) ([]grid.BlockID, error) {
	ids := make([]grid.BlockID, 0, len(ps))
	for _, p := range ps {
		b, err := g.RemoveAt(p)
		if err != nil {
			return ids, fmt.Errorf("remove %s: %w", p, err)
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// occupiedNeighbors returns the distinct occupied neighbors of ps that are not
// in ps, in anchor ordering.
func occupiedNeighbors(g Grid, ps []grid.Pos) []grid.Pos {
	skip := make(map[grid.Pos]bool, len(ps))
	for _, p := range ps {
		skip[p] = true
	}
	var out []grid.Pos
	for _, p := range ps {
		for _, n := range p.Neighbors() {
			if skip[n] {
				continue
			}
			skip[n] = true
			if _, ok := g.BlockAt(n); ok {
				out = append(out, n)
			}
		}
	}
	grid.SortPositions(out)
	return out
}
