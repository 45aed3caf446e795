// Package recognize finds candidate patterns around a trigger position.
//
// Recognizers only read the grid. They may emit overlapping candidates;
// choosing among them is the resolver's job.
package recognize

import (
	"errors"
	"fmt"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

const DefaultFloodCap = 100

var (
	ErrUnknownKind       = errors.New("no recognizer registered for kind")
	ErrDisabled          = errors.New("recognizer disabled")
	ErrAlreadyRegistered = errors.New("recognizer already registered")
)

// View is the read-only grid surface recognizers need.
type View interface {
	BlockAt(pos grid.Pos) (grid.Block, bool)
}

type Context struct {
	// Kinds limits which recognizers run. Empty means all.
	Kinds []pattern.Kind
	// FloodCap bounds the flood-fill region; <= 0 uses DefaultFloodCap.
	FloodCap int
	// Step is the chain step that triggered this pass (0 for a direct request).
	Step int
}

func (c Context) Allows(k pattern.Kind) bool {
	if len(c.Kinds) == 0 {
		return true
	}
	for _, v := range c.Kinds {
		if v == k {
			return true
		}
	}
	return false
}

func (c Context) floodCap() int {
	if c.FloodCap <= 0 {
		return DefaultFloodCap
	}
	return c.FloodCap
}

type Recognizer interface {
	Kind() pattern.Kind
	Enabled() bool
	Recognize(v View, trigger grid.Pos, ctx Context) []pattern.Pattern
}

// Region flood-fills connected blocks (same type and tier) from trigger in BFS
// order, stopping once limit cells are collected. The trigger is always first.
func Region(v View, trigger grid.Pos, limit int) (grid.Block, []grid.Pos, bool) {
	origin, ok := v.BlockAt(trigger)
	if !ok {
		return grid.Block{}, nil, false
	}
	if limit <= 0 {
		limit = DefaultFloodCap
	}
	seen := map[grid.Pos]bool{trigger: true}
	region := []grid.Pos{trigger}
	for head := 0; head < len(region) && len(region) < limit; head++ {
		for _, n := range region[head].Neighbors() {
			if seen[n] {
				continue
			}
			seen[n] = true
			b, ok := v.BlockAt(n)
			if !ok || b.Type != origin.Type || b.Tier != origin.Tier {
				continue
			}
			region = append(region, n)
			if len(region) >= limit {
				break
			}
		}
	}
	return origin, region, true
}

// Registry holds one recognizer per pattern kind.
type Registry struct {
	byKind map[pattern.Kind]Recognizer
	order  []pattern.Kind
}

func NewRegistry(rs ...Recognizer) (*Registry, error) {
	r := &Registry{byKind: map[pattern.Kind]Recognizer{}}
	for _, rec := range rs {
		if err := r.Register(rec); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(rec Recognizer) error {
	k := rec.Kind()
	if _, dup := r.byKind[k]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, k)
	}
	r.byKind[k] = rec
	r.order = append(r.order, k)
	return nil
}

// Enabled reports whether kind has a registered, enabled recognizer.
func (r *Registry) Enabled(k pattern.Kind) bool {
	if r == nil {
		return false
	}
	rec, ok := r.byKind[k]
	return ok && rec.Enabled()
}

func (r *Registry) Kinds() []pattern.Kind {
	return append([]pattern.Kind(nil), r.order...)
}

// Recognize runs every enabled recognizer allowed by ctx, in registration order.
func (r *Registry) Recognize(v View, trigger grid.Pos, ctx Context) []pattern.Pattern {
	var out []pattern.Pattern
	for _, k := range r.order {
		rec := r.byKind[k]
		if !rec.Enabled() || !ctx.Allows(k) {
			continue
		}
		out = append(out, rec.Recognize(v, trigger, ctx)...)
	}
	return out
}

// RecognizeKind runs a single recognizer and reports configuration errors.
func (r *Registry) RecognizeKind(k pattern.Kind, v View, trigger grid.Pos, ctx Context) ([]pattern.Pattern, error) {
	rec, ok := r.byKind[k]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	if !rec.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, k)
	}
	return rec.Recognize(v, trigger, ctx), nil
}
