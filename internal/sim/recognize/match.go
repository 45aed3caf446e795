package recognize

import (
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

// Match emits the whole connected region as one MATCH pattern.
type Match struct {
	MinSize  int
	Disabled bool
}

func NewMatch() *Match { return &Match{MinSize: 3} }

func (m *Match) Kind() pattern.Kind { return pattern.KindMatch }
func (m *Match) Enabled() bool      { return !m.Disabled }

func (m *Match) Recognize(v View, trigger grid.Pos, ctx Context) []pattern.Pattern {
	origin, region, ok := Region(v, trigger, ctx.floodCap())
	if !ok {
		return nil
	}
	minSize := m.MinSize
	if minSize < pattern.MinSize {
		minSize = 3
	}
	if len(region) < minSize {
		return nil
	}
	return []pattern.Pattern{pattern.New(pattern.KindMatch, origin.Type, origin.Tier, region)}
}
