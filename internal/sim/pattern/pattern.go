// Package pattern holds the immutable description of a recognized block group
// and the outcome derived from it. Patterns never touch grid state.
package pattern

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/sim/grid"
)

type Kind string

const (
	KindMatch  Kind = "MATCH"
	KindTierUp Kind = "TIER_UP"
	// KindTransmute is reserved; nothing recognizes it yet.
	KindTransmute Kind = "TRANSMUTE"
)

// Priority is fixed per kind. Higher wins during resolution.
func (k Kind) Priority() int {
	switch k {
	case KindTransmute:
		return 300
	case KindTierUp:
		return 200
	case KindMatch:
		return 100
	default:
		return 0
	}
}

func (k Kind) Known() bool { return k.Priority() > 0 }

// MinSize is the smallest group any pattern may describe.
const MinSize = 2

type Pattern struct {
	Kind      Kind
	Type      grid.BlockType
	Tier      int
	Positions []grid.Pos // anchor ordering
}

// New copies and sorts positions. It does not check connectivity; recognizers
// only build patterns from flood-filled regions.
func New(kind Kind, typ grid.BlockType, tier int, positions []grid.Pos) Pattern {
	ps := make([]grid.Pos, len(positions))
	copy(ps, positions)
	grid.SortPositions(ps)
	return Pattern{Kind: kind, Type: typ, Tier: tier, Positions: ps}
}

func (p Pattern) Priority() int { return p.Kind.Priority() }

func (p Pattern) Size() int { return len(p.Positions) }

// Anchor is the lowest position in anchor ordering.
func (p Pattern) Anchor() grid.Pos {
	if len(p.Positions) == 0 {
		return grid.Pos{}
	}
	return p.Positions[0]
}

func (p Pattern) Contains(pos grid.Pos) bool {
	for _, q := range p.Positions {
		if q == pos {
			return true
		}
	}
	return false
}

// Overlaps reports whether the two position sets intersect.
func (p Pattern) Overlaps(o Pattern) bool {
	for _, q := range o.Positions {
		if p.Contains(q) {
			return true
		}
	}
	return false
}

// Key is a stable identity for deduplication and logs.
func (p Pattern) Key() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:%s:%d", p.Kind, p.Type, p.Tier)
	for _, q := range p.Positions {
		fmt.Fprintf(&sb, ":%d,%d", q.X, q.Y)
	}
	return sb.String()
}

// Valid checks the structural invariants of a pattern against a grid view.
func (p Pattern) Valid(at func(grid.Pos) (grid.Block, bool)) error {
	if len(p.Positions) < MinSize {
		return fmt.Errorf("pattern size %d below minimum %d", len(p.Positions), MinSize)
	}
	seen := make(map[grid.Pos]bool, len(p.Positions))
	for _, q := range p.Positions {
		if seen[q] {
			return fmt.Errorf("duplicate position %s", q)
		}
		seen[q] = true
		b, ok := at(q)
		if !ok {
			return fmt.Errorf("empty position %s", q)
		}
		if b.Type != p.Type || b.Tier != p.Tier {
			return fmt.Errorf("position %s holds %s/%d, want %s/%d", q, b.Type, b.Tier, p.Type, p.Tier)
		}
	}
	if !Contiguous(p.Positions) {
		return fmt.Errorf("positions are not contiguous")
	}
	return nil
}

// Contiguous reports whether positions form one orthogonally connected set.
func Contiguous(ps []grid.Pos) bool {
	if len(ps) == 0 {
		return false
	}
	in := make(map[grid.Pos]bool, len(ps))
	for _, p := range ps {
		in[p] = true
	}
	seen := map[grid.Pos]bool{ps[0]: true}
	stack := []grid.Pos{ps[0]}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range cur.Neighbors() {
			if in[n] && !seen[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return len(seen) == len(in)
}

// SizeBonus maps a group size to a reward multiplier.
type SizeBonus struct {
	// Steps[i] applies to size 3+i; the last step applies to every larger size.
	Steps []decimal.Decimal
}

// DefaultSizeBonus: 3 -> x1.0, 4 -> x1.5, 5 -> x2.0, 6+ -> x3.0.
func DefaultSizeBonus() SizeBonus {
	return SizeBonus{Steps: []decimal.Decimal{
		decimal.NewFromInt(1),
		decimal.RequireFromString("1.5"),
		decimal.NewFromInt(2),
		decimal.NewFromInt(3),
	}}
}

func (b SizeBonus) For(size int) decimal.Decimal {
	if len(b.Steps) == 0 {
		return decimal.NewFromInt(1)
	}
	i := size - 3
	if i < 0 {
		i = 0
	}
	if i >= len(b.Steps) {
		i = len(b.Steps) - 1
	}
	return b.Steps[i]
}

type Reward struct {
	Resource string          `json:"resource"`
	Amount   decimal.Decimal `json:"amount"`
}

type Outcome struct {
	Remove     []grid.Pos
	Rewards    []Reward
	SizeBonus  decimal.Decimal
	Chainable  bool
	Multiplier decimal.Decimal // size bonus x chain bonus
}

// ValueTable supplies per-type reward data.
type ValueTable interface {
	BaseValue(t grid.BlockType) decimal.Decimal
	Resource(t grid.BlockType) string
}

// Outcome derives the clear outcome: base value x count x size bonus x chain bonus.
func (p Pattern) Outcome(values ValueTable, bonus SizeBonus, chainBonus decimal.Decimal) Outcome {
	sb := bonus.For(p.Size())
	if chainBonus.IsZero() {
		chainBonus = decimal.NewFromInt(1)
	}
	mult := sb.Mul(chainBonus)
	out := Outcome{
		Remove:     append([]grid.Pos(nil), p.Positions...),
		SizeBonus:  sb,
		Chainable:  p.Kind != KindTransmute,
		Multiplier: mult,
	}
	if values != nil {
		amount := values.BaseValue(p.Type).Mul(decimal.NewFromInt(int64(p.Size()))).Mul(mult)
		if res := values.Resource(p.Type); res != "" && amount.IsPositive() {
			out.Rewards = append(out.Rewards, Reward{Resource: res, Amount: amount})
		}
	}
	return out
}
