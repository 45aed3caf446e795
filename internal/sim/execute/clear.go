package execute

import (
	"fmt"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/policy"
)

// Clear removes every block of the pattern and pays out its reward.
type Clear struct {
	Values    pattern.ValueTable
	SizeBonus pattern.SizeBonus
}

func (c *Clear) Kind() policy.ExecutorKind { return policy.ExecClear }

func (c *Clear) Execute(g Grid, p pattern.Pattern, ctx ExecContext) (Result, error) {
	if err := p.Valid(g.BlockAt); err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrStalePattern, p.Key(), err)
	}
	out := p.Outcome(c.Values, c.SizeBonus, ctx.ChainBonus)
	ids, err := removeAll(g, out.Remove)
	if err != nil {
		return Result{}, err
	}

	var affected []grid.Pos
	if out.Chainable {
		affected = occupiedNeighbors(g, out.Remove)
	}
	res := Result{Affected: affected}
	res.Effects = append(res.Effects, ctx.stamp(effects.Effect{
		Kind:      effects.KindCleared,
		Type:      p.Type,
		Tier:      p.Tier,
		Pattern:   p.Kind,
		Positions: out.Remove,
		BlockIDs:  ids,
		Triggers:  affected,
	}))
	for i := range out.Rewards {
		r := out.Rewards[i]
		res.Effects = append(res.Effects, ctx.stamp(effects.Effect{
			Kind:    effects.KindReward,
			Type:    p.Type,
			Tier:    p.Tier,
			Pattern: p.Kind,
			Reward:  &r,
		}))
	}
	return res, nil
}
