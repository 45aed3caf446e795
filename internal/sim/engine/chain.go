package engine

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/execute"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/policy"
	"tilecraft.ai/internal/sim/recognize"
)

// apply runs one request on the loop goroutine and settles the board.
func (e *Engine) apply(m mutation) (Result, error) {
	start := time.Now()
	chainID := e.newChainID()
	now := e.now().UTC()
	res := Result{ChainID: chainID}

	var base effects.Effect
	switch m.op {
	case opPlace:
		id, err := e.store.PlaceBlock(m.pos, m.typ)
		if err != nil {
			err = e.rejected(&res, "place", err, zap.Stringer("pos", m.pos), zap.String("type", string(m.typ)))
			return res, err
		}
		res.BlockID = id
		base = effects.Effect{Kind: effects.KindPlaced, BlockID: id, Type: m.typ, Tier: 1, To: effects.PosPtr(m.pos), Triggers: []grid.Pos{m.pos}}
	case opMove:
		b, ok := e.store.Block(m.id)
		if !ok {
			err := e.rejected(&res, "move", grid.ErrUnknownBlock, zap.Uint64("block_id", uint64(m.id)))
			return res, err
		}
		if err := e.store.MoveBlock(m.id, m.pos); err != nil {
			err = e.rejected(&res, "move", err, zap.Uint64("block_id", uint64(m.id)), zap.Stringer("to", m.pos))
			return res, err
		}
		res.BlockID = m.id
		base = effects.Effect{Kind: effects.KindMoved, BlockID: m.id, Type: b.Type, Tier: b.Tier, From: effects.PosPtr(b.Pos), To: effects.PosPtr(m.pos), Triggers: []grid.Pos{m.pos}}
	case opRemove:
		b, err := e.store.RemoveBlock(m.id)
		if err != nil {
			err = e.rejected(&res, "remove", err, zap.Uint64("block_id", uint64(m.id)))
			return res, err
		}
		res.BlockID = m.id
		base = effects.Effect{Kind: effects.KindRemoved, BlockID: b.ID, Type: b.Type, Tier: b.Tier, From: effects.PosPtr(b.Pos)}
	}
	base.ChainID = chainID
	base.Time = now
	e.queue.Push(base)
	requestsTotal.WithLabelValues(opName(m.op), "ok").Inc()

	e.settle(&res, now)
	chainSteps.Observe(float64(res.Steps))
	chainDuration.Observe(time.Since(start).Seconds())
	if res.Steps > 0 {
		e.log.Debug("chain settled",
			zap.Stringer("chain_id", chainID),
			zap.Int("steps", res.Steps),
			zap.Int("patterns", res.Patterns),
			zap.Bool("truncated", res.Truncated),
		)
	}
	return res, nil
}

func (e *Engine) rejected(res *Result, op string, err error, fields ...zap.Field) error {
	var ce *grid.ConsistencyError
	if errors.As(err, &ce) {
		res.Effects = append(res.Effects, e.fault(op, err)...)
		requestsTotal.WithLabelValues(op, "fault").Inc()
		return err
	}
	requestsTotal.WithLabelValues(op, "rejected").Inc()
	e.log.Debug("request rejected", append(fields, zap.String("op", op), zap.Error(err))...)
	return err
}

// fault records a consistency failure and publishes it, together with
// anything still queued, immediately. It returns the published effects.
func (e *Engine) fault(op string, err error) []effects.Effect {
	faultsTotal.Inc()
	e.log.Error("grid consistency failure", zap.String("op", op), zap.Error(err))
	e.queue.Push(effects.Effect{Kind: effects.KindFault, Time: e.now().UTC(), Error: err.Error()})
	drained := e.queue.Drain()
	e.publish(drained)
	return drained
}

// settle drains and publishes effects, then re-runs recognition at the
// positions they name, until a pass resolves nothing or the depth guard trips.
func (e *Engine) settle(res *Result, now time.Time) {
	step := 0
	for {
		drained := e.queue.Drain()
		e.publish(drained)
		res.Effects = append(res.Effects, drained...)

		var triggers []grid.Pos
		for _, ef := range drained {
			triggers = append(triggers, ef.Triggers...)
		}
		triggers = uniquePositions(triggers)
		if len(triggers) == 0 {
			return
		}
		if step >= e.cfg.Chain.MaxDepth {
			res.Truncated = true
			chainsTruncated.Inc()
			e.log.Warn("chain depth guard reached",
				zap.Stringer("chain_id", res.ChainID),
				zap.Int("max_depth", e.cfg.Chain.MaxDepth),
			)
			return
		}
		n, faulted := e.pass(res.ChainID, step, triggers, now)
		res.Patterns += n
		if faulted != nil {
			res.Effects = append(res.Effects, faulted...)
			return
		}
		if n == 0 {
			return
		}
		res.Steps++
		step++
	}
}

// pass runs one recognize, resolve, select, execute round. It returns the
// number of executed patterns and, when the store became corrupted, the
// effects published by the fault.
func (e *Engine) pass(chainID uuid.UUID, step int, triggers []grid.Pos, now time.Time) (int, []effects.Effect) {
	var candidates []pattern.Pattern
	origin := map[string]grid.Pos{}
	for _, t := range triggers {
		b, ok := e.store.BlockAt(t)
		if !ok {
			continue
		}
		ctx := recognize.Context{Kinds: e.kindsFor(b), FloodCap: e.cfg.Grid.FloodCap, Step: step}
		for _, p := range e.recognizers.Recognize(e.store, t, ctx) {
			k := p.Key()
			if _, dup := origin[k]; dup {
				continue
			}
			origin[k] = t
			candidates = append(candidates, p)
		}
	}
	accepted := e.resolver.Resolve(candidates)

	xctx := execute.ExecContext{ChainID: chainID, Step: step, ChainBonus: e.cfg.ChainBonus(step), Now: now}
	executed := 0
	for _, p := range accepted {
		kind := policy.Select(p, e.unlocks)
		if kind == policy.ExecNone {
			continue
		}
		xctx.Trigger = origin[p.Key()]
		out, err := e.executors.Execute(kind, e.store, p, xctx)
		if err != nil {
			if errors.Is(err, grid.ErrCorrupted) || e.store.Corrupted() != nil {
				return executed, e.fault("execute", err)
			}
			e.log.Warn("pattern execution skipped", zap.String("pattern", p.Key()), zap.Error(err))
			continue
		}
		patternsExecuted.WithLabelValues(string(p.Kind), string(kind)).Inc()
		e.queue.Push(out.Effects...)
		executed++
	}
	return executed, nil
}

// kindsFor filters recognition at a trigger block. TierUp only runs when its
// merge target is unlocked; otherwise Match covers the group.
func (e *Engine) kindsFor(b grid.Block) []pattern.Kind {
	kinds := []pattern.Kind{pattern.KindMatch}
	if e.unlocks != nil && e.unlocks.IsTierUnlocked(b.Type, b.Tier+1) {
		kinds = append(kinds, pattern.KindTierUp)
	}
	return kinds
}

func (e *Engine) publish(es []effects.Effect) {
	for _, ef := range es {
		effectsTotal.WithLabelValues(string(ef.Kind)).Inc()
		for _, s := range e.sinks {
			if err := s.WriteEffect(ef); err != nil {
				e.log.Warn("effect sink failed", zap.Uint64("seq", ef.Seq), zap.Error(err))
			}
		}
		e.fanout(ef)
	}
}

func uniquePositions(ps []grid.Pos) []grid.Pos {
	if len(ps) == 0 {
		return nil
	}
	seen := make(map[grid.Pos]bool, len(ps))
	out := ps[:0:0]
	for _, p := range ps {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	grid.SortPositions(out)
	return out
}

func opName(op opKind) string {
	switch op {
	case opPlace:
		return "place"
	case opMove:
		return "move"
	case opRemove:
		return "remove"
	}
	return "unknown"
}
