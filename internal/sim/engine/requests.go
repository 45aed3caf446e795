package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
)

type opKind int

const (
	opPlace opKind = iota + 1
	opMove
	opRemove
)

type mutation struct {
	op   opKind
	pos  grid.Pos
	typ  grid.BlockType
	id   grid.BlockID
	resp chan response
}

type response struct {
	res Result
	err error
}

// Result describes one request and the chain it set off.
type Result struct {
	BlockID grid.BlockID
	ChainID uuid.UUID
	// Steps is the number of recognition passes that resolved at least one pattern.
	Steps     int
	Patterns  int
	Truncated bool
	Effects   []effects.Effect
}

func reply(ch chan response, r response) {
	if ch == nil {
		return
	}
	select {
	case ch <- r:
	default:
		// Caller gave up; never block the loop.
	}
}

func (e *Engine) Place(ctx context.Context, pos grid.Pos, typ grid.BlockType) (Result, error) {
	return e.submit(ctx, mutation{op: opPlace, pos: pos, typ: typ})
}

func (e *Engine) Move(ctx context.Context, id grid.BlockID, to grid.Pos) (Result, error) {
	return e.submit(ctx, mutation{op: opMove, id: id, pos: to})
}

func (e *Engine) Remove(ctx context.Context, id grid.BlockID) (Result, error) {
	return e.submit(ctx, mutation{op: opRemove, id: id})
}

// RemoveAt removes whatever block occupies pos.
func (e *Engine) RemoveAt(ctx context.Context, pos grid.Pos) (Result, error) {
	if !e.store.InBounds(pos) {
		return Result{}, fmt.Errorf("%w: %s", grid.ErrOutOfBounds, pos)
	}
	b, ok := e.store.BlockAt(pos)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", grid.ErrEmpty, pos)
	}
	return e.Remove(ctx, b.ID)
}

func (e *Engine) submit(ctx context.Context, m mutation) (Result, error) {
	m.resp = make(chan response, 1)
	select {
	case e.mutate <- m:
	case <-e.stop:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	select {
	case r := <-m.resp:
		return r.res, r.err
	case <-e.stop:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
