package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/progression"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/tuning"
)

type harness struct {
	eng  *Engine
	prog *progression.State
	ctx  context.Context
}

func start(t *testing.T, mutate func(*tuning.Tuning), seed []snapshot.BlockV1, opts ...Option) *harness {
	t.Helper()
	cfg := tuning.Defaults()
	if mutate != nil {
		mutate(&cfg)
	}
	prog := progression.New()
	opts = append([]Option{
		WithSinks(prog),
		WithProgression(prog),
		WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	}, opts...)
	eng, err := New("test", cfg, catalogs.Default(), prog, opts...)
	require.NoError(t, err)
	if seed != nil {
		require.NoError(t, eng.ImportSnapshot(snapshot.GridSnapshotV1{
			Header: snapshot.Header{Version: snapshot.Version},
			Width:  cfg.Grid.Width,
			Height: cfg.Grid.Height,
			Blocks: seed,
		}))
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{eng: eng, prog: prog, ctx: ctx}
}

func (h *harness) place(t *testing.T, x, y int, typ grid.BlockType) Result {
	t.Helper()
	res, err := h.eng.Place(h.ctx, grid.Pos{X: x, Y: y}, typ)
	require.NoError(t, err)
	return res
}

func kinds(es []effects.Effect) []effects.Kind {
	out := make([]effects.Kind, 0, len(es))
	for _, e := range es {
		out = append(out, e.Kind)
	}
	return out
}

func TestThreeWorkClearWithoutUnlock(t *testing.T) {
	h := start(t, nil, nil)
	h.place(t, 0, 0, grid.Work)
	h.place(t, 1, 0, grid.Work)
	res := h.place(t, 2, 0, grid.Work)

	assert.Equal(t, []effects.Kind{effects.KindPlaced, effects.KindCleared, effects.KindReward}, kinds(res.Effects))
	assert.Equal(t, 1, res.Steps)
	assert.Empty(t, h.eng.Blocks())
	assert.True(t, h.prog.Balance("MONEY").Equal(decimal.NewFromInt(30)), h.prog.Balance("MONEY").String())
}

func TestThreeWorkMergeWithUnlock(t *testing.T) {
	h := start(t, nil, nil)
	h.prog.Unlock(grid.Work, 2)
	h.place(t, 0, 0, grid.Work)
	h.place(t, 1, 0, grid.Work)
	res := h.place(t, 2, 0, grid.Work)

	b, ok := h.eng.BlockAt(grid.Pos{X: 1, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 2, b.Tier)
	_, ok = h.eng.BlockAt(grid.Pos{X: 0, Y: 0})
	assert.False(t, ok)
	_, ok = h.eng.BlockAt(grid.Pos{X: 2, Y: 0})
	assert.False(t, ok)
	assert.Contains(t, kinds(res.Effects), effects.KindMerged)
	assert.True(t, h.prog.Balance("MONEY").IsZero())
}

func TestLShapeTierUpLowerAnchorWins(t *testing.T) {
	h := start(t, nil, []snapshot.BlockV1{
		{ID: 1, Type: "HEALTH", Tier: 1, X: 0, Y: 0},
		{ID: 2, Type: "HEALTH", Tier: 1, X: 2, Y: 0},
		{ID: 3, Type: "HEALTH", Tier: 1, X: 2, Y: 1},
	})
	h.prog.Unlock(grid.Health, 2)
	h.place(t, 1, 0, grid.Health)

	merged, ok := h.eng.BlockAt(grid.Pos{X: 1, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 2, merged.Tier)
	left, ok := h.eng.BlockAt(grid.Pos{X: 2, Y: 1})
	require.True(t, ok)
	assert.Equal(t, 1, left.Tier)
	assert.Len(t, h.eng.Blocks(), 2)
}

func TestMoveOntoOccupiedLeavesGrid(t *testing.T) {
	h := start(t, nil, nil)
	a := h.place(t, 0, 0, grid.Work)
	h.place(t, 1, 1, grid.Study)
	before := h.eng.Digest()

	_, err := h.eng.Move(h.ctx, a.BlockID, grid.Pos{X: 1, Y: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, grid.ErrOccupied))
	assert.Equal(t, before, h.eng.Digest())

	b, ok := h.eng.BlockAt(grid.Pos{X: 0, Y: 0})
	require.True(t, ok)
	assert.Equal(t, a.BlockID, b.ID)
}

func TestMoveKeepsIdentityAndTriggersMatch(t *testing.T) {
	h := start(t, nil, nil)
	h.place(t, 0, 0, grid.Rest)
	h.place(t, 1, 0, grid.Rest)
	far := h.place(t, 5, 5, grid.Rest)
	res, err := h.eng.Move(h.ctx, far.BlockID, grid.Pos{X: 2, Y: 0})
	require.NoError(t, err)
	require.NotEmpty(t, res.Effects)
	assert.Equal(t, effects.KindMoved, res.Effects[0].Kind)
	assert.Equal(t, far.BlockID, res.Effects[0].BlockID)
	assert.Contains(t, kinds(res.Effects), effects.KindCleared)
	assert.Empty(t, h.eng.Blocks())
}

// chainBoard: tier-2 WORK at (1,1),(1,2); tier-1 WORK at (0,0),(2,0).
// Placing (1,0) merges into a tier-2 block at (1,0), which completes a
// tier-2 line that is cleared on the next step.
func chainBoard() []snapshot.BlockV1 {
	return []snapshot.BlockV1{
		{ID: 1, Type: "WORK", Tier: 2, X: 1, Y: 1},
		{ID: 2, Type: "WORK", Tier: 2, X: 1, Y: 2},
		{ID: 3, Type: "WORK", Tier: 1, X: 0, Y: 0},
		{ID: 4, Type: "WORK", Tier: 1, X: 2, Y: 0},
	}
}

func TestChainDoublesBonus(t *testing.T) {
	h := start(t, nil, chainBoard())
	h.prog.Unlock(grid.Work, 2)
	res := h.place(t, 1, 0, grid.Work)

	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.Truncated)
	assert.Empty(t, h.eng.Blocks())

	var reward *effects.Effect
	for i := range res.Effects {
		if res.Effects[i].Kind == effects.KindReward {
			reward = &res.Effects[i]
		}
	}
	require.NotNil(t, reward)
	assert.Equal(t, 1, reward.Step)
	// 10 x 3 x 1.0 x 2
	assert.True(t, reward.Reward.Amount.Equal(decimal.NewFromInt(60)), reward.Reward.Amount.String())
	for _, e := range res.Effects {
		assert.Equal(t, res.ChainID, e.ChainID)
	}
}

func TestDepthGuardStopsChain(t *testing.T) {
	h := start(t, func(c *tuning.Tuning) { c.Chain.MaxDepth = 1 }, chainBoard())
	h.prog.Unlock(grid.Work, 2)
	res := h.place(t, 1, 0, grid.Work)

	assert.Equal(t, 1, res.Steps)
	assert.True(t, res.Truncated)
	assert.Len(t, h.eng.Blocks(), 3)
}

func TestStableBoardIsIdempotent(t *testing.T) {
	h := start(t, nil, nil)
	for i, typ := range []grid.BlockType{grid.Work, grid.Study, grid.Work, grid.Study} {
		res := h.place(t, i, 0, typ)
		assert.Equal(t, 0, res.Steps)
		assert.Equal(t, []effects.Kind{effects.KindPlaced}, kinds(res.Effects))
	}
	assert.Len(t, h.eng.Blocks(), 4)
}

func TestValidationErrors(t *testing.T) {
	h := start(t, nil, nil)
	_, err := h.eng.Place(h.ctx, grid.Pos{X: -1, Y: 0}, grid.Work)
	assert.True(t, errors.Is(err, grid.ErrOutOfBounds))
	_, err = h.eng.Place(h.ctx, grid.Pos{X: 0, Y: 0}, grid.BlockType("NAP"))
	assert.True(t, errors.Is(err, grid.ErrUnknownType))
	_, err = h.eng.Remove(h.ctx, 999)
	assert.True(t, errors.Is(err, grid.ErrUnknownBlock))
	_, err = h.eng.RemoveAt(h.ctx, grid.Pos{X: 3, Y: 3})
	assert.True(t, errors.Is(err, grid.ErrEmpty))
	_, err = h.eng.RemoveAt(h.ctx, grid.Pos{X: -1, Y: 3})
	assert.True(t, errors.Is(err, grid.ErrOutOfBounds))
	h.place(t, 4, 4, grid.Rest)
	_, err = h.eng.Move(h.ctx, 1, grid.Pos{X: 4, Y: 4})
	assert.True(t, errors.Is(err, grid.ErrOccupied))
	assert.Equal(t, uint64(1), h.eng.LastSeq())
}

func TestSubscribersSeeOrderedStream(t *testing.T) {
	h := start(t, nil, nil)
	sub := h.eng.Subscribe(64)
	h.place(t, 0, 0, grid.Leisure)
	h.place(t, 0, 1, grid.Leisure)
	h.place(t, 0, 2, grid.Leisure)

	var got []effects.Effect
	timeout := time.After(2 * time.Second)
	for len(got) < 5 {
		select {
		case e := <-sub.C():
			got = append(got, e)
		case <-timeout:
			t.Fatalf("timed out, got %v", kinds(got))
		}
	}
	for i := 1; i < len(got); i++ {
		assert.Greater(t, got[i].Seq, got[i-1].Seq)
	}
	assert.Equal(t, effects.KindReward, got[4].Kind)
	h.eng.Unsubscribe(sub)
	h.eng.Unsubscribe(sub)
	_, open := <-sub.C()
	assert.False(t, open)
}

func TestSlowSubscriberDrops(t *testing.T) {
	h := start(t, nil, nil)
	sub := h.eng.Subscribe(1)
	h.place(t, 0, 0, grid.Work)
	h.place(t, 4, 4, grid.Work)
	assert.Equal(t, uint64(1), sub.Dropped())
}

func TestSnapshotSeedRoundTrip(t *testing.T) {
	h := start(t, nil, nil)
	h.prog.Unlock(grid.Study, 2)
	h.place(t, 0, 0, grid.Work)
	h.place(t, 3, 3, grid.Study)
	snap, err := h.eng.Snapshot(h.ctx)
	require.NoError(t, err)
	assert.Len(t, snap.Blocks, 2)
	assert.Equal(t, h.eng.Digest(), snap.Digest)
	assert.Equal(t, uint64(2), snap.Header.Seq)

	other := start(t, nil, nil)
	require.NoError(t, other.eng.Seed(other.ctx, snap))
	assert.Equal(t, h.eng.Digest(), other.eng.Digest())
	assert.True(t, other.prog.IsTierUnlocked(grid.Study, 2))
	res := other.place(t, 5, 5, grid.Rest)
	assert.Equal(t, grid.BlockID(3), res.BlockID)
	assert.Equal(t, uint64(3), res.Effects[0].Seq)

	bad := snap
	bad.Digest = "deadbeef"
	require.Error(t, other.eng.Seed(other.ctx, bad))
	assert.Len(t, other.eng.Blocks(), 3)
}

func TestRequestSnapshotUsesSink(t *testing.T) {
	cfg := tuning.Defaults()
	sink := make(chan snapshot.GridSnapshotV1, 1)
	eng, err := New("g", cfg, nil, nil, WithSnapshotSink(sink))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = eng.Run(ctx) }()

	seq, err := eng.RequestSnapshot(ctx)
	require.NoError(t, err)
	got := <-sink
	assert.Equal(t, seq, got.Header.Seq)
	assert.Equal(t, "g", got.Header.GridID)

	sink <- got
	_, err = eng.RequestSnapshot(ctx)
	assert.Error(t, err, "full sink must report backpressure")
}

func TestStoppedEngineRejectsRequests(t *testing.T) {
	eng, err := New("g", tuning.Defaults(), nil, nil)
	require.NoError(t, err)
	eng.Stop()
	eng.Stop()
	_, err = eng.Place(context.Background(), grid.Pos{}, grid.Work)
	assert.True(t, errors.Is(err, ErrStopped))
}

func TestCancelledRunRejectsRequests(t *testing.T) {
	eng, err := New("g", tuning.Defaults(), nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx) }()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)

	returned := make(chan error, 2)
	go func() {
		_, err := eng.Place(context.Background(), grid.Pos{}, grid.Work)
		returned <- err
	}()
	go func() {
		_, err := eng.Snapshot(context.Background())
		returned <- err
	}()
	for i := 0; i < 2; i++ {
		select {
		case err := <-returned:
			assert.True(t, errors.Is(err, ErrStopped), "got %v", err)
		case <-time.After(2 * time.Second):
			t.Fatalf("request hung after Run returned")
		}
	}
}

// corruptingStore fails every index insert once armed, so the next move
// cannot roll back.
func corruptingStore() (*grid.Store, func()) {
	cfg := tuning.Defaults()
	s := grid.NewStore(cfg.Grid.Width, cfg.Grid.Height)
	arm := func() { s.SetInsertHook(func(grid.Pos) error { return errors.New("index write failed") }) }
	return s, arm
}

func TestConsistencyFailurePublishesFault(t *testing.T) {
	store, arm := corruptingStore()
	h := start(t, nil, nil, WithStore(store))
	sub := h.eng.Subscribe(16)
	b := h.place(t, 0, 0, grid.Work)
	<-sub.C()

	arm()
	res, err := h.eng.Move(h.ctx, b.BlockID, grid.Pos{X: 2, Y: 2})
	var cerr *grid.ConsistencyError
	require.True(t, errors.As(err, &cerr), "got %v", err)
	require.Equal(t, []effects.Kind{effects.KindFault}, kinds(res.Effects))
	assert.NotEmpty(t, res.Effects[0].Error)

	select {
	case ef := <-sub.C():
		assert.Equal(t, effects.KindFault, ef.Kind)
		assert.Equal(t, res.Effects[0].Seq, ef.Seq)
	case <-time.After(2 * time.Second):
		t.Fatalf("no FAULT effect published")
	}
	require.Error(t, h.eng.Corrupted())

	store.SetInsertHook(nil)
	_, err = h.eng.Place(h.ctx, grid.Pos{X: 5, Y: 5}, grid.Rest)
	assert.True(t, errors.Is(err, grid.ErrCorrupted))
	_, err = h.eng.Remove(h.ctx, b.BlockID)
	assert.True(t, errors.Is(err, grid.ErrCorrupted))
}

func TestRejectedSeedKeepsCorruption(t *testing.T) {
	store, arm := corruptingStore()
	h := start(t, nil, nil, WithStore(store))
	h.place(t, 0, 0, grid.Work)
	b := h.place(t, 3, 3, grid.Study)
	good, err := h.eng.Snapshot(h.ctx)
	require.NoError(t, err)

	arm()
	_, err = h.eng.Move(h.ctx, b.BlockID, grid.Pos{X: 6, Y: 6})
	require.Error(t, err)
	store.SetInsertHook(nil)
	before := h.eng.Blocks()

	bad := good
	bad.Digest = "deadbeef"
	require.Error(t, h.eng.Seed(h.ctx, bad))
	require.Error(t, h.eng.Corrupted(), "rejected seed must not clear corruption")
	assert.Equal(t, before, h.eng.Blocks())
	_, err = h.eng.Place(h.ctx, grid.Pos{X: 5, Y: 5}, grid.Rest)
	assert.True(t, errors.Is(err, grid.ErrCorrupted))

	require.NoError(t, h.eng.Seed(h.ctx, good))
	require.NoError(t, h.eng.Corrupted())
	require.NoError(t, store.Check())
	assert.Len(t, h.eng.Blocks(), 2)
	h.place(t, 5, 5, grid.Rest)
}

func TestStoreMustMatchTuning(t *testing.T) {
	_, err := New("g", tuning.Defaults(), nil, nil, WithStore(grid.NewStore(2, 2)))
	assert.Error(t, err)
}
