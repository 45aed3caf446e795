package log

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

func TestEffectLogRotatesAndScans(t *testing.T) {
	dir := t.TempDir()
	l := NewEffectLogger(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	chain := uuid.New()
	write := func(seq uint64, kind effects.Kind) {
		t.Helper()
		require.NoError(t, l.WriteEffect(effects.Effect{Seq: seq, Kind: kind, ChainID: chain, Time: clock}))
	}
	write(1, effects.KindPlaced)
	write(2, effects.KindPlaced)
	clock = clock.Add(2 * time.Minute)
	write(3, effects.KindCleared)
	require.NoError(t, l.WriteEffect(effects.Effect{
		Seq:     4,
		Kind:    effects.KindReward,
		ChainID: chain,
		Reward:  &pattern.Reward{Resource: "MONEY", Amount: decimal.NewFromInt(30)},
	}))
	require.NoError(t, l.Close())

	files, err := Files(filepath.Join(dir, "effects"), "effects")
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "effects-2026-03-01-10.jsonl.zst", filepath.Base(files[0]))
	assert.Equal(t, "effects-2026-03-01-11.jsonl.zst", filepath.Base(files[1]))

	var seqs []uint64
	var total decimal.Decimal
	require.NoError(t, ScanEffects(dir, 0, func(e effects.Effect) error {
		seqs = append(seqs, e.Seq)
		assert.Equal(t, chain, e.ChainID)
		if e.Reward != nil {
			total = total.Add(e.Reward.Amount)
		}
		return nil
	}))
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	assert.True(t, total.Equal(decimal.NewFromInt(30)))

	seqs = nil
	require.NoError(t, ScanEffects(dir, 2, func(e effects.Effect) error {
		seqs = append(seqs, e.Seq)
		return nil
	}))
	assert.Equal(t, []uint64{3, 4}, seqs)
}

func TestReopenAppendsFrames(t *testing.T) {
	dir := t.TempDir()
	fixed := func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }

	for i := 1; i <= 2; i++ {
		l := NewEffectLogger(dir)
		l.w.now = fixed
		require.NoError(t, l.WriteEffect(effects.Effect{Seq: uint64(i), Kind: effects.KindMoved, From: effects.PosPtr(grid.Pos{X: 1, Y: 1})}))
		require.NoError(t, l.Close())
	}

	var got []effects.Effect
	require.NoError(t, ScanEffects(dir, 0, func(e effects.Effect) error {
		got = append(got, e)
		return nil
	}))
	require.Len(t, got, 2)
	assert.Equal(t, grid.Pos{X: 1, Y: 1}, *got[1].From)
}

func TestScanStopsOnCallbackError(t *testing.T) {
	dir := t.TempDir()
	l := NewAuditLogger(dir)
	l.w.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, l.WriteAudit(AuditEntry{GridID: "g", Action: "seed", Seq: 7}))
	require.NoError(t, l.WriteAudit(AuditEntry{GridID: "g", Action: "snapshot", Seq: 9}))
	require.NoError(t, l.Close())

	files, err := Files(filepath.Join(dir, "audit"), "audit")
	require.NoError(t, err)
	require.Len(t, files, 1)

	stop := errors.New("stop")
	var seen []string
	err = ScanFile(files[0], func(a AuditEntry) error {
		seen = append(seen, a.Action)
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, []string{"seed"}, seen)
}
