// Package replay rebuilds grid state from a snapshot and an effect stream.
package replay

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
)

var (
	ErrFault       = errors.New("effect stream contains a fault")
	ErrIDMismatch  = errors.New("replayed block id differs from logged id")
	ErrMissingPos  = errors.New("effect has no position")
	ErrOutOfOrder  = errors.New("effect sequence out of order")
	ErrUnknownKind = errors.New("unknown effect kind")
)

type Replayer struct {
	store   *grid.Store
	baseSeq uint64
	lastSeq uint64

	Counts  map[effects.Kind]int
	Rewards map[string]decimal.Decimal
	Chains  map[string]int
}

// FromSnapshot seeds a replayer with snap. Effects at or below the
// snapshot sequence are skipped by Apply.
func FromSnapshot(snap snapshot.GridSnapshotV1) (*Replayer, error) {
	r := newReplayer(snap.Width, snap.Height)
	blocks := make([]grid.Block, 0, len(snap.Blocks))
	for _, b := range snap.Blocks {
		blocks = append(blocks, grid.Block{ID: grid.BlockID(b.ID), Type: grid.BlockType(b.Type), Tier: b.Tier, Pos: grid.Pos{X: b.X, Y: b.Y}})
	}
	if err := r.store.Seed(blocks, grid.BlockID(snap.NextID)); err != nil {
		return nil, err
	}
	if snap.Digest != "" && snap.Digest != r.store.Digest() {
		return nil, fmt.Errorf("snapshot digest mismatch")
	}
	r.baseSeq, r.lastSeq = snap.Header.Seq, snap.Header.Seq
	return r, nil
}

// Empty starts from a blank grid.
func Empty(width, height int) *Replayer { return newReplayer(width, height) }

func newReplayer(width, height int) *Replayer {
	return &Replayer{
		store:   grid.NewStore(width, height),
		Counts:  map[effects.Kind]int{},
		Rewards: map[string]decimal.Decimal{},
		Chains:  map[string]int{},
	}
}

func (r *Replayer) Store() *grid.Store { return r.store }
func (r *Replayer) Digest() string     { return r.store.Digest() }
func (r *Replayer) LastSeq() uint64    { return r.lastSeq }

// Apply replays one effect. Effects covered by the seed snapshot are
// skipped; later sequence numbers must increase.
func (r *Replayer) Apply(e effects.Effect) error {
	if e.Seq != 0 {
		if e.Seq <= r.baseSeq {
			return nil
		}
		if e.Seq <= r.lastSeq {
			return fmt.Errorf("%w: seq %d after %d", ErrOutOfOrder, e.Seq, r.lastSeq)
		}
		r.lastSeq = e.Seq
	}
	r.Counts[e.Kind]++
	r.Chains[e.ChainID.String()]++

	switch e.Kind {
	case effects.KindPlaced:
		if e.To == nil {
			return fmt.Errorf("seq %d: %w", e.Seq, ErrMissingPos)
		}
		tier := e.Tier
		if tier == 0 {
			tier = 1
		}
		id, err := r.store.PlaceBlockTier(*e.To, e.Type, tier)
		if err != nil {
			return fmt.Errorf("seq %d: place: %w", e.Seq, err)
		}
		if e.BlockID != 0 && id != e.BlockID {
			return fmt.Errorf("seq %d: %w: got %d want %d", e.Seq, ErrIDMismatch, id, e.BlockID)
		}
	case effects.KindMoved:
		if e.To == nil {
			return fmt.Errorf("seq %d: %w", e.Seq, ErrMissingPos)
		}
		if err := r.store.MoveBlock(e.BlockID, *e.To); err != nil {
			return fmt.Errorf("seq %d: move: %w", e.Seq, err)
		}
	case effects.KindRemoved:
		if _, err := r.store.RemoveBlock(e.BlockID); err != nil {
			return fmt.Errorf("seq %d: remove: %w", e.Seq, err)
		}
	case effects.KindCleared, effects.KindMerged:
		for _, id := range e.BlockIDs {
			if _, err := r.store.RemoveBlock(id); err != nil {
				return fmt.Errorf("seq %d: %s: %w", e.Seq, e.Kind, err)
			}
		}
	case effects.KindReward:
		if e.Reward != nil {
			r.Rewards[e.Reward.Resource] = r.Rewards[e.Reward.Resource].Add(e.Reward.Amount)
		}
	case effects.KindFault:
		return fmt.Errorf("seq %d: %w: %s", e.Seq, ErrFault, e.Error)
	default:
		return fmt.Errorf("seq %d: %w %q", e.Seq, ErrUnknownKind, e.Kind)
	}
	return nil
}
