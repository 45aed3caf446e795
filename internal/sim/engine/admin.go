package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/progression"
	"tilecraft.ai/internal/sim/grid"
)

// ProgressionExporter is the progression state carried inside snapshots.
type ProgressionExporter interface {
	Export() progression.Export
	Import(progression.Export) error
}

type adminKind int

const (
	adminExport adminKind = iota + 1
	adminSink
	adminSeed
)

type adminReq struct {
	kind adminKind
	snap snapshot.GridSnapshotV1
	resp chan adminResp
}

type adminResp struct {
	snap snapshot.GridSnapshotV1
	err  error
}

// Snapshot returns a consistent snapshot taken between requests.
func (e *Engine) Snapshot(ctx context.Context) (snapshot.GridSnapshotV1, error) {
	r, err := e.adminCall(ctx, adminReq{kind: adminExport})
	return r.snap, err
}

// RequestSnapshot hands a snapshot to the snapshot sink and returns its sequence number.
func (e *Engine) RequestSnapshot(ctx context.Context) (uint64, error) {
	r, err := e.adminCall(ctx, adminReq{kind: adminSink})
	return r.snap.Header.Seq, err
}

// Seed replaces the grid and progression with snap between requests.
func (e *Engine) Seed(ctx context.Context, snap snapshot.GridSnapshotV1) error {
	_, err := e.adminCall(ctx, adminReq{kind: adminSeed, snap: snap})
	return err
}

func (e *Engine) adminCall(ctx context.Context, req adminReq) (adminResp, error) {
	req.resp = make(chan adminResp, 1)
	select {
	case e.admin <- req:
	case <-e.stop:
		return adminResp{}, ErrStopped
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
	select {
	case r := <-req.resp:
		return r, r.err
	case <-e.stop:
		return adminResp{}, ErrStopped
	case <-ctx.Done():
		return adminResp{}, ctx.Err()
	}
}

func (e *Engine) handleAdmin(r adminReq) {
	var resp adminResp
	switch r.kind {
	case adminExport:
		resp.snap = e.ExportSnapshot()
	case adminSink:
		resp.snap = e.ExportSnapshot()
		resp.err = e.sendSnapshot(resp.snap)
	case adminSeed:
		resp.err = e.ImportSnapshot(r.snap)
	default:
		resp.err = fmt.Errorf("unknown admin request %d", r.kind)
	}
	select {
	case r.resp <- resp:
	default:
	}
}

func (e *Engine) emitSnapshot() {
	snap := e.ExportSnapshot()
	if err := e.sendSnapshot(snap); err != nil {
		e.log.Warn("periodic snapshot skipped", zap.Uint64("seq", snap.Header.Seq), zap.Error(err))
	}
}

func (e *Engine) sendSnapshot(snap snapshot.GridSnapshotV1) error {
	if e.snapshotSink == nil {
		return errors.New("snapshot sink not configured")
	}
	select {
	case e.snapshotSink <- snap:
		return nil
	default:
		return errors.New("snapshot sink backpressure")
	}
}

// ExportSnapshot must run on the engine goroutine or before Run.
func (e *Engine) ExportSnapshot() snapshot.GridSnapshotV1 {
	blocks := e.store.Blocks()
	s := snapshot.GridSnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, GridID: e.id, Seq: e.queue.LastSeq()},
		Width:  e.store.Width(),
		Height: e.store.Height(),
		NextID: uint64(e.store.NextID()),
		Blocks: make([]snapshot.BlockV1, 0, len(blocks)),
		Digest: e.store.Digest(),
	}
	for _, b := range blocks {
		s.Blocks = append(s.Blocks, snapshot.BlockV1{ID: uint64(b.ID), Type: string(b.Type), Tier: b.Tier, X: b.Pos.X, Y: b.Pos.Y})
	}
	if e.progression != nil {
		p := e.progression.Export()
		s.Progression.LastSeq = p.LastSeq
		s.Progression.Ledger = p.Ledger
		for _, u := range p.Unlocks {
			s.Progression.Unlocks = append(s.Progression.Unlocks, snapshot.UnlockV1{Type: string(u.Type), Tier: u.Tier})
		}
	}
	return s
}

// ImportSnapshot must run on the engine goroutine or before Run. The snapshot
// is validated on a scratch store first; a rejected snapshot leaves the live
// grid, including any corruption, untouched.
func (e *Engine) ImportSnapshot(s snapshot.GridSnapshotV1) error {
	if s.Width != e.store.Width() || s.Height != e.store.Height() {
		return fmt.Errorf("snapshot grid %dx%d does not match %dx%d", s.Width, s.Height, e.store.Width(), e.store.Height())
	}
	blocks := make([]grid.Block, 0, len(s.Blocks))
	for _, b := range s.Blocks {
		blocks = append(blocks, grid.Block{ID: grid.BlockID(b.ID), Type: grid.BlockType(b.Type), Tier: b.Tier, Pos: grid.Pos{X: b.X, Y: b.Y}})
	}
	scratch := grid.NewStore(s.Width, s.Height)
	if err := scratch.Seed(blocks, grid.BlockID(s.NextID)); err != nil {
		return err
	}
	if s.Digest != "" && s.Digest != scratch.Digest() {
		return fmt.Errorf("snapshot digest mismatch")
	}
	if e.progression != nil {
		p := progression.Export{Ledger: s.Progression.Ledger, LastSeq: s.Progression.LastSeq}
		for _, u := range s.Progression.Unlocks {
			p.Unlocks = append(p.Unlocks, progression.Unlock{Type: grid.BlockType(u.Type), Tier: u.Tier})
		}
		if err := e.progression.Import(p); err != nil {
			return fmt.Errorf("progression: %w", err)
		}
	}
	// Same input already passed on scratch.
	if err := e.store.Seed(blocks, scratch.NextID()); err != nil {
		return err
	}
	e.queue.SetSeq(s.Header.Seq)
	e.log.Info("grid seeded",
		zap.String("grid_id", e.id),
		zap.Int("blocks", len(blocks)),
		zap.Uint64("seq", s.Header.Seq),
	)
	return nil
}
