// Package policy decides how a resolved pattern is executed.
package policy

import (
	"sync"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

type ExecutorKind string

const (
	ExecNone  ExecutorKind = "NONE"
	ExecClear ExecutorKind = "CLEAR"
	ExecMerge ExecutorKind = "MERGE"
)

// UnlockReader is the read-only port onto progression unlock flags.
type UnlockReader interface {
	IsTierUnlocked(t grid.BlockType, targetTier int) bool
}

type UnlockFunc func(t grid.BlockType, targetTier int) bool

func (f UnlockFunc) IsTierUnlocked(t grid.BlockType, targetTier int) bool { return f(t, targetTier) }

// Select maps a pattern to an executor. It is a pure function of its inputs.
//
//	MATCH    unlocked -> MERGE, otherwise CLEAR
//	TIER_UP  unlocked -> MERGE, otherwise CLEAR
//	other    NONE
func Select(p pattern.Pattern, unlocks UnlockReader) ExecutorKind {
	unlocked := unlocks != nil && unlocks.IsTierUnlocked(p.Type, p.Tier+1)
	switch p.Kind {
	case pattern.KindMatch:
		if unlocked && p.Size() >= 3 {
			return ExecMerge
		}
		return ExecClear
	case pattern.KindTierUp:
		if unlocked {
			return ExecMerge
		}
		return ExecClear
	default:
		return ExecNone
	}
}

type unlockKey struct {
	t    grid.BlockType
	tier int
}

// Unlocks is a concurrency-safe in-memory UnlockReader.
type Unlocks struct {
	mu  sync.RWMutex
	set map[unlockKey]bool
}

func NewUnlocks() *Unlocks { return &Unlocks{set: map[unlockKey]bool{}} }

func (u *Unlocks) Unlock(t grid.BlockType, targetTier int) {
	u.mu.Lock()
	u.set[unlockKey{t, targetTier}] = true
	u.mu.Unlock()
}

func (u *Unlocks) Lock(t grid.BlockType, targetTier int) {
	u.mu.Lock()
	delete(u.set, unlockKey{t, targetTier})
	u.mu.Unlock()
}

func (u *Unlocks) IsTierUnlocked(t grid.BlockType, targetTier int) bool {
	if u == nil {
		return false
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.set[unlockKey{t, targetTier}]
}
