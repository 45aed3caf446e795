// Package progression owns the player's unlock flags and reward totals.
// The engine only reads unlocks through IsTierUnlocked.
package progression

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/grid"
)

type Unlock struct {
	Type grid.BlockType `json:"type"`
	Tier int            `json:"tier"`
}

type State struct {
	mu      sync.RWMutex
	unlocks map[Unlock]bool
	ledger  map[string]decimal.Decimal
	lastSeq uint64
}

func New() *State {
	return &State{unlocks: map[Unlock]bool{}, ledger: map[string]decimal.Decimal{}}
}

func (s *State) IsTierUnlocked(t grid.BlockType, targetTier int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unlocks[Unlock{t, targetTier}]
}

func (s *State) Unlock(t grid.BlockType, targetTier int) {
	s.mu.Lock()
	s.unlocks[Unlock{t, targetTier}] = true
	s.mu.Unlock()
}

func (s *State) Lock(t grid.BlockType, targetTier int) {
	s.mu.Lock()
	delete(s.unlocks, Unlock{t, targetTier})
	s.mu.Unlock()
}

// Apply credits REWARD effects to the ledger. Effects at or below the last
// applied sequence number are ignored, so replays are harmless.
func (s *State) Apply(es ...effects.Effect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range es {
		if e.Seq != 0 && e.Seq <= s.lastSeq {
			continue
		}
		if e.Seq > s.lastSeq {
			s.lastSeq = e.Seq
		}
		if e.Kind != effects.KindReward || e.Reward == nil {
			continue
		}
		s.ledger[e.Reward.Resource] = s.ledger[e.Reward.Resource].Add(e.Reward.Amount)
	}
}

func (s *State) Balance(resource string) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ledger[resource]
}

// Export is the persisted form of the state.
type Export struct {
	Unlocks []Unlock          `json:"unlocks"`
	Ledger  map[string]string `json:"ledger"`
	LastSeq uint64            `json:"last_seq"`
}

func (s *State) Export() Export {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Export{Ledger: make(map[string]string, len(s.ledger)), LastSeq: s.lastSeq}
	for u := range s.unlocks {
		out.Unlocks = append(out.Unlocks, u)
	}
	sort.Slice(out.Unlocks, func(i, j int) bool {
		if out.Unlocks[i].Type != out.Unlocks[j].Type {
			return out.Unlocks[i].Type < out.Unlocks[j].Type
		}
		return out.Unlocks[i].Tier < out.Unlocks[j].Tier
	})
	for k, v := range s.ledger {
		out.Ledger[k] = v.String()
	}
	return out
}

// Import replaces the state. It fails without changes on a bad ledger amount.
func (s *State) Import(e Export) error {
	ledger := make(map[string]decimal.Decimal, len(e.Ledger))
	for k, v := range e.Ledger {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return err
		}
		ledger[k] = d
	}
	unlocks := make(map[Unlock]bool, len(e.Unlocks))
	for _, u := range e.Unlocks {
		unlocks[u] = true
	}
	s.mu.Lock()
	s.unlocks = unlocks
	s.ledger = ledger
	s.lastSeq = e.LastSeq
	s.mu.Unlock()
	return nil
}

// WriteEffect lets the state sit directly in the engine's effect sinks.
func (s *State) WriteEffect(e effects.Effect) error {
	s.Apply(e)
	return nil
}
