// Package effects models completed grid mutations and queues them for
// publication.
package effects

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
)

type Kind string

const (
	KindPlaced  Kind = "PLACED"
	KindRemoved Kind = "REMOVED"
	KindMoved   Kind = "MOVED"
	KindMerged  Kind = "MERGED"
	KindCleared Kind = "CLEARED"
	KindReward  Kind = "REWARD"
	KindFault   Kind = "FAULT"
)

// Effect is an immutable record of something that already happened to the grid.
type Effect struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Time    time.Time `json:"time"`
	ChainID uuid.UUID `json:"chain_id"`
	Step    int       `json:"step"`

	BlockID grid.BlockID   `json:"block_id,omitempty"`
	Type    grid.BlockType `json:"type,omitempty"`
	Tier    int            `json:"tier,omitempty"`
	From    *grid.Pos      `json:"from,omitempty"`
	To      *grid.Pos      `json:"to,omitempty"`

	Pattern   pattern.Kind    `json:"pattern,omitempty"`
	Positions []grid.Pos      `json:"positions,omitempty"`
	BlockIDs  []grid.BlockID  `json:"block_ids,omitempty"`
	Reward    *pattern.Reward `json:"reward,omitempty"`

	// Triggers are positions to re-check for chained patterns.
	Triggers []grid.Pos `json:"triggers,omitempty"`

	Error string `json:"error,omitempty"`
}

func PosPtr(p grid.Pos) *grid.Pos { return &p }

// Queue is a multi-producer, single-consumer effect queue. Push never blocks
// and never drops.
type Queue struct {
	mu    sync.Mutex
	items []Effect
	seq   uint64
	wake  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{wake: make(chan struct{}, 1)}
}

// Push appends effects in order and assigns sequence numbers.
func (q *Queue) Push(es ...Effect) {
	if len(es) == 0 {
		return
	}
	q.mu.Lock()
	for _, e := range es {
		q.seq++
		e.Seq = q.seq
		q.items = append(q.items, e)
	}
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Drain returns every queued effect in push order. Each effect is returned once.
func (q *Queue) Drain() []Effect {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wake receives a value after a Push. Several pushes may collapse into one wake.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

// LastSeq is the highest sequence number handed out so far.
func (q *Queue) LastSeq() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.seq
}

// SetSeq restarts numbering after a restore.
func (q *Queue) SetSeq(seq uint64) {
	q.mu.Lock()
	q.seq = seq
	q.mu.Unlock()
}
