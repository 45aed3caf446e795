package engine

import (
	"sync/atomic"

	"tilecraft.ai/internal/sim/effects"
)

// Subscription is a buffered view of the effect stream. A full buffer drops
// effects for that subscriber only.
type Subscription struct {
	id      uint64
	ch      chan effects.Effect
	dropped atomic.Uint64
}

func (s *Subscription) C() <-chan effects.Effect { return s.ch }
func (s *Subscription) Dropped() uint64          { return s.dropped.Load() }

// Subscribe registers a subscriber. buf <= 0 uses the tuned default.
func (e *Engine) Subscribe(buf int) *Subscription {
	if buf <= 0 {
		buf = e.cfg.Persist.SubscriberBuffer
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.nextSub++
	s := &Subscription{id: e.nextSub, ch: make(chan effects.Effect, buf)}
	e.subs[s.id] = s
	return s
}

// Unsubscribe closes the subscription channel. It is safe to call twice.
func (e *Engine) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	if _, ok := e.subs[s.id]; !ok {
		return
	}
	delete(e.subs, s.id)
	close(s.ch)
}

func (e *Engine) fanout(ef effects.Effect) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, s := range e.subs {
		select {
		case s.ch <- ef:
		default:
			s.dropped.Add(1)
			subscriberDrops.Inc()
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for id, s := range e.subs {
		delete(e.subs, id)
		close(s.ch)
	}
}
