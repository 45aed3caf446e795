// Package engine runs the grid: it applies requests, drives recognition and
// execution to a stable board, and publishes the resulting effects.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/execute"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/policy"
	"tilecraft.ai/internal/sim/recognize"
	"tilecraft.ai/internal/sim/resolve"
	"tilecraft.ai/internal/sim/tuning"
)

var ErrStopped = errors.New("engine stopped")

// Sink receives every published effect on the engine goroutine. Sinks must not block.
type Sink interface {
	WriteEffect(e effects.Effect) error
}

type SnapshotRecorder interface {
	RecordSnapshot(path string, snap snapshot.GridSnapshotV1)
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func WithSinks(s ...Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, s...) }
}

// WithSnapshotSink receives periodic and requested snapshots. Sends never block.
func WithSnapshotSink(ch chan<- snapshot.GridSnapshotV1) Option {
	return func(e *Engine) { e.snapshotSink = ch }
}

// WithStore runs the engine over s instead of a fresh store. Its dimensions
// must match the tuning.
func WithStore(s *grid.Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

// WithProgression attaches the exporter whose state is embedded in snapshots.
func WithProgression(p ProgressionExporter) Option {
	return func(e *Engine) { e.progression = p }
}

// Engine is the single writer for one grid. All mutations run on the Run goroutine;
// queries read the store directly.
type Engine struct {
	id   string
	cfg  tuning.Tuning
	cats *catalogs.Catalogs

	store       *grid.Store
	unlocks     policy.UnlockReader
	recognizers *recognize.Registry
	resolver    resolve.Resolver
	executors   *execute.Registry
	queue       *effects.Queue

	log *zap.Logger
	now func() time.Time

	mutate chan mutation
	admin  chan adminReq
	stop   chan struct{}
	once   sync.Once

	subMu   sync.Mutex
	subs    map[uint64]*Subscription
	nextSub uint64

	sinks        []Sink
	snapshotSink chan<- snapshot.GridSnapshotV1
	progression  ProgressionExporter
}

func New(id string, cfg tuning.Tuning, cats *catalogs.Catalogs, unlocks policy.UnlockReader, opts ...Option) (*Engine, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("tuning: %w", err)
	}
	if cats == nil {
		cats = catalogs.Default()
	}
	bonus, err := cfg.SizeBonus()
	if err != nil {
		return nil, err
	}

	match := recognize.NewMatch()
	match.MinSize = cfg.Match.MinSize
	match.Disabled = !cfg.Match.Enabled
	tierUp := recognize.NewTierUp()
	tierUp.Disabled = !cfg.TierUp.Enabled
	recs, err := recognize.NewRegistry(match, tierUp)
	if err != nil {
		return nil, err
	}

	clearer := &execute.Clear{Values: cats, SizeBonus: bonus}
	merge := &execute.Merge{Catalog: cats, Anchor: execute.AnchorPolicy(cfg.Merge.Anchor), Fallback: clearer}

	e := &Engine{
		id:          id,
		cfg:         cfg,
		cats:        cats,
		store:       grid.NewStore(cfg.Grid.Width, cfg.Grid.Height),
		unlocks:     unlocks,
		recognizers: recs,
		executors:   execute.NewRegistry(clearer, merge),
		queue:       effects.NewQueue(),
		log:         zap.NewNop(),
		now:         time.Now,
		mutate:      make(chan mutation, 256),
		admin:       make(chan adminReq, 16),
		stop:        make(chan struct{}),
		subs:        map[uint64]*Subscription{},
	}
	for _, o := range opts {
		o(e)
	}
	if e.store.Width() != cfg.Grid.Width || e.store.Height() != cfg.Grid.Height {
		return nil, fmt.Errorf("store %dx%d does not match tuning %dx%d", e.store.Width(), e.store.Height(), cfg.Grid.Width, cfg.Grid.Height)
	}
	e.resolver = resolve.Resolver{
		Enabled: recs.Enabled,
		OnReject: func(p pattern.Pattern, reason string) {
			e.log.Warn("pattern excluded", zap.String("pattern", p.Key()), zap.String("reason", reason))
			patternsRejected.WithLabelValues(string(p.Kind)).Inc()
		},
	}
	return e, nil
}

func (e *Engine) ID() string                   { return e.id }
func (e *Engine) Tuning() tuning.Tuning        { return e.cfg }
func (e *Engine) Catalogs() *catalogs.Catalogs { return e.cats }

func (e *Engine) Run(ctx context.Context) error {
	var snapC <-chan time.Time
	if every := e.cfg.Persist.SnapshotEverySeconds; every > 0 && e.snapshotSink != nil {
		t := time.NewTicker(time.Duration(every) * time.Second)
		defer t.Stop()
		snapC = t.C
	}
	defer e.closeSubscribers()
	// Callers parked on a request see ErrStopped once the loop is gone.
	defer e.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return nil
		case m := <-e.mutate:
			res, err := e.apply(m)
			reply(m.resp, response{res: res, err: err})
		case r := <-e.admin:
			e.handleAdmin(r)
		case <-snapC:
			e.emitSnapshot()
		case <-e.queue.Wake():
			// Effects pushed outside a request (none today) still get published.
			e.publish(e.queue.Drain())
		}
	}
}

func (e *Engine) Stop() { e.once.Do(func() { close(e.stop) }) }

// Queries. Safe from any goroutine.

func (e *Engine) BlockAt(p grid.Pos) (grid.Block, bool) { return e.store.BlockAt(p) }
func (e *Engine) Adjacent(p grid.Pos) []grid.Block      { return e.store.AdjacentBlocks(p) }
func (e *Engine) Blocks() []grid.Block                  { return e.store.Blocks() }
func (e *Engine) Digest() string                        { return e.store.Digest() }
func (e *Engine) Width() int                            { return e.store.Width() }
func (e *Engine) Height() int                           { return e.store.Height() }
func (e *Engine) Corrupted() error                      { return e.store.Corrupted() }
func (e *Engine) LastSeq() uint64                       { return e.queue.LastSeq() }

func (e *Engine) newChainID() uuid.UUID { return uuid.New() }
