package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEffect   atomic.Uint64
	dropSnapshot atomic.Uint64
	writeErrors  atomic.Uint64
}

type reqKind int

const (
	reqEffect reqKind = iota + 1
	reqSnapshot
)

type req struct {
	kind reqKind

	effect   effects.Effect
	snapshot snapshotRow
}

type snapshotRow struct {
	Seq        uint64
	GridID     string
	Path       string
	Width      int
	Height     int
	Blocks     int
	Digest     string
	RecordedAt string
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS effects (
			seq INTEGER PRIMARY KEY,
			kind TEXT NOT NULL,
			time_ms INTEGER NOT NULL,
			chain_id TEXT NOT NULL,
			step INTEGER NOT NULL,
			block_id INTEGER,
			block_type TEXT,
			tier INTEGER,
			pattern TEXT,
			resource TEXT,
			amount TEXT,
			raw_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_chain ON effects(chain_id, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_effects_kind ON effects(kind, seq);`,
		`CREATE TABLE IF NOT EXISTS chains (
			chain_id TEXT PRIMARY KEY,
			first_seq INTEGER NOT NULL,
			last_seq INTEGER NOT NULL,
			max_step INTEGER NOT NULL,
			effects INTEGER NOT NULL,
			rewards INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			grid_id TEXT NOT NULL,
			path TEXT NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			blocks INTEGER NOT NULL,
			digest TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteEffect enqueues e for indexing. It never blocks; the effect log
// remains the source of truth when the queue is full.
func (s *SQLiteIndex) WriteEffect(e effects.Effect) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqEffect, effect: e}:
	default:
		s.dropEffect.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.GridSnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := snapshotRowFor(path, snap)
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

func snapshotRowFor(path string, snap snapshot.GridSnapshotV1) snapshotRow {
	return snapshotRow{
		Seq:        snap.Header.Seq,
		GridID:     snap.Header.GridID,
		Path:       path,
		Width:      snap.Width,
		Height:     snap.Height,
		Blocks:     len(snap.Blocks),
		Digest:     snap.Digest,
		RecordedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

type catalogRow struct {
	name   string
	digest string
	data   []byte
}

func catalogRows(cats *catalogs.Catalogs, tune tuning.Tuning) []catalogRow {
	var rows []catalogRow
	if cats != nil {
		defs := make([]catalogs.BlockDef, 0, len(cats.Blocks.Palette))
		for _, t := range cats.Blocks.Palette {
			defs = append(defs, cats.Blocks.Defs[t])
		}
		if b, err := json.Marshal(defs); err == nil {
			rows = append(rows, catalogRow{name: "blocks_defs", digest: cats.Blocks.DefsDigest, data: b})
		}
	}
	if b, err := json.Marshal(tune); err == nil {
		rows = append(rows, catalogRow{name: "tuning", digest: tune.Digest(), data: b})
	}
	return rows
}

func (s *SQLiteIndex) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range catalogRows(cats, tune) {
		if r.digest == "" || len(r.data) == 0 {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.data), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropEffectTotal   uint64
	DropSnapshotTotal uint64
	WriteErrorTotal   uint64
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEffectTotal:   s.dropEffect.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
		WriteErrorTotal:   s.writeErrors.Load(),
	}
}

type ChainSummary struct {
	ChainID  uuid.UUID
	FirstSeq uint64
	LastSeq  uint64
	MaxStep  int
	Effects  int
	Rewards  int
}

// Chain returns the summary row for id. ok is false when the chain is unknown.
func (s *SQLiteIndex) Chain(ctx context.Context, id uuid.UUID) (ChainSummary, bool, error) {
	var c ChainSummary
	var first, last int64
	err := s.db.QueryRowContext(ctx,
		`SELECT first_seq,last_seq,max_step,effects,rewards FROM chains WHERE chain_id=?`, id.String(),
	).Scan(&first, &last, &c.MaxStep, &c.Effects, &c.Rewards)
	if err == sql.ErrNoRows {
		return ChainSummary{}, false, nil
	}
	if err != nil {
		return ChainSummary{}, false, err
	}
	c.ChainID, c.FirstSeq, c.LastSeq = id, uint64(first), uint64(last)
	return c, true, nil
}

// RewardTotals sums indexed REWARD amounts per resource.
func (s *SQLiteIndex) RewardTotals(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT resource, amount FROM effects WHERE kind=? AND resource IS NOT NULL`, string(effects.KindReward))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]decimal.Decimal{}
	for rows.Next() {
		var res, amt string
		if err := rows.Scan(&res, &amt); err != nil {
			return nil, err
		}
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return nil, fmt.Errorf("reward amount %q: %w", amt, err)
		}
		out[res] = out[res].Add(d)
	}
	return out, rows.Err()
}

// LatestSnapshot returns the path of the highest indexed snapshot.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context) (string, uint64, error) {
	var path string
	var seq int64
	err := s.db.QueryRowContext(ctx, `SELECT path, seq FROM snapshots ORDER BY seq DESC LIMIT 1`).Scan(&path, &seq)
	if err == sql.ErrNoRows {
		return "", 0, nil
	}
	return path, uint64(seq), err
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEffect, _ := s.db.Prepare(`INSERT OR REPLACE INTO effects(seq,kind,time_ms,chain_id,step,block_id,block_type,tier,pattern,resource,amount,raw_json) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	upsertChain, _ := s.db.Prepare(`INSERT INTO chains(chain_id,first_seq,last_seq,max_step,effects,rewards) VALUES(?,?,?,?,1,?)
		ON CONFLICT(chain_id) DO UPDATE SET
			last_seq=MAX(last_seq, excluded.last_seq),
			max_step=MAX(max_step, excluded.max_step),
			effects=effects+1,
			rewards=rewards+excluded.rewards`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(seq,grid_id,path,width,height,blocks,digest,recorded_at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEffect, upsertChain, insertSnapshot} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
		s.writeErrors.Add(1)
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		// An idle queue commits right away so reads see recent effects.
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.ch) == 0 {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqEffect:
			e := r.effect
			raw, _ := json.Marshal(e)
			var resource, amount string
			rewards := 0
			if e.Reward != nil {
				resource, amount = e.Reward.Resource, e.Reward.Amount.String()
				rewards = 1
			}
			if insertEffect != nil {
				if _, err := tx.Stmt(insertEffect).Exec(
					int64(e.Seq),
					string(e.Kind),
					e.Time.UnixMilli(),
					e.ChainID.String(),
					e.Step,
					nullInt(int64(e.BlockID)),
					nullString(string(e.Type)),
					nullInt(int64(e.Tier)),
					nullString(string(e.Pattern)),
					nullString(resource),
					nullString(amount),
					string(raw),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if upsertChain != nil && e.ChainID != uuid.Nil {
				if _, err := tx.Stmt(upsertChain).Exec(
					e.ChainID.String(), int64(e.Seq), int64(e.Seq), e.Step, rewards,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Seq), sn.GridID, sn.Path, sn.Width, sn.Height, sn.Blocks, sn.Digest, sn.RecordedAt,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
