package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/tuning"
)

// D1Config points the index at a remote ingest endpoint that accepts
// batches of {"events":[...]} over HTTP.
type D1Config struct {
	Endpoint      string
	Token         string
	GridID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        *zap.Logger
}

type D1Index struct {
	cfg        D1Config
	httpClient *http.Client
	log        *zap.Logger

	ch   chan d1Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	queueDropped atomic.Uint64
	flushFail    atomic.Uint64
	flushed      atomic.Uint64
}

type d1Event struct {
	Kind    string `json:"kind"`
	GridID  string `json:"grid_id"`
	Payload any    `json:"payload"`
}

type d1EffectPayload struct {
	Seq      uint64         `json:"seq"`
	Kind     string         `json:"kind"`
	TimeMs   int64          `json:"time_ms"`
	ChainID  string         `json:"chain_id"`
	Step     int            `json:"step"`
	Resource string         `json:"resource,omitempty"`
	Amount   string         `json:"amount,omitempty"`
	Raw      effects.Effect `json:"raw"`
}

type d1SnapshotPayload struct {
	Seq        uint64 `json:"seq"`
	Path       string `json:"path"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	Blocks     int    `json:"blocks"`
	Digest     string `json:"digest"`
	RecordedAt string `json:"recorded_at"`
}

type d1CatalogPayload struct {
	Name      string `json:"name"`
	Digest    string `json:"digest"`
	JSON      string `json:"json"`
	UpdatedAt string `json:"updated_at"`
}

func OpenD1(cfg D1Config) (*D1Index, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	cfg.GridID = strings.TrimSpace(cfg.GridID)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty d1 ingest endpoint")
	}
	if cfg.GridID == "" {
		return nil, fmt.Errorf("empty grid id")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &D1Index{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        logger.With(zap.String("index", "d1"), zap.String("grid_id", cfg.GridID)),
		ch:         make(chan d1Event, 32768),
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()

	return d, nil
}

func (d *D1Index) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *D1Index) WriteEffect(e effects.Effect) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	p := d1EffectPayload{
		Seq:     e.Seq,
		Kind:    string(e.Kind),
		TimeMs:  e.Time.UnixMilli(),
		ChainID: e.ChainID.String(),
		Step:    e.Step,
		Raw:     e,
	}
	if e.Reward != nil {
		p.Resource = e.Reward.Resource
		p.Amount = e.Reward.Amount.String()
	}
	d.enqueue(d1Event{Kind: "effect", GridID: d.cfg.GridID, Payload: p})
	return nil
}

func (d *D1Index) RecordSnapshot(path string, snap snapshot.GridSnapshotV1) {
	if d == nil || d.closed.Load() {
		return
	}
	r := snapshotRowFor(path, snap)
	d.enqueue(d1Event{Kind: "snapshot", GridID: d.cfg.GridID, Payload: d1SnapshotPayload{
		Seq:        r.Seq,
		Path:       r.Path,
		Width:      r.Width,
		Height:     r.Height,
		Blocks:     r.Blocks,
		Digest:     r.Digest,
		RecordedAt: r.RecordedAt,
	}})
}

func (d *D1Index) UpsertCatalogs(cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if d == nil || d.closed.Load() {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, r := range catalogRows(cats, tune) {
		if r.digest == "" || len(r.data) == 0 {
			continue
		}
		d.enqueue(d1Event{Kind: "catalog", GridID: d.cfg.GridID, Payload: d1CatalogPayload{
			Name:      r.name,
			Digest:    r.digest,
			JSON:      string(r.data),
			UpdatedAt: now,
		}})
	}
	return nil
}

type D1Stats struct {
	QueueDepth        int
	QueueDroppedTotal uint64
	FlushFailTotal    uint64
	FlushedTotal      uint64
}

func (d *D1Index) Stats() D1Stats {
	if d == nil {
		return D1Stats{}
	}
	return D1Stats{
		QueueDepth:        len(d.ch),
		QueueDroppedTotal: d.queueDropped.Load(),
		FlushFailTotal:    d.flushFail.Load(),
		FlushedTotal:      d.flushed.Load(),
	}
}

func (d *D1Index) enqueue(ev d1Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.queueDropped.Add(1)
		d.log.Warn("queue full; drop", zap.String("kind", ev.Kind))
	}
}

func (d *D1Index) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]d1Event, 0, d.cfg.BatchSize)
	// A failed batch is kept and retried on the next flush.
	flush := func(final bool) {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.log.Warn("flush failed", zap.Int("batch", len(batch)), zap.Error(err))
			if !final {
				return
			}
		} else {
			d.flushed.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush(true)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush(false)
			}
		case <-ticker.C:
			flush(false)
		}
	}
}

func (d *D1Index) sendBatch(events []d1Event) error {
	if len(events) == 0 {
		return nil
	}

	body := struct {
		Events []d1Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-tc-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
