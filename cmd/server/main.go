package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/progression"
	"tilecraft.ai/internal/sim/catalogs"
	"tilecraft.ai/internal/sim/engine"
	"tilecraft.ai/internal/sim/grid"
	"tilecraft.ai/internal/sim/tuning"
)

type serverConfig struct {
	Addr       string
	GridID     string
	ConfigDir  string
	DataDir    string
	TuningPath string
	BlocksPath string
	DisableDB  bool
	Snapshot   string
	LoadLatest bool
	Unlocks    string
}

func main() {
	var (
		cfg      serverConfig
		logLevel string
	)
	flag.StringVar(&cfg.Addr, "addr", ":8080", "http listen address")
	flag.StringVar(&cfg.GridID, "grid", "grid_1", "grid id")
	flag.StringVar(&cfg.ConfigDir, "configs", "./configs", "config directory")
	flag.StringVar(&cfg.DataDir, "data", "./data", "runtime data directory")
	flag.StringVar(&cfg.TuningPath, "tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
	flag.StringVar(&cfg.BlocksPath, "blocks", "", "path to blocks.json (default: <configs>/blocks.json, embedded if missing)")
	flag.BoolVar(&cfg.DisableDB, "disable_db", false, "disable indexing (effects + catalogs + snapshot metadata)")
	flag.StringVar(&cfg.Snapshot, "snapshot", "", "path to snapshot to load (optional)")
	flag.BoolVar(&cfg.LoadLatest, "load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	flag.StringVar(&cfg.Unlocks, "unlock", "", "comma separated TYPE:TIER unlocks applied at startup, e.g. WORK:2,HEALTH:2")
	flag.StringVar(&logLevel, "log_level", "info", "log level (debug, info, warn, error)")
	flag.Parse()

	logger, err := newLogger(logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}

func run(ctx context.Context, cfg serverConfig, logger *zap.Logger) error {
	logger = logger.With(zap.String("grid_id", cfg.GridID))

	cats, err := loadCatalogs(cfg)
	if err != nil {
		return fmt.Errorf("load catalogs: %w", err)
	}
	tune, err := loadTuning(cfg, logger)
	if err != nil {
		return fmt.Errorf("load tuning: %w", err)
	}

	gridDir := filepath.Join(cfg.DataDir, "grids", cfg.GridID)
	if err := os.MkdirAll(gridDir, 0o755); err != nil {
		return err
	}

	prog := progression.New()
	if err := applyUnlocks(prog, cats, cfg.Unlocks); err != nil {
		return err
	}

	// Optional read-model index; the effect log stays the source of truth.
	idx, err := openRuntimeIndex(gridDir, cfg.GridID, cfg.DisableDB, logger)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Warn("index backend: upsert catalogs", zap.Error(err))
		}
	}

	effectLog := persistlog.NewEffectLogger(gridDir)
	auditLog := persistlog.NewAuditLogger(gridDir)
	defer effectLog.Close()
	defer auditLog.Close()

	sinks := []engine.Sink{prog, effectLog}
	if idx != nil {
		sinks = append(sinks, idx)
	}
	snapCh := make(chan snapshot.GridSnapshotV1, 2)
	eng, err := engine.New(cfg.GridID, tune, cats, prog,
		engine.WithLogger(logger.Named("engine")),
		engine.WithSinks(sinks...),
		engine.WithSnapshotSink(snapCh),
		engine.WithProgression(prog),
	)
	if err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	snapPath := strings.TrimSpace(cfg.Snapshot)
	if snapPath == "" && cfg.LoadLatest {
		if snapPath, err = snapshot.Latest(filepath.Join(gridDir, "snapshots")); err != nil {
			return err
		}
	}
	if snapPath != "" {
		snap, err := snapshot.ReadSnapshot(snapPath)
		if err != nil {
			return fmt.Errorf("read snapshot: %w", err)
		}
		if snap.Header.GridID != "" && snap.Header.GridID != cfg.GridID {
			return fmt.Errorf("snapshot grid id mismatch: flag=%s snap=%s", cfg.GridID, snap.Header.GridID)
		}
		if err := eng.ImportSnapshot(snap); err != nil {
			return fmt.Errorf("import snapshot: %w", err)
		}
		_ = auditLog.WriteAudit(persistlog.AuditEntry{Time: time.Now().UTC(), GridID: cfg.GridID, Action: "resume", Seq: snap.Header.Seq, Detail: filepath.Base(snapPath)})
		logger.Info("resumed from snapshot", zap.String("snapshot", filepath.Base(snapPath)), zap.Uint64("seq", snap.Header.Seq), zap.Int("blocks", len(snap.Blocks)))
	}

	writeSnap := func(snap snapshot.GridSnapshotV1) {
		path := filepath.Join(gridDir, "snapshots", snapshot.FileName(snap.Header.Seq))
		if err := snapshot.WriteSnapshot(path, snap); err != nil {
			logger.Error("snapshot write", zap.Error(err))
			return
		}
		_ = auditLog.WriteAudit(persistlog.AuditEntry{Time: time.Now().UTC(), GridID: cfg.GridID, Action: "snapshot", Seq: snap.Header.Seq, Detail: filepath.Base(path)})
		if idx != nil {
			idx.RecordSnapshot(path, snap)
		}
		logger.Debug("snapshot written", zap.String("path", path), zap.Uint64("seq", snap.Header.Seq))
	}

	srv := &http.Server{
		Addr: cfg.Addr,
		Handler: newMux(httpDeps{
			eng:          eng,
			prog:         prog,
			log:          logger,
			adminHTTP:    envBool("TC_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
			pprofHTTP:    envBool("TC_ENABLE_PPROF_HTTP", false),
			tuningDigest: tune.Digest(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap := <-snapCh:
				writeSnap(snap)
			}
		}
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// The loop has exited, so exporting here cannot race a mutation.
	writeSnap(eng.ExportSnapshot())
	return err
}

func loadCatalogs(cfg serverConfig) (*catalogs.Catalogs, error) {
	path := strings.TrimSpace(cfg.BlocksPath)
	if path == "" {
		path = filepath.Join(cfg.ConfigDir, "blocks.json")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return catalogs.Default(), nil
		}
	}
	return catalogs.Load(path)
}

func loadTuning(cfg serverConfig, logger *zap.Logger) (tuning.Tuning, error) {
	path := strings.TrimSpace(cfg.TuningPath)
	if path == "" {
		path = filepath.Join(cfg.ConfigDir, "tuning.yaml")
	}
	tune, err := tuning.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Warn("tuning not found; using defaults", zap.String("path", path))
			return tuning.Defaults(), nil
		}
		return tuning.Tuning{}, err
	}
	return tune, nil
}

// applyUnlocks parses "WORK:2,HEALTH:3".
func applyUnlocks(p *progression.State, cats *catalogs.Catalogs, list string) error {
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		typ, tierStr, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("unlock %q: want TYPE:TIER", part)
		}
		t := grid.BlockType(strings.ToUpper(strings.TrimSpace(typ)))
		if _, known := cats.Blocks.Defs[t]; !known {
			return fmt.Errorf("unlock %q: %w", part, grid.ErrUnknownType)
		}
		tier, err := strconv.Atoi(strings.TrimSpace(tierStr))
		if err != nil || tier < 2 {
			return fmt.Errorf("unlock %q: tier must be >= 2", part)
		}
		p.Unlock(t, tier)
	}
	return nil
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
