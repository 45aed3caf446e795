package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/replay"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "unlock":
			unlockCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gridID := fs.String("grid", "", "grid id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "grids")
	if *gridID != "" {
		base = filepath.Join(base, *gridID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// rollbackCmd writes a snapshot of the grid as it stood at -to_seq, built by
// replaying the effect log forward from an earlier snapshot.
func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	gridID := fs.String("grid", "", "grid id")
	snapPath := fs.String("snapshot", "", "base snapshot at or before -to_seq (required)")
	toSeq := fs.Uint64("to_seq", 0, "rebuild the grid as of this effect seq (required)")
	outPath := fs.String("out", "", "output snapshot path (optional)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*gridID) == "" || strings.TrimSpace(*snapPath) == "" || *toSeq == 0 {
		fmt.Fprintln(os.Stderr, "missing -grid, -snapshot or -to_seq")
		os.Exit(2)
	}
	gridDir := filepath.Join(*dataDir, "grids", *gridID)

	base, err := snapshot.ReadSnapshot(*snapPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	out, applied, err := rollback(gridDir, base, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rollback:", err)
		os.Exit(1)
	}

	if strings.TrimSpace(*outPath) == "" {
		*outPath = filepath.Join(gridDir, "snapshots", fmt.Sprintf("%012d.rollback.snap.zst", out.Header.Seq))
	}
	if err := snapshot.WriteSnapshot(*outPath, out); err != nil {
		fmt.Fprintln(os.Stderr, "write snapshot:", err)
		os.Exit(1)
	}
	fmt.Printf("rollback ok: base=%s base_seq=%d to_seq=%d applied=%d blocks=%d digest=%s out=%s\n",
		filepath.Base(*snapPath), base.Header.Seq, out.Header.Seq, applied, len(out.Blocks), out.Digest, *outPath)
}

var errDone = errors.New("done")

func rollback(gridDir string, base snapshot.GridSnapshotV1, toSeq uint64) (snapshot.GridSnapshotV1, int, error) {
	if toSeq < base.Header.Seq {
		return snapshot.GridSnapshotV1{}, 0, fmt.Errorf("base snapshot seq=%d is after to_seq=%d", base.Header.Seq, toSeq)
	}
	r, err := replay.FromSnapshot(base)
	if err != nil {
		return snapshot.GridSnapshotV1{}, 0, err
	}
	applied := 0
	err = persistlog.ScanEffects(gridDir, base.Header.Seq, func(e effects.Effect) error {
		if e.Seq > toSeq {
			return errDone
		}
		applied++
		return r.Apply(e)
	})
	if err != nil && !errors.Is(err, errDone) {
		return snapshot.GridSnapshotV1{}, applied, err
	}

	out := snapshot.GridSnapshotV1{
		Header: snapshot.Header{Version: snapshot.Version, GridID: base.Header.GridID, Seq: r.LastSeq()},
		Width:  base.Width,
		Height: base.Height,
		NextID: uint64(r.Store().NextID()),
		Digest: r.Digest(),
		Progression: snapshot.ProgressionV1{
			Unlocks: base.Progression.Unlocks,
			Ledger:  map[string]string{},
			LastSeq: r.LastSeq(),
		},
	}
	ledger := map[string]decimal.Decimal{}
	for res, amt := range base.Progression.Ledger {
		d, err := decimal.NewFromString(amt)
		if err != nil {
			return snapshot.GridSnapshotV1{}, applied, fmt.Errorf("ledger %s: %w", res, err)
		}
		ledger[res] = d
	}
	for res, amt := range r.Rewards {
		ledger[res] = ledger[res].Add(amt)
	}
	for res, d := range ledger {
		out.Progression.Ledger[res] = d.String()
	}
	for _, b := range r.Store().Blocks() {
		out.Blocks = append(out.Blocks, snapshot.BlockV1{ID: uint64(b.ID), Type: string(b.Type), Tier: b.Tier, X: b.Pos.X, Y: b.Pos.Y})
	}
	return out, applied, nil
}
