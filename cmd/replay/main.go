package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/sim/effects"
	"tilecraft.ai/internal/sim/replay"
)

func main() {
	var (
		snapPath = flag.String("snapshot", "", "path to .snap.zst")
		gridDir  = flag.String("grid_dir", "", "grid data dir containing effects/effects-*.jsonl.zst (optional)")
		toSeq    = flag.Uint64("to_seq", 0, "stop after seq (inclusive, optional)")
		verify   = flag.String("verify", "", "snapshot whose digest the replayed grid must match (optional)")
	)
	flag.Parse()

	if *snapPath == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	if err := run(os.Stdout, *snapPath, *gridDir, *toSeq, *verify); err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
}

var errStop = errors.New("stop")

func run(out io.Writer, snapPath, gridDir string, toSeq uint64, verifyPath string) error {
	snap, err := snapshot.ReadSnapshot(snapPath)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	fmt.Fprintf(out, "snapshot v%d grid=%s seq=%d size=%dx%d blocks=%d next_id=%d digest=%s\n",
		snap.Header.Version, snap.Header.GridID, snap.Header.Seq, snap.Width, snap.Height,
		len(snap.Blocks), snap.NextID, snap.Digest)
	for _, res := range sortedKeys(snap.Progression.Ledger) {
		fmt.Fprintf(out, "  ledger %s=%s\n", res, snap.Progression.Ledger[res])
	}

	if gridDir == "" {
		return nil
	}

	r, err := replay.FromSnapshot(snap)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	err = persistlog.ScanEffects(gridDir, snap.Header.Seq, func(e effects.Effect) error {
		if toSeq != 0 && e.Seq > toSeq {
			return errStop
		}
		return r.Apply(e)
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}

	kinds := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	fmt.Fprintf(out, "replayed to seq=%d chains=%d blocks=%d digest=%s\n", r.LastSeq(), len(r.Chains), r.Store().Len(), r.Digest())
	for _, k := range kinds {
		fmt.Fprintf(out, "  %s=%d\n", k, r.Counts[effects.Kind(k)])
	}
	rewards := make(map[string]string, len(r.Rewards))
	for res, amt := range r.Rewards {
		rewards[res] = amt.String()
	}
	for _, res := range sortedKeys(rewards) {
		fmt.Fprintf(out, "  reward %s=%s\n", res, rewards[res])
	}

	if verifyPath == "" {
		return nil
	}
	want, err := snapshot.ReadSnapshot(verifyPath)
	if err != nil {
		return fmt.Errorf("read verify snapshot: %w", err)
	}
	if want.Header.Seq != r.LastSeq() {
		return fmt.Errorf("verify: snapshot seq=%d but replay reached seq=%d", want.Header.Seq, r.LastSeq())
	}
	if want.Digest != r.Digest() {
		return fmt.Errorf("verify: digest mismatch at seq=%d: snapshot=%s replay=%s", want.Header.Seq, want.Digest, r.Digest())
	}
	fmt.Fprintf(out, "replay ok: digest matches snapshot seq=%d\n", want.Header.Seq)
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
