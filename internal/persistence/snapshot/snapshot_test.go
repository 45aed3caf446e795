package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sample(seq uint64) GridSnapshotV1 {
	return GridSnapshotV1{
		Header: Header{Version: Version, GridID: "grid_1", Seq: seq},
		Width:  8,
		Height: 8,
		NextID: 4,
		Blocks: []BlockV1{
			{ID: 1, Type: "WORK", Tier: 1, X: 0, Y: 0},
			{ID: 3, Type: "STUDY", Tier: 2, X: 4, Y: 1},
		},
		Digest: "abc",
		Progression: ProgressionV1{
			Unlocks: []UnlockV1{{Type: "WORK", Tier: 2}},
			Ledger:  map[string]string{"MONEY": "52.5"},
			LastSeq: seq,
		},
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapshots", FileName(17))
	want := sample(17)
	if err := WriteSnapshot(path, want); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("ReadSnapshot: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestReadRejectsOtherVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName(1))
	s := sample(1)
	s.Header.Version = 9
	if err := WriteSnapshot(path, s); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	if _, err := ReadSnapshot(path); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(dir); err != nil || p != "" {
		t.Fatalf("empty dir: %q %v", p, err)
	}
	for _, seq := range []uint64{5, 120, 42} {
		if err := WriteSnapshot(filepath.Join(dir, FileName(seq)), sample(seq)); err != nil {
			t.Fatal(err)
		}
	}
	p, err := Latest(dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(p) != FileName(120) {
		t.Fatalf("latest: %s", p)
	}
}
