package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
)

func TestLoad_RepoTuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.Grid.Width != 8 || tu.Grid.Height != 8 {
		t.Fatalf("grid: %+v", tu.Grid)
	}
	if tu.Merge.Anchor != "hub" || tu.Chain.MaxDepth != 16 {
		t.Fatalf("unexpected tuning: %+v", tu)
	}
	b, err := tu.SizeBonus()
	if err != nil {
		t.Fatalf("size bonus: %v", err)
	}
	if !b.For(4).Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("size 4 bonus: %s", b.For(4))
	}
}

func TestLoad_EmptyPathDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	p := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(p, []byte("grid:\n  width: 12\n  height: 6\nmerge:\n  anchor: FIRST\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Grid.Width != 12 || tu.Grid.FloodCap != 100 || tu.Merge.Anchor != "first" || tu.Match.MinSize != 3 {
		t.Fatalf("unexpected: %+v", tu)
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Tuning){
		"zero width":  func(t *Tuning) { t.Grid.Width = 0 },
		"bad anchor":  func(t *Tuning) { t.Merge.Anchor = "middle" },
		"no depth":    func(t *Tuning) { t.Chain.MaxDepth = 0 },
		"neg cap":     func(t *Tuning) { t.Chain.BonusCap = -1 },
		"bad bonus":   func(t *Tuning) { t.Rewards.SizeBonus = []string{"1", "x"} },
		"zero bonus":  func(t *Tuning) { t.Rewards.SizeBonus = []string{"0"} },
		"tiny min":    func(t *Tuning) { t.Match.MinSize = 1 },
		"small flood": func(t *Tuning) { t.Grid.FloodCap = 2 },
	}
	for name, mutate := range cases {
		tu := Defaults()
		mutate(&tu)
		if err := tu.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestChainBonus(t *testing.T) {
	tu := Defaults()
	for step, want := range []int64{1, 2, 4, 8, 16} {
		if got := tu.ChainBonus(step); !got.Equal(decimal.NewFromInt(want)) {
			t.Fatalf("step %d: got %s want %d", step, got, want)
		}
	}
	tu.Chain.BonusCap = 4
	if got := tu.ChainBonus(5); !got.Equal(decimal.NewFromInt(4)) {
		t.Fatalf("capped: got %s", got)
	}
}
