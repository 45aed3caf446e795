package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"tilecraft.ai/internal/sim/execute"
	"tilecraft.ai/internal/sim/pattern"
	"tilecraft.ai/internal/sim/recognize"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Grid    GridTuning    `yaml:"grid"`
	Match   MatchTuning   `yaml:"match"`
	TierUp  TierUpTuning  `yaml:"tier_up"`
	Merge   MergeTuning   `yaml:"merge"`
	Chain   ChainTuning   `yaml:"chain"`
	Rewards RewardTuning  `yaml:"rewards"`
	Persist PersistTuning `yaml:"persist"`
}

type GridTuning struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	// FloodCap bounds one connectivity search.
	FloodCap int `yaml:"flood_cap"`
}

type MatchTuning struct {
	Enabled bool `yaml:"enabled"`
	MinSize int  `yaml:"min_size"`
}

type TierUpTuning struct {
	Enabled bool `yaml:"enabled"`
}

type MergeTuning struct {
	Anchor string `yaml:"anchor"`
}

type ChainTuning struct {
	MaxDepth int `yaml:"max_depth"`
	// BonusCap caps the 2^step multiplier; 0 leaves it uncapped.
	BonusCap int `yaml:"bonus_cap"`
}

type RewardTuning struct {
	// SizeBonus[i] is the multiplier for size 3+i; the last entry covers larger groups.
	SizeBonus []string `yaml:"size_bonus"`
}

type PersistTuning struct {
	SnapshotEverySeconds int `yaml:"snapshot_every_seconds"`
	SubscriberBuffer     int `yaml:"subscriber_buffer"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Grid:            GridTuning{Width: 8, Height: 8, FloodCap: recognize.DefaultFloodCap},
		Match:           MatchTuning{Enabled: true, MinSize: 3},
		TierUp:          TierUpTuning{Enabled: true},
		Merge:           MergeTuning{Anchor: string(execute.AnchorHub)},
		Chain:           ChainTuning{MaxDepth: 16},
		Rewards:         RewardTuning{SizeBonus: []string{"1", "1.5", "2", "3"}},
		Persist:         PersistTuning{SnapshotEverySeconds: 60, SubscriberBuffer: 256},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.Grid.FloodCap <= 0 {
		t.Grid.FloodCap = recognize.DefaultFloodCap
	}
	if t.Match.MinSize <= 0 {
		t.Match.MinSize = 3
	}
	t.Merge.Anchor = strings.ToLower(strings.TrimSpace(t.Merge.Anchor))
	if t.Merge.Anchor == "" {
		t.Merge.Anchor = string(execute.AnchorHub)
	}
	if len(t.Rewards.SizeBonus) == 0 {
		t.Rewards.SizeBonus = Defaults().Rewards.SizeBonus
	}
	if t.Persist.SubscriberBuffer <= 0 {
		t.Persist.SubscriberBuffer = 256
	}
}

func (t Tuning) Validate() error {
	if t.Grid.Width <= 0 || t.Grid.Height <= 0 {
		return fmt.Errorf("grid width/height must be > 0")
	}
	if t.Grid.FloodCap < 3 {
		return fmt.Errorf("grid.flood_cap must be >= 3")
	}
	if t.Match.MinSize < pattern.MinSize {
		return fmt.Errorf("match.min_size must be >= %d", pattern.MinSize)
	}
	if !execute.AnchorPolicy(t.Merge.Anchor).Valid() {
		return fmt.Errorf("merge.anchor %q must be one of hub, first, trigger", t.Merge.Anchor)
	}
	if t.Chain.MaxDepth < 1 {
		return fmt.Errorf("chain.max_depth must be >= 1")
	}
	if t.Chain.BonusCap < 0 {
		return fmt.Errorf("chain.bonus_cap must be >= 0")
	}
	if _, err := t.SizeBonus(); err != nil {
		return err
	}
	if t.Persist.SnapshotEverySeconds < 0 {
		return fmt.Errorf("persist.snapshot_every_seconds must be >= 0")
	}
	return nil
}

func (t Tuning) SizeBonus() (pattern.SizeBonus, error) {
	var b pattern.SizeBonus
	for i, s := range t.Rewards.SizeBonus {
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return b, fmt.Errorf("rewards.size_bonus[%d]: %w", i, err)
		}
		if !d.IsPositive() {
			return b, fmt.Errorf("rewards.size_bonus[%d] must be > 0", i)
		}
		b.Steps = append(b.Steps, d)
	}
	return b, nil
}

// ChainBonus is the multiplier for chain step k (the first pass is step 0).
func (t Tuning) ChainBonus(step int) decimal.Decimal {
	if step < 0 {
		step = 0
	}
	if step > 62 {
		step = 62
	}
	v := int64(1) << uint(step)
	if t.Chain.BonusCap > 0 && v > int64(t.Chain.BonusCap) {
		v = int64(t.Chain.BonusCap)
	}
	return decimal.NewFromInt(v)
}

// Digest identifies the effective tuning values.
func (t Tuning) Digest() string {
	b, _ := json.Marshal(t)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
