package catalogs

import (
	"bytes"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"

	"tilecraft.ai/internal/sim/grid"
)

//go:embed blocks.json
var defaultBlocksJSON []byte

//go:embed blocks.schema.json
var blocksSchemaJSON []byte

const DefaultMaxTier = 5

type Catalogs struct {
	Blocks BlockCatalog
}

type BlockCatalog struct {
	Palette    []grid.BlockType
	Defs       map[grid.BlockType]BlockDef
	DefsDigest string
}

type BlockDef struct {
	ID        grid.BlockType  `json:"id"`
	Resource  string          `json:"resource"`
	BaseValue decimal.Decimal `json:"base_value"`
	MaxTier   int             `json:"max_tier,omitempty"`
}

// Default returns the embedded block catalog.
func Default() *Catalogs {
	c, err := Parse(defaultBlocksJSON)
	if err != nil {
		panic(fmt.Sprintf("embedded blocks.json: %v", err))
	}
	return c
}

// Load reads blocks.json from path. An empty path yields the embedded default.
func Load(path string) (*Catalogs, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Catalogs, error) {
	if err := validateBlocks(raw); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}

	var c Catalogs
	c.Blocks.DefsDigest = sha256Hex(raw)
	c.Blocks.Defs = make(map[grid.BlockType]BlockDef, len(defs))
	for _, d := range defs {
		if _, dup := c.Blocks.Defs[d.ID]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %s", d.ID)
		}
		if d.MaxTier == 0 {
			d.MaxTier = DefaultMaxTier
		}
		c.Blocks.Defs[d.ID] = d
	}
	for _, t := range grid.AllTypes {
		if _, ok := c.Blocks.Defs[t]; ok {
			c.Blocks.Palette = append(c.Blocks.Palette, t)
		}
	}
	return &c, nil
}

// BaseValue is the per-block reward value; unknown types are worth nothing.
func (c *Catalogs) BaseValue(t grid.BlockType) decimal.Decimal {
	if c == nil {
		return decimal.Zero
	}
	return c.Blocks.Defs[t].BaseValue
}

func (c *Catalogs) Resource(t grid.BlockType) string {
	if c == nil {
		return ""
	}
	if d, ok := c.Blocks.Defs[t]; ok {
		return d.Resource
	}
	return ""
}

func (c *Catalogs) MaxTier(t grid.BlockType) int {
	if c == nil {
		return DefaultMaxTier
	}
	if d, ok := c.Blocks.Defs[t]; ok && d.MaxTier > 0 {
		return d.MaxTier
	}
	return DefaultMaxTier
}

func validateBlocks(raw []byte) error {
	comp := jsonschema.NewCompiler()
	if err := comp.AddResource("blocks.schema.json", bytes.NewReader(blocksSchemaJSON)); err != nil {
		return err
	}
	schema, err := comp.Compile("blocks.schema.json")
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
