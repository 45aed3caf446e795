package grid

import (
	"fmt"
	"sort"
)

// Pos is a cell on the grid. X grows to the right, Y grows downwards.
type Pos struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Pos) ToArray() [2]int { return [2]int{p.X, p.Y} }

func (p Pos) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Less reports whether p comes before q in anchor ordering (x first, then y).
func (p Pos) Less(q Pos) bool {
	if p.X != q.X {
		return p.X < q.X
	}
	return p.Y < q.Y
}

// Neighbors returns the four orthogonal neighbors in N, E, S, W order.
// Positions may be outside the grid.
func (p Pos) Neighbors() [4]Pos {
	return [4]Pos{
		{X: p.X, Y: p.Y - 1},
		{X: p.X + 1, Y: p.Y},
		{X: p.X, Y: p.Y + 1},
		{X: p.X - 1, Y: p.Y},
	}
}

// Adjacent reports whether p and q share an edge.
func Adjacent(p, q Pos) bool {
	dx := p.X - q.X
	if dx < 0 {
		dx = -dx
	}
	dy := p.Y - q.Y
	if dy < 0 {
		dy = -dy
	}
	return dx+dy == 1
}

type BlockID uint64

type BlockType string

const (
	Work     BlockType = "WORK"
	Study    BlockType = "STUDY"
	Health   BlockType = "HEALTH"
	Fitness  BlockType = "FITNESS"
	Social   BlockType = "SOCIAL"
	Family   BlockType = "FAMILY"
	Leisure  BlockType = "LEISURE"
	Rest     BlockType = "REST"
	Creative BlockType = "CREATIVE"
)

// AllTypes lists the block categories in palette order.
var AllTypes = []BlockType{Work, Study, Health, Fitness, Social, Family, Leisure, Rest, Creative}

func (t BlockType) Valid() bool {
	for _, v := range AllTypes {
		if v == t {
			return true
		}
	}
	return false
}

// Block is a value copy of a stored block. Mutating it does not change the store.
type Block struct {
	ID   BlockID   `json:"id"`
	Type BlockType `json:"type"`
	Tier int       `json:"tier"`
	Pos  Pos       `json:"pos"`
}

// Connected reports whether two blocks belong to the same pattern group.
func (b Block) Connected(o Block) bool {
	return b.Type == o.Type && b.Tier == o.Tier && Adjacent(b.Pos, o.Pos)
}

// SortPositions orders positions by anchor ordering in place.
func SortPositions(ps []Pos) {
	sort.Slice(ps, func(i, j int) bool { return ps[i].Less(ps[j]) })
}
