package grid

import (
	"fmt"
	"sort"
	"sync"
)

// Store is the authoritative position <-> block mapping.
//
// Mutations take the writer lock, so a Store is safe to share, but the engine
// still funnels every mutation through its loop goroutine to keep chains atomic.
type Store struct {
	width, height int

	mu     sync.RWMutex
	byPos  map[Pos]*Block
	byID   map[BlockID]*Block
	nextID BlockID

	corrupt error

	// insertHook is consulted before every index insert.
	insertHook func(pos Pos) error
}

func NewStore(width, height int) *Store {
	return &Store{
		width:  width,
		height: height,
		byPos:  map[Pos]*Block{},
		byID:   map[BlockID]*Block{},
		nextID: 1,
	}
}

// SetInsertHook installs fn to run before every index insert; a non-nil
// error fails the insert. Used to inject index failures.
func (s *Store) SetInsertHook(fn func(pos Pos) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertHook = fn
}

func (s *Store) Width() int  { return s.width }
func (s *Store) Height() int { return s.height }

func (s *Store) InBounds(p Pos) bool {
	return p.X >= 0 && p.Y >= 0 && p.X < s.width && p.Y < s.height
}

// Corrupted returns the consistency failure that poisoned the store, if any.
func (s *Store) Corrupted() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

func (s *Store) NextID() BlockID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

func (s *Store) PlaceBlock(pos Pos, typ BlockType) (BlockID, error) {
	return s.PlaceBlockTier(pos, typ, 1)
}

func (s *Store) PlaceBlockTier(pos Pos, typ BlockType, tier int) (BlockID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt != nil {
		return 0, ErrCorrupted
	}
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	if tier < 1 {
		return 0, ErrInvalidTier
	}
	b := &Block{ID: s.nextID, Type: typ, Tier: tier, Pos: pos}
	if err := s.insertLocked(b, pos); err != nil {
		return 0, err
	}
	s.byID[b.ID] = b
	s.nextID++
	return b.ID, nil
}

func (s *Store) MoveBlock(id BlockID, to Pos) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt != nil {
		return ErrCorrupted
	}
	b, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownBlock, id)
	}
	from := b.Pos
	if !s.InBounds(to) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, to)
	}
	if _, taken := s.byPos[to]; taken {
		return fmt.Errorf("%w: %s", ErrOccupied, to)
	}

	delete(s.byPos, from)
	if err := s.insertLocked(b, to); err != nil {
		if rerr := s.insertLocked(b, from); rerr != nil {
			cerr := &ConsistencyError{Op: "move", BlockID: id, From: from, To: to, Cause: rerr}
			s.corrupt = cerr
			return cerr
		}
		return err
	}
	return nil
}

func (s *Store) RemoveBlock(id BlockID) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt != nil {
		return Block{}, ErrCorrupted
	}
	b, ok := s.byID[id]
	if !ok {
		return Block{}, fmt.Errorf("%w: %d", ErrUnknownBlock, id)
	}
	return s.removeLocked(b), nil
}

func (s *Store) RemoveAt(pos Pos) (Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.corrupt != nil {
		return Block{}, ErrCorrupted
	}
	if !s.InBounds(pos) {
		return Block{}, fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	b, ok := s.byPos[pos]
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrEmpty, pos)
	}
	return s.removeLocked(b), nil
}

func (s *Store) BlockAt(pos Pos) (Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byPos[pos]
	if !ok {
		return Block{}, false
	}
	return *b, true
}

func (s *Store) Block(id BlockID) (Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.byID[id]
	if !ok {
		return Block{}, false
	}
	return *b, true
}

// AdjacentBlocks returns the occupied orthogonal neighbors of pos in N, E, S, W order.
func (s *Store) AdjacentBlocks(pos Pos) []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, 0, 4)
	for _, n := range pos.Neighbors() {
		if b, ok := s.byPos[n]; ok {
			out = append(out, *b)
		}
	}
	return out
}

// Blocks returns every block in anchor ordering.
func (s *Store) Blocks() []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, 0, len(s.byPos))
	for _, b := range s.byPos {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Pos.Less(out[j].Pos) })
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byPos)
}

// Seed replaces the contents with blocks and clears any corruption.
// nextID is raised above the highest seeded id when needed.
func (s *Store) Seed(blocks []Block, nextID BlockID) error {
	byPos := make(map[Pos]*Block, len(blocks))
	byID := make(map[BlockID]*Block, len(blocks))
	for i := range blocks {
		b := blocks[i]
		if b.ID == 0 {
			return fmt.Errorf("%w: zero id at %s", ErrUnknownBlock, b.Pos)
		}
		if !s.InBounds(b.Pos) {
			return fmt.Errorf("%w: block %d at %s", ErrOutOfBounds, b.ID, b.Pos)
		}
		if !b.Type.Valid() {
			return fmt.Errorf("%w: block %d %q", ErrUnknownType, b.ID, b.Type)
		}
		if b.Tier < 1 {
			return fmt.Errorf("%w: block %d", ErrInvalidTier, b.ID)
		}
		if _, dup := byPos[b.Pos]; dup {
			return fmt.Errorf("%w: position %s", ErrDuplicateSeed, b.Pos)
		}
		if _, dup := byID[b.ID]; dup {
			return fmt.Errorf("%w: id %d", ErrDuplicateSeed, b.ID)
		}
		bb := b
		byPos[b.Pos] = &bb
		byID[b.ID] = &bb
		if b.ID >= nextID {
			nextID = b.ID + 1
		}
	}
	if nextID == 0 {
		nextID = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPos = byPos
	s.byID = byID
	s.nextID = nextID
	s.corrupt = nil
	return nil
}

// Reset empties the store and clears any corruption. Ids keep increasing.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPos = map[Pos]*Block{}
	s.byID = map[BlockID]*Block{}
	s.corrupt = nil
}

// Check verifies the dual-index invariant.
func (s *Store) Check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.byPos) != len(s.byID) {
		return fmt.Errorf("index size mismatch: byPos=%d byID=%d", len(s.byPos), len(s.byID))
	}
	for p, b := range s.byPos {
		if b.Pos != p {
			return fmt.Errorf("block %d stored at %s reports %s", b.ID, p, b.Pos)
		}
		if s.byID[b.ID] != b {
			return fmt.Errorf("block %d at %s missing from id index", b.ID, p)
		}
		if b.ID >= s.nextID {
			return fmt.Errorf("block %d not below next id %d", b.ID, s.nextID)
		}
	}
	return nil
}

func (s *Store) insertLocked(b *Block, pos Pos) error {
	if !s.InBounds(pos) {
		return fmt.Errorf("%w: %s", ErrOutOfBounds, pos)
	}
	if _, taken := s.byPos[pos]; taken {
		return fmt.Errorf("%w: %s", ErrOccupied, pos)
	}
	if s.insertHook != nil {
		if err := s.insertHook(pos); err != nil {
			return err
		}
	}
	b.Pos = pos
	s.byPos[pos] = b
	return nil
}

func (s *Store) removeLocked(b *Block) Block {
	delete(s.byPos, b.Pos)
	delete(s.byID, b.ID)
	return *b
}
