package plat

import (
	"fmt"
	"sort"

	"voxplat.ai/internal/engine/addr"
)

const (
	// ForkLevel is where a cell's occupants split by payload into fork pairs.
	ForkLevel = 4
	// BrickLevel is the compaction threshold: levels BrickLevel..0 live in bricks.
	BrickLevel = 3
	// MinDepth keeps the root above the fork level.
	MinDepth = ForkLevel + 1
	// StackCapacity bounds a walk: one frame per level plus the fork head.
	StackCapacity = addr.MaxDepth + 2

	rootIndex int32 = 1
)

type Config struct {
	Depth         int
	NodeCapacity  int
	BrickCapacity int
	ChunkLevel    int
}

func (c Config) Validate() error {
	if c.Depth < MinDepth || c.Depth > addr.MaxDepth {
		return fmt.Errorf("%w: depth %d not in [%d,%d]", ErrInvalidAddress, c.Depth, MinDepth, addr.MaxDepth)
	}
	if c.ChunkLevel <= ForkLevel || c.ChunkLevel > c.Depth {
		return fmt.Errorf("%w: chunk level %d not in (%d,%d]", ErrInvalidAddress, c.ChunkLevel, ForkLevel, c.Depth)
	}
	if c.NodeCapacity < 2 {
		return fmt.Errorf("node capacity %d < 2", c.NodeCapacity)
	}
	if c.BrickCapacity < 2 {
		return fmt.Errorf("brick capacity %d < 2", c.BrickCapacity)
	}
	return nil
}

// Layer is one sparse octree: a node arena for levels above BrickLevel, a
// brick store below it, and the payload entries table.
//
// A Layer is not synchronized. Writers need exclusive access; concurrent
// readers are fine while no writer is active.
type Layer struct {
	index      LayerIndex
	depth      int
	chunkLevel int

	pool    *Pool
	bricks  *BrickStore
	entries map[uint32]int32
}

func NewLayer(cfg Config) (*Layer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Layer{
		depth:      cfg.Depth,
		chunkLevel: cfg.ChunkLevel,
		pool:       newPool(cfg.NodeCapacity),
		bricks:     newBrickStore(cfg.BrickCapacity),
		entries:    map[uint32]int32{},
	}
	root, err := l.pool.Allocate()
	if err != nil {
		return nil, err
	}
	if root != rootIndex {
		return nil, malformed("root allocated at %d", root)
	}
	return l, nil
}

func (l *Layer) Index() LayerIndex   { return l.index }
func (l *Layer) Depth() int          { return l.depth }
func (l *Layer) ChunkLevel() int     { return l.chunkLevel }
func (l *Layer) Pool() *Pool         { return l.pool }
func (l *Layer) Bricks() *BrickStore { return l.bricks }
func (l *Layer) Root() int32         { return rootIndex }

// Entry returns the level-4 node rooting the first occurrence of payload.
func (l *Layer) Entry(payload uint32) (int32, bool) {
	idx, ok := l.entries[payload]
	return idx, ok
}

// Entries lists payloads present in the entries table, ascending.
func (l *Layer) Entries() []uint32 {
	out := make([]uint32, 0, len(l.entries))
	for p := range l.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// NodeRef locates a cell. Above BrickLevel Index is a pool index; at or below
// it Index is a compact handle into the brick store.
type NodeRef struct {
	Index   int64
	Level   int
	Payload uint32
}

// Get walks from the root to the cell containing pos at level. With payload
// zero, the last fork pair (in chain order) reaching that cell wins; otherwise
// only payload's pair is followed.
func (l *Layer) Get(pos addr.UVec3, level int, payload uint32) (NodeRef, bool) {
	if level < 0 || level > l.depth {
		return NodeRef{}, false
	}
	a, err := addr.FromPosition(pos, l.depth)
	if err != nil {
		return NodeRef{}, false
	}
	cur := rootIndex
	for lvl := l.depth; lvl > level; lvl-- {
		child := l.pool.branch(cur).Children[a.At(lvl)]
		if child == 0 {
			return NodeRef{}, false
		}
		if lvl-1 == ForkLevel {
			return l.resolveFork(child, a, level, payload)
		}
		cur = child
	}
	return NodeRef{Index: int64(cur), Level: level}, true
}

func (l *Layer) resolveFork(head int32, a addr.NodeAddr, level int, payload uint32) (NodeRef, bool) {
	var (
		best  NodeRef
		found bool
	)
	l.eachPair(head, func(p uint32, child int32) bool {
		if payload != 0 && p != payload {
			return true
		}
		if ref, ok := l.descendPayload(child, p, a, level); ok {
			best, found = ref, true
		}
		return payload == 0
	})
	return best, found
}

// descendPayload continues from a level-4 branch owned by payload.
func (l *Layer) descendPayload(node4 int32, payload uint32, a addr.NodeAddr, level int) (NodeRef, bool) {
	if level == ForkLevel {
		_ = l.pool.branch(node4)
		return NodeRef{Index: int64(node4), Level: ForkLevel, Payload: payload}, true
	}
	brick := l.pool.branch(node4).Children[a.At(ForkLevel)]
	if brick == 0 {
		return NodeRef{}, false
	}
	bit := a.BrickBit()
	if !l.bricks.at(brick).cellPresent(bit, level) {
		return NodeRef{}, false
	}
	return NodeRef{Index: compactHandle(brick, bit, level), Level: level, Payload: payload}, true
}

func (b *Brick) cellPresent(bit, level int) bool {
	switch level {
	case 2:
		return b[bit>>6] != 0
	case 1:
		return (b[bit>>6]>>(8*uint((bit>>3)&7)))&0xff != 0
	case 0:
		return b.Has(bit)
	}
	return true
}

// eachPair walks a fork chain in order until fn returns false or the packed
// pairs end.
func (l *Layer) eachPair(head int32, fn func(payload uint32, child int32) bool) {
	f := head
	for hops := 0; ; hops++ {
		if hops > l.pool.Len() {
			halt("fork chain from %d does not terminate", head)
		}
		n := l.pool.at(f)
		if !n.IsFork() {
			halt("node %d in fork chain has flag %d", f, n.Flag)
		}
		for k := 0; k < 4; k++ {
			p, c := n.Pair(k)
			if c == 0 {
				return
			}
			if !fn(p, c) {
				return
			}
		}
		if n.Flag == FlagForkEnd {
			return
		}
		f = n.Flag
	}
}

// GetVoxel returns the payload stored at pos in this layer.
func (l *Layer) GetVoxel(pos addr.UVec3) (uint32, bool) {
	ref, ok := l.Get(pos, 0, 0)
	if !ok {
		return 0, false
	}
	return ref.Payload, true
}

// Set stores payload at pos, replacing whatever payload this layer held there.
// Payload zero erases. The node and brick demand is checked up front, so a
// write that fails with ErrPoolExhausted leaves the layer untouched.
func (l *Layer) Set(pos addr.UVec3, payload uint32) error {
	if payload == 0 {
		_, err := l.Erase(pos)
		return err
	}
	a, err := addr.FromPosition(pos, l.depth)
	if err != nil {
		return err
	}
	needNodes, needBricks := l.demand(a, payload)
	if needNodes > l.pool.FreeCount() {
		return fmt.Errorf("%w: set %v needs %d nodes, %d free", ErrPoolExhausted, pos, needNodes, l.pool.FreeCount())
	}
	if needBricks > l.bricks.FreeCount() {
		return fmt.Errorf("%w: set %v needs a brick, none free", ErrPoolExhausted, pos)
	}

	cur := rootIndex
	for lvl := l.depth; lvl > ForkLevel+1; lvl-- {
		slot := &l.pool.branch(cur).Children[a.At(lvl)]
		if *slot == 0 {
			*slot = l.mustAllocate()
		}
		cur = *slot
	}
	head := &l.pool.branch(cur).Children[a.At(ForkLevel+1)]
	if *head == 0 {
		f := l.mustAllocate()
		l.pool.nodes[f].Flag = FlagForkEnd
		*head = f
	}
	node4 := l.pairFor(*head, payload, a)
	bslot := &l.pool.branch(node4).Children[a.At(ForkLevel)]
	if *bslot == 0 {
		b, err := l.bricks.allocate()
		if err != nil {
			return err
		}
		*bslot = b
	}
	l.bricks.at(*bslot).set(a.BrickBit())
	return nil
}

func (l *Layer) mustAllocate() int32 {
	idx, err := l.pool.Allocate()
	if err != nil {
		// demand() already reserved the capacity.
		panic(err)
	}
	return idx
}

// demand counts the nodes and bricks a Set of payload at a would allocate.
func (l *Layer) demand(a addr.NodeAddr, payload uint32) (nodes, bricks int) {
	cur := rootIndex
	for lvl := l.depth; lvl > ForkLevel+1; lvl-- {
		child := l.pool.branch(cur).Children[a.At(lvl)]
		if child == 0 {
			// branches for levels lvl-1..ForkLevel+1, the fork head, the level-4 branch.
			return (lvl - 1 - ForkLevel) + 2, 1
		}
		cur = child
	}
	head := l.pool.branch(cur).Children[a.At(ForkLevel+1)]
	if head == 0 {
		return 2, 1
	}
	node4, chainFull := l.findPair(head, payload)
	if node4 == 0 {
		if chainFull {
			return 2, 1
		}
		return 1, 1
	}
	if l.pool.branch(node4).Children[a.At(ForkLevel)] == 0 {
		return 0, 1
	}
	return 0, 0
}

// findPair returns payload's level-4 node in the chain, or 0 and whether the
// chain has no free pair slot left.
func (l *Layer) findPair(head int32, payload uint32) (node4 int32, chainFull bool) {
	chainFull = true
	f := head
	for {
		n := l.pool.at(f)
		for k := 0; k < 4; k++ {
			p, c := n.Pair(k)
			if c == 0 {
				return 0, false
			}
			if p == payload {
				return c, false
			}
		}
		if n.Flag == FlagForkEnd {
			return 0, chainFull
		}
		if n.Flag <= 0 {
			halt("node %d in fork chain has flag %d", f, n.Flag)
		}
		f = n.Flag
	}
}

// pairFor returns payload's level-4 node, appending a pair (and chaining a new
// fork node when the last one is full) if payload has none yet. The voxel at a
// is cleared from every other payload sharing the chain.
func (l *Layer) pairFor(head int32, payload uint32, a addr.NodeAddr) int32 {
	var found int32
	oct, bit := a.At(ForkLevel), a.BrickBit()
	f := head
	for {
		n := l.pool.at(f)
		if !n.IsFork() {
			halt("node %d in fork chain has flag %d", f, n.Flag)
		}
		for k := 0; k < 4; k++ {
			p, c := n.Pair(k)
			if c == 0 {
				if found == 0 {
					found = l.mustAllocate()
					n.setPair(k, payload, found)
					l.noteEntry(payload, found)
				}
				return found
			}
			if p == payload {
				found = c
				continue
			}
			l.clearVoxel(c, oct, bit)
		}
		if n.Flag == FlagForkEnd {
			if found != 0 {
				return found
			}
			next := l.mustAllocate()
			l.pool.nodes[next].Flag = FlagForkEnd
			found = l.mustAllocate()
			l.pool.nodes[next].setPair(0, payload, found)
			n.Flag = next
			l.noteEntry(payload, found)
			return found
		}
		f = n.Flag
	}
}

func (l *Layer) clearVoxel(node4 int32, oct, bit int) bool {
	b := l.pool.branch(node4).Children[oct]
	if b == 0 {
		return false
	}
	br := l.bricks.at(b)
	had := br.Has(bit)
	br.clear(bit)
	return had
}

func (l *Layer) noteEntry(payload uint32, node4 int32) {
	if _, ok := l.entries[payload]; !ok {
		l.entries[payload] = node4
	}
}

// Erase clears pos from every payload in this layer. Emptied structure stays
// allocated until Compact.
func (l *Layer) Erase(pos addr.UVec3) (bool, error) {
	a, err := addr.FromPosition(pos, l.depth)
	if err != nil {
		return false, err
	}
	cur := rootIndex
	for lvl := l.depth; lvl > ForkLevel+1; lvl-- {
		cur = l.pool.branch(cur).Children[a.At(lvl)]
		if cur == 0 {
			return false, nil
		}
	}
	head := l.pool.branch(cur).Children[a.At(ForkLevel+1)]
	if head == 0 {
		return false, nil
	}
	removed := false
	oct, bit := a.At(ForkLevel), a.BrickBit()
	l.eachPair(head, func(_ uint32, child int32) bool {
		if l.clearVoxel(child, oct, bit) {
			removed = true
		}
		return true
	})
	return removed, nil
}
