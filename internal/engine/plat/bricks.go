package plat

import (
	"fmt"
	"math/bits"
)

// Brick packs one level-3 cell (8^3 voxels) without per-cell nodes: word i is
// level-2 octant i, byte j of a word is level-1 octant j, bit k of that byte is
// voxel k. The bit index is exactly NodeAddr.BrickBit.
type Brick [8]uint64

func (b *Brick) Has(bit int) bool { return b[bit>>6]&(1<<uint(bit&63)) != 0 }
func (b *Brick) set(bit int)      { b[bit>>6] |= 1 << uint(bit&63) }
func (b *Brick) clear(bit int)    { b[bit>>6] &^= 1 << uint(bit&63) }

func (b *Brick) Empty() bool { return *b == Brick{} }

func (b *Brick) Count() int {
	n := 0
	for _, w := range b {
		n += bits.OnesCount64(w)
	}
	return n
}

// BrickStore is the compacted bottom of a layer.
type BrickStore struct {
	bricks []Brick
	live   []bool
	free   []int32
}

func newBrickStore(capacity int) *BrickStore {
	s := &BrickStore{
		bricks: make([]Brick, capacity),
		live:   make([]bool, capacity),
		free:   make([]int32, 0, capacity),
	}
	for i := capacity - 1; i >= 1; i-- {
		s.free = append(s.free, int32(i))
	}
	return s
}

func (s *BrickStore) Len() int       { return len(s.bricks) - 1 }
func (s *BrickStore) FreeCount() int { return len(s.free) }

func (s *BrickStore) allocate() (int32, error) {
	if len(s.free) == 0 {
		return 0, fmt.Errorf("%w: %d bricks in use", ErrPoolExhausted, s.Len())
	}
	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]
	s.bricks[idx] = Brick{}
	s.live[idx] = true
	return idx, nil
}

func (s *BrickStore) release(idx int32) {
	if !s.isLive(idx) {
		halt("release of brick %d", idx)
	}
	s.bricks[idx] = Brick{}
	s.live[idx] = false
	s.free = append(s.free, idx)
}

func (s *BrickStore) isLive(idx int32) bool {
	return idx > 0 && int(idx) < len(s.bricks) && s.live[idx]
}

func (s *BrickStore) at(idx int32) *Brick {
	if !s.isLive(idx) {
		halt("brick %d is not live", idx)
	}
	return &s.bricks[idx]
}

// Brick returns a copy of brick idx.
func (s *BrickStore) Brick(idx int32) Brick { return s.bricks[idx] }

// childMask returns the occupancy of the 8 children of a compacted cell
// addressed by handle h at level (3, 2 or 1).
func (s *BrickStore) childMask(h int64, level int) uint8 {
	switch level {
	case 3:
		b := s.at(int32(h))
		var m uint8
		for i, w := range b {
			if w != 0 {
				m |= 1 << uint(i)
			}
		}
		return m
	case 2:
		b := s.at(int32(h >> 3))
		w := b[h&7]
		var m uint8
		for i := 0; i < 8; i++ {
			if (w>>(8*uint(i)))&0xff != 0 {
				m |= 1 << uint(i)
			}
		}
		return m
	case 1:
		b := s.at(int32(h >> 6))
		w := b[(h>>3)&7]
		return uint8(w >> (8 * uint(h&7)))
	}
	halt("compacted level %d", level)
	return 0
}

// compactHandle identifies the level cell reached from brick by the low bits
// of the voxel's brick index. Handles are what Props.NodeIndex and Get report
// below BrickLevel+1.
func compactHandle(brick int32, bit int, level int) int64 {
	return int64(brick)<<(3*uint(BrickLevel-level)) | int64(bit>>(3*uint(level)))
}
