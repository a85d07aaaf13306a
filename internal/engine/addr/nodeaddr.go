package addr

import "fmt"

// NodeAddr is a path of octant indexes packed 3 bits per level. The step from
// level L down to L-1 is stored at bits 3(L-1)..3(L-1)+2, so the low 9 bits
// address a voxel inside its level-3 cell.
type NodeAddr uint64

// FromPosition encodes pos for a tree of the given depth.
func FromPosition(pos UVec3, depth int) (NodeAddr, error) {
	if depth < 0 || depth > MaxDepth {
		return 0, fmt.Errorf("%w: depth %d", ErrInvalidAddress, depth)
	}
	if !InBounds(pos, depth) {
		return 0, fmt.Errorf("%w: %v outside depth %d", ErrInvalidAddress, pos, depth)
	}
	var a NodeAddr
	for level := depth; level >= 1; level-- {
		a |= NodeAddr(ChildIndex(pos, level)) << (3 * uint(level-1))
	}
	return a, nil
}

// At returns the octant taken when descending from level to level-1.
func (a NodeAddr) At(level int) int {
	return int(a>>(3*uint(level-1))) & 7
}

// Path returns the octant indexes root-to-leaf.
func (a NodeAddr) Path(depth int) []int {
	out := make([]int, 0, depth)
	for level := depth; level >= 1; level-- {
		out = append(out, a.At(level))
	}
	return out
}

// Position decodes the address back into a voxel position.
func (a NodeAddr) Position(depth int) UVec3 {
	var p UVec3
	for level := depth; level >= 1; level-- {
		p = p.Add(ChildPosition(a.At(level)).Scale(LevelSize(level - 1)))
	}
	return p
}

// BrickBit is the voxel's bit index inside its level-3 brick.
func (a NodeAddr) BrickBit() int { return int(a & 0x1ff) }

func (a NodeAddr) String() string { return fmt.Sprintf("%#o", uint64(a)) }
