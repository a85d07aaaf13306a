// Package addr holds the integer geometry shared by the voxel index: positions,
// level sizes, octant numbering and NodeAddr paths.
package addr

import (
	"errors"
	"fmt"
)

// MaxDepth bounds tree height: 21 levels of 3-bit octant indexes fit one uint64.
const MaxDepth = 21

var ErrInvalidAddress = errors.New("invalid address")

type UVec3 struct {
	X, Y, Z uint32
}

func U(x, y, z uint32) UVec3 { return UVec3{X: x, Y: y, Z: z} }

func (v UVec3) Add(o UVec3) UVec3    { return UVec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }
func (v UVec3) Sub(o UVec3) UVec3    { return UVec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }
func (v UVec3) Scale(s uint32) UVec3 { return UVec3{v.X * s, v.Y * s, v.Z * s} }
func (v UVec3) Shr(n int) UVec3      { return UVec3{v.X >> n, v.Y >> n, v.Z >> n} }

// Max returns the largest component.
func (v UVec3) Max() uint32 {
	m := v.X
	if v.Y > m {
		m = v.Y
	}
	if v.Z > m {
		m = v.Z
	}
	return m
}

func (v UVec3) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// LevelSize returns the edge length of a cell at level (level 0 is a unit voxel).
func LevelSize(level int) uint32 { return 1 << uint(level) }

// ChildPosition returns the unit offset of octant i: x is bit 0, y bit 1, z bit 2.
func ChildPosition(i int) UVec3 {
	return UVec3{uint32(i & 1), uint32((i >> 1) & 1), uint32((i >> 2) & 1)}
}

// ChildIndex returns the octant of pos inside its enclosing cell at level (level >= 1).
func ChildIndex(pos UVec3, level int) int {
	b := uint(level - 1)
	return int((pos.X>>b)&1) | int((pos.Y>>b)&1)<<1 | int((pos.Z>>b)&1)<<2
}

// InBounds reports whether pos lies inside a world of the given depth.
func InBounds(pos UVec3, depth int) bool {
	return uint64(pos.Max()) < uint64(1)<<uint(depth)
}

// CellOrigin rounds pos down to the corner of its cell at level.
func CellOrigin(pos UVec3, level int) UVec3 {
	mask := ^(LevelSize(level) - 1)
	return UVec3{pos.X & mask, pos.Y & mask, pos.Z & mask}
}
