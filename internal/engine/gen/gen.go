// Package gen produces deterministic voxel content from a seed.
package gen

import (
	"voxplat.ai/internal/engine/addr"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/mathx"
)

const (
	Stone uint32 = 1 + iota
	Dirt
	Grass
	Water
	Sand
)

// Source yields the payload of a world voxel; zero is empty.
type Source interface {
	BlockAt(x, y, z int) uint32
}

// Ceiling is implemented by sources with no voxels above some y.
type Ceiling interface {
	Ceiling() int
}

// Terrain is a value-noise heightmap with a sea level.
type Terrain struct {
	Seed int64
	// Base is the lowest surface height, Amp the extra height noise can add.
	Base int
	Amp  int
	Sea  int
	// Cell is the lattice spacing of the height noise.
	Cell int
}

func DefaultTerrain(seed int64) Terrain {
	return Terrain{Seed: seed, Base: 8, Amp: 24, Sea: 14, Cell: 32}
}

func (t Terrain) corner(gx, gz int) int {
	if t.Amp <= 0 {
		return 0
	}
	return int(mathx.Hash2(t.Seed, gx, gz) % uint64(t.Amp+1))
}

// HeightAt is the surface y of column (x, z).
func (t Terrain) HeightAt(x, z int) int {
	c := t.Cell
	if c <= 0 {
		c = 1
	}
	gx, gz := mathx.FloorDiv(x, c), mathx.FloorDiv(z, c)
	fx, fz := mathx.Mod(x, c), mathx.Mod(z, c)
	top := t.corner(gx, gz)*(c-fx) + t.corner(gx+1, gz)*fx
	bot := t.corner(gx, gz+1)*(c-fx) + t.corner(gx+1, gz+1)*fx
	return t.Base + (top*(c-fz)+bot*fz)/(c*c)
}

func (t Terrain) BlockAt(x, y, z int) uint32 {
	h := t.HeightAt(x, z)
	switch {
	case y > h:
		if y <= t.Sea {
			return Water
		}
		return 0
	case y == h:
		if h <= t.Sea+1 {
			return Sand
		}
		return Grass
	case y >= h-3:
		return Dirt
	default:
		return Stone
	}
}

func (t Terrain) Ceiling() int {
	top := t.Base + t.Amp
	if t.Sea > top {
		return t.Sea
	}
	return top
}

// Noise scatters voxels with probability Permille/1000, cycling through
// Payloads distinct payloads starting at 1.
type Noise struct {
	Seed     int64
	Permille uint64
	Payloads uint32
}

func (n Noise) BlockAt(x, y, z int) uint32 {
	h := mathx.Hash3(n.Seed, x, y, z)
	if h%1000 >= n.Permille {
		return 0
	}
	k := n.Payloads
	if k == 0 {
		k = 1
	}
	return 1 + uint32((h>>16)%uint64(k))
}

// Fill writes src into one layer of p, a region whose voxel (0,0,0) sits at
// world position origin. It works in cubes of segSide voxels, a power of two
// no larger than the region, and returns the number of voxels written.
func Fill(p *plat.RawPlat, layer plat.LayerIndex, src Source, origin [3]int, segSide int) (int, error) {
	side := 1 << uint(p.Depth())
	if segSide <= 0 || segSide > side || side%segSide != 0 {
		segSide = side
	}
	ceiling, bounded := 0, false
	if c, ok := src.(Ceiling); ok {
		ceiling, bounded = c.Ceiling(), true
	}

	n := side / segSide
	seg := plat.NewSegment(segSide)
	cells := seg.Cells()
	written := 0
	for sz := 0; sz < n; sz++ {
		for sy := 0; sy < n; sy++ {
			y0 := origin[1] + sy*segSide
			if bounded && y0 > ceiling {
				continue
			}
			for sx := 0; sx < n; sx++ {
				for i := range cells {
					cells[i] = 0
				}
				x0, z0 := origin[0]+sx*segSide, origin[2]+sz*segSide
				for z := 0; z < segSide; z++ {
					for y := 0; y < segSide; y++ {
						for x := 0; x < segSide; x++ {
							seg.Set(x, y, z, src.BlockAt(x0+x, y0+y, z0+z))
						}
					}
				}
				k := seg.Count()
				if k == 0 {
					continue
				}
				if err := p.InsertSegment(layer, seg, addr.U(uint32(sx), uint32(sy), uint32(sz))); err != nil {
					return written, err
				}
				written += k
			}
		}
	}
	return written, nil
}
