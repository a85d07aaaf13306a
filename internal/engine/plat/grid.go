package plat

import "voxplat.ai/internal/engine/addr"

// Grid is a dense cube of payloads indexed x + y*side + z*side*side. Zero is
// empty.
type Grid struct {
	side  int
	cells []uint32
}

func NewGrid(side int) Grid {
	if side < 1 {
		side = 1
	}
	return Grid{side: side, cells: make([]uint32, side*side*side)}
}

// GridFromCells wraps cells, which must hold side^3 values.
func GridFromCells(side int, cells []uint32) (Grid, bool) {
	if side < 1 || len(cells) != side*side*side {
		return Grid{}, false
	}
	return Grid{side: side, cells: cells}, true
}

func (g *Grid) Side() int             { return g.side }
func (g *Grid) Cells() []uint32       { return g.cells }
func (g *Grid) Index(x, y, z int) int { return x + y*g.side + z*g.side*g.side }

func (g *Grid) Contains(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < g.side && y < g.side && z < g.side
}

func (g *Grid) Get(x, y, z int) uint32 {
	if !g.Contains(x, y, z) {
		return 0
	}
	return g.cells[g.Index(x, y, z)]
}

func (g *Grid) Set(x, y, z int, v uint32) {
	if !g.Contains(x, y, z) {
		return
	}
	g.cells[g.Index(x, y, z)] = v
}

func (g *Grid) Occupied(x, y, z int) bool { return g.Get(x, y, z) != 0 }

// Count returns the number of occupied cells.
func (g *Grid) Count() int {
	n := 0
	for _, v := range g.cells {
		if v != 0 {
			n++
		}
	}
	return n
}

// Segment is a caller-built dense block written into a layer by
// RawPlat.InsertSegment.
type Segment struct {
	Grid
}

func NewSegment(side int) *Segment { return &Segment{Grid: NewGrid(side)} }

// Chunk is a dense extraction of one chunk-level cell at a level of detail.
// Each cell covers 2^LodLevel voxels per axis.
type Chunk struct {
	Grid
	// Position is in chunk-grid units (voxel origin = Position * 2^ChunkLevel).
	Position   addr.UVec3
	LodLevel   int
	ChunkLevel int
}

func newChunk(position addr.UVec3, lod, chunkLevel int) *Chunk {
	return &Chunk{
		Grid:       NewGrid(1 << uint(chunkLevel-lod)),
		Position:   position,
		LodLevel:   lod,
		ChunkLevel: chunkLevel,
	}
}

// Origin is the voxel position of the chunk's minimum corner.
func (c *Chunk) Origin() addr.UVec3 {
	return c.Position.Scale(addr.LevelSize(c.ChunkLevel))
}
