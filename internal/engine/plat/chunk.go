package plat

import (
	"fmt"

	"voxplat.ai/internal/engine/addr"
)

// MaxChunkSpan bounds chunk_level - lod, so one extracted grid holds at most
// 2^(3*MaxChunkSpan) cells.
const MaxChunkSpan = 8

// CheckChunk reports why a chunk request is out of range, or nil.
func (l *Layer) CheckChunk(position addr.UVec3, lod int) error {
	if lod < 0 || lod > l.chunkLevel {
		return fmt.Errorf("%w: lod %d not in [0,%d]", ErrInvalidAddress, lod, l.chunkLevel)
	}
	if l.chunkLevel-lod > MaxChunkSpan {
		return fmt.Errorf("%w: lod %d gives a %d^3 grid, lod must be at least %d", ErrInvalidAddress, lod, 1<<uint(l.chunkLevel-lod), l.chunkLevel-MaxChunkSpan)
	}
	if !addr.InBounds(position, l.depth-l.chunkLevel) {
		return fmt.Errorf("%w: chunk %v outside %d^3 chunk grid", ErrInvalidAddress, position, 1<<uint(l.depth-l.chunkLevel))
	}
	return nil
}

// LoadChunk extracts the chunk at position (chunk-grid units) into a dense
// grid of side 2^(chunkLevel-lod). It reports false when the request is out of
// range or no voxel is set inside the chunk.
func (l *Layer) LoadChunk(position addr.UVec3, lod int) (*Chunk, bool) {
	if l.CheckChunk(position, lod) != nil {
		return nil, false
	}
	c := newChunk(position, lod, l.chunkLevel)
	if !l.loadInto(c) {
		return nil, false
	}
	return c, true
}

// loadInto paints this layer's occupied cells over c and reports whether it
// painted any. Levels above the lod are walked through; the first cell at or
// below it that carries a payload is recorded and its subtree dropped.
func (l *Layer) loadInto(c *Chunk) bool {
	origin := c.Origin()
	ref, ok := l.Get(origin, c.ChunkLevel, 0)
	if !ok {
		return false
	}
	lod := c.LodLevel
	painted := false
	l.Traverse(0, ref.Index, origin, true, c.ChunkLevel, func(p *Props) {
		if p.Level <= ForkLevel && !l.occupied(p) {
			p.DropTree = true
			return
		}
		if p.Level > lod || p.Payload == 0 {
			return
		}
		local := p.Position.Sub(origin).Shr(lod)
		c.Set(int(local.X), int(local.Y), int(local.Z), p.Payload)
		painted = true
		p.DropTree = true
	})
	return painted
}

// occupied reports whether a visited cell at or below ForkLevel still holds a
// voxel. Erased voxels leave empty bricks and level-4 nodes behind until
// Compact.
func (l *Layer) occupied(p *Props) bool {
	switch {
	case p.Level == ForkLevel:
		for _, b := range p.Node.Children {
			if b != 0 && !l.bricks.at(b).Empty() {
				return true
			}
		}
		return false
	case p.Level == BrickLevel:
		return !l.bricks.at(int32(p.NodeIndex)).Empty()
	}
	return true
}
