package plat

import (
	"fmt"
	"strings"

	"voxplat.ai/internal/engine/addr"
)

// LayerIndex names one of the four overlay layers. Higher indexes win.
type LayerIndex uint8

const (
	Base LayerIndex = iota
	Tmp
	Schematic
	Canvas

	LayerCount = 4
)

var layerNames = [LayerCount]string{"BASE", "TMP", "SCHEMATIC", "CANVAS"}

func (i LayerIndex) String() string {
	if int(i) < LayerCount {
		return layerNames[i]
	}
	return fmt.Sprintf("LAYER(%d)", uint8(i))
}

func (i LayerIndex) Valid() bool { return int(i) < LayerCount }

// ParseLayer accepts the names printed by LayerIndex.String, case-insensitively.
func ParseLayer(s string) (LayerIndex, error) {
	for i, n := range layerNames {
		if strings.EqualFold(s, n) {
			return LayerIndex(i), nil
		}
	}
	return 0, fmt.Errorf("unknown layer %q", s)
}

// Priority lists layers from the one that wins an overlap to the one that loses.
var Priority = [LayerCount]LayerIndex{Canvas, Schematic, Tmp, Base}

// LayerOpts selects the layers a plat-wide operation touches.
type LayerOpts struct {
	one   bool
	layer LayerIndex
}

var AllLayers = LayerOpts{}

func OnlyLayer(i LayerIndex) LayerOpts { return LayerOpts{one: true, layer: i} }

func (o LayerOpts) Includes(i LayerIndex) bool { return !o.one || o.layer == i }

// EntryOpts selects the payloads a traversal follows below the fork level.
type EntryOpts struct {
	payload uint32
}

var AllEntries = EntryOpts{}

// OnlyEntry restricts a walk to one payload. Zero means all entries.
func OnlyEntry(payload uint32) EntryOpts { return EntryOpts{payload: payload} }

func (o EntryOpts) Payload() uint32 { return o.payload }

// RawPlat is one world region: four layers of identical depth.
type RawPlat struct {
	cfg    Config
	layers [LayerCount]*Layer
}

func New(cfg Config) (*RawPlat, error) {
	p := &RawPlat{cfg: cfg}
	for i := range p.layers {
		l, err := NewLayer(cfg)
		if err != nil {
			return nil, err
		}
		l.index = LayerIndex(i)
		p.layers[i] = l
	}
	return p, nil
}

// FromLayers assembles a plat from restored layers; all must share depth and
// chunk level and sit at their own index.
func FromLayers(layers [LayerCount]*Layer) (*RawPlat, error) {
	for i, l := range layers {
		if l == nil {
			return nil, fmt.Errorf("layer %s missing", LayerIndex(i))
		}
		if l.index != LayerIndex(i) {
			return nil, fmt.Errorf("layer %s stored at slot %s", l.index, LayerIndex(i))
		}
		if l.depth != layers[0].depth || l.chunkLevel != layers[0].chunkLevel {
			return nil, fmt.Errorf("layer %s: depth %d/chunk level %d differ from %d/%d",
				l.index, l.depth, l.chunkLevel, layers[0].depth, layers[0].chunkLevel)
		}
	}
	cfg := Config{
		Depth:         layers[0].depth,
		ChunkLevel:    layers[0].chunkLevel,
		NodeCapacity:  layers[0].pool.Len() + 1,
		BrickCapacity: layers[0].bricks.Len() + 1,
	}
	return &RawPlat{cfg: cfg, layers: layers}, nil
}

func (p *RawPlat) Config() Config { return p.cfg }
func (p *RawPlat) Depth() int     { return p.cfg.Depth }

func (p *RawPlat) Layer(i LayerIndex) *Layer {
	if !i.Valid() {
		return nil
	}
	return p.layers[i]
}

func (p *RawPlat) layer(i LayerIndex) (*Layer, error) {
	if !i.Valid() {
		return nil, fmt.Errorf("%w: layer %d", ErrInvalidAddress, uint8(i))
	}
	return p.layers[i], nil
}

func (p *RawPlat) Set(layer LayerIndex, pos addr.UVec3, payload uint32) error {
	l, err := p.layer(layer)
	if err != nil {
		return err
	}
	return l.Set(pos, payload)
}

func (p *RawPlat) Erase(layer LayerIndex, pos addr.UVec3) (bool, error) {
	l, err := p.layer(layer)
	if err != nil {
		return false, err
	}
	return l.Erase(pos)
}

func (p *RawPlat) Get(layer LayerIndex, pos addr.UVec3, level int, payload uint32) (NodeRef, bool) {
	l, err := p.layer(layer)
	if err != nil {
		return NodeRef{}, false
	}
	return l.Get(pos, level, payload)
}

// Voxel is a priority-resolved lookup result.
type Voxel struct {
	Payload uint32
	Layer   LayerIndex
	Node    NodeRef
}

// GetVoxel returns the voxel at pos from the highest-priority layer holding one.
func (p *RawPlat) GetVoxel(pos addr.UVec3) (Voxel, bool) {
	for _, i := range Priority {
		if ref, ok := p.layers[i].Get(pos, 0, 0); ok {
			return Voxel{Payload: ref.Payload, Layer: i, Node: ref}, true
		}
	}
	return Voxel{}, false
}

// Traverse walks every selected layer from its root, in layer index order.
// Layers that never stored the selected entry are skipped.
func (p *RawPlat) Traverse(layers LayerOpts, entries EntryOpts, positioned bool, visit Visitor) {
	for i, l := range p.layers {
		if !layers.Includes(LayerIndex(i)) {
			continue
		}
		l.TraverseAll(entries.payload, positioned, visit)
	}
}

// TraverseRegion walks the subtree of the level regionLevel cell at
// regionPos (counted in cells of that level) in each selected layer.
func (p *RawPlat) TraverseRegion(regionPos addr.UVec3, regionLevel int, entries EntryOpts, layers LayerOpts, visit Visitor) error {
	if regionLevel <= ForkLevel || regionLevel > p.cfg.Depth {
		return fmt.Errorf("%w: region level %d not in (%d,%d]", ErrInvalidAddress, regionLevel, ForkLevel, p.cfg.Depth)
	}
	if !addr.InBounds(regionPos, p.cfg.Depth-regionLevel) {
		return fmt.Errorf("%w: region %v at level %d", ErrInvalidAddress, regionPos, regionLevel)
	}
	origin := regionPos.Scale(addr.LevelSize(regionLevel))
	for i, l := range p.layers {
		if !layers.Includes(LayerIndex(i)) {
			continue
		}
		if e := entries.payload; e != 0 {
			if _, ok := l.entries[e]; !ok {
				continue
			}
		}
		ref, ok := l.Get(origin, regionLevel, 0)
		if !ok {
			continue
		}
		l.Traverse(entries.payload, ref.Index, origin, true, regionLevel, visit)
	}
	return nil
}

// InsertSegment writes every occupied cell of seg into layer. position is in
// segment-sized units. Bounds are checked before the first write; a capacity
// failure part-way leaves the voxels already written in place.
func (p *RawPlat) InsertSegment(layer LayerIndex, seg *Segment, position addr.UVec3) error {
	l, err := p.layer(layer)
	if err != nil {
		return err
	}
	side := uint32(seg.Side())
	if (uint64(position.Max())+1)*uint64(side) > uint64(1)<<uint(p.cfg.Depth) {
		return fmt.Errorf("%w: segment of side %d at %v", ErrInvalidAddress, side, position)
	}
	origin := position.Scale(side)
	n := seg.Side()
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				v := seg.Get(x, y, z)
				if v == 0 {
					continue
				}
				pos := origin.Add(addr.U(uint32(x), uint32(y), uint32(z)))
				if err := l.Set(pos, v); err != nil {
					return fmt.Errorf("insert segment at %v: %w", pos, err)
				}
			}
		}
	}
	return nil
}

// CheckChunk explains why LoadChunk would refuse position and lod.
func (p *RawPlat) CheckChunk(position addr.UVec3, lod int) error {
	return p.layers[Base].CheckChunk(position, lod)
}

// LoadChunk overlays all four layers into one dense grid, higher-priority
// layers overwriting lower ones cell by cell. It reports false when the chunk
// request is invalid or no layer holds anything there.
func (p *RawPlat) LoadChunk(position addr.UVec3, lod int) (*Chunk, bool) {
	if p.CheckChunk(position, lod) != nil {
		return nil, false
	}
	c := newChunk(position, lod, p.cfg.ChunkLevel)
	found := false
	for i := len(Priority) - 1; i >= 0; i-- {
		if p.layers[Priority[i]].loadInto(c) {
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return c, true
}

func (p *RawPlat) Compact() CompactStats {
	var total CompactStats
	for _, l := range p.layers {
		total = total.add(l.Compact())
	}
	return total
}

func (p *RawPlat) Verify() error {
	for _, l := range p.layers {
		if err := l.Verify(); err != nil {
			return fmt.Errorf("layer %s: %w", l.index, err)
		}
	}
	return nil
}

func (p *RawPlat) Stats() [LayerCount]Stats {
	var out [LayerCount]Stats
	for i, l := range p.layers {
		out[i] = l.Stats()
	}
	return out
}
