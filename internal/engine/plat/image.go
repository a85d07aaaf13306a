package plat

import "fmt"

const nodeWords = 9

// LayerImage is the raw, stable form of a layer: pool nodes flattened to
// (children..., flag) runs of nine words, bricks flattened to eight words
// each, and both free-lists. Slot 0 of each array is the sentinel and is
// included so indexes stay aligned.
type LayerImage struct {
	Layer      LayerIndex       `msgpack:"layer" json:"layer"`
	Depth      int              `msgpack:"depth" json:"depth"`
	ChunkLevel int              `msgpack:"chunk_level" json:"chunk_level"`
	Nodes      []int32          `msgpack:"nodes" json:"nodes"`
	FreeHead   int32            `msgpack:"free_head" json:"free_head"`
	Bricks     []uint64         `msgpack:"bricks" json:"bricks"`
	FreeBricks []int32          `msgpack:"free_bricks" json:"free_bricks"`
	Entries    map[uint32]int32 `msgpack:"entries" json:"entries"`
}

// Image copies the layer's storage.
func (l *Layer) Image() *LayerImage {
	img := &LayerImage{
		Layer:      l.index,
		Depth:      l.depth,
		ChunkLevel: l.chunkLevel,
		Nodes:      make([]int32, 0, len(l.pool.nodes)*nodeWords),
		FreeHead:   l.pool.freeHead,
		Bricks:     make([]uint64, 0, len(l.bricks.bricks)*8),
		FreeBricks: append([]int32(nil), l.bricks.free...),
		Entries:    make(map[uint32]int32, len(l.entries)),
	}
	for _, n := range l.pool.nodes {
		img.Nodes = append(img.Nodes, n.Children[:]...)
		img.Nodes = append(img.Nodes, n.Flag)
	}
	for _, b := range l.bricks.bricks {
		img.Bricks = append(img.Bricks, b[:]...)
	}
	for p, idx := range l.entries {
		img.Entries[p] = idx
	}
	return img
}

// LayerFromImage rebuilds a layer and verifies it; a corrupt image is rejected
// with an error wrapping ErrMalformedNode.
func LayerFromImage(img *LayerImage) (*Layer, error) {
	if !img.Layer.Valid() {
		return nil, fmt.Errorf("image for %s", img.Layer)
	}
	if len(img.Nodes)%nodeWords != 0 || len(img.Bricks)%8 != 0 {
		return nil, malformed("image arrays of %d node words, %d brick words", len(img.Nodes), len(img.Bricks))
	}
	cfg := Config{
		Depth:         img.Depth,
		ChunkLevel:    img.ChunkLevel,
		NodeCapacity:  len(img.Nodes) / nodeWords,
		BrickCapacity: len(img.Bricks) / 8,
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("image config: %w", err)
	}

	pool := &Pool{nodes: make([]Node, cfg.NodeCapacity), freeHead: img.FreeHead}
	for i := range pool.nodes {
		w := img.Nodes[i*nodeWords : (i+1)*nodeWords]
		copy(pool.nodes[i].Children[:], w[:8])
		pool.nodes[i].Flag = w[8]
		if i > 0 && pool.nodes[i].IsFree() {
			pool.free++
		}
	}
	if img.FreeHead != 0 && !pool.valid(img.FreeHead) {
		return nil, malformed("free head %d out of range", img.FreeHead)
	}

	bs := &BrickStore{
		bricks: make([]Brick, cfg.BrickCapacity),
		live:   make([]bool, cfg.BrickCapacity),
		free:   append(make([]int32, 0, cfg.BrickCapacity), img.FreeBricks...),
	}
	for i := range bs.bricks {
		copy(bs.bricks[i][:], img.Bricks[i*8:(i+1)*8])
		bs.live[i] = i > 0
	}
	for _, b := range bs.free {
		if b <= 0 || int(b) >= len(bs.live) || !bs.live[b] {
			return nil, malformed("brick free-list holds %d", b)
		}
		bs.live[b] = false
	}

	l := &Layer{
		index:      img.Layer,
		depth:      cfg.Depth,
		chunkLevel: cfg.ChunkLevel,
		pool:       pool,
		bricks:     bs,
		entries:    make(map[uint32]int32, len(img.Entries)),
	}
	for p, idx := range img.Entries {
		l.entries[p] = idx
	}
	if err := l.Verify(); err != nil {
		return nil, fmt.Errorf("layer %s image: %w", img.Layer, err)
	}
	return l, nil
}
