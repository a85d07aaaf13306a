package world

import (
	"errors"
	"fmt"

	"voxplat.ai/internal/engine/plat"
)

var (
	// ErrNotFound reports a chunk or region with no stored content.
	ErrNotFound = errors.New("not found")
	// ErrTooManyRegions is returned when MaxRegions are already resident.
	ErrTooManyRegions = errors.New("too many regions")
)

// Vec3i is a signed world voxel position.
type Vec3i struct {
	X, Y, Z int
}

func (v Vec3i) Array() [3]int  { return [3]int{v.X, v.Y, v.Z} }
func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Key names a region: world position floor-divided by the region side.
type Key struct {
	X, Y, Z int
}

func (k Key) Array() [3]int  { return [3]int{k.X, k.Y, k.Z} }
func (k Key) String() string { return fmt.Sprintf("r.%d.%d.%d", k.X, k.Y, k.Z) }

func KeyOf(a [3]int) Key { return Key{a[0], a[1], a[2]} }

// Edit is one applied voxel write. Prev is the payload the layer held at Pos
// before the write, so an edit can be undone.
type Edit struct {
	Seq     uint64 `json:"seq"`
	At      int64  `json:"at"`
	Region  [3]int `json:"region"`
	Layer   string `json:"layer"`
	Pos     [3]int `json:"pos"`
	Payload uint32 `json:"payload"`
	Prev    uint32 `json:"prev"`
}

// RegionSaved describes a snapshot that reached disk.
type RegionSaved struct {
	Region  [3]int     `json:"region"`
	Depth   int        `json:"depth"`
	Path    string     `json:"path"`
	ID      string     `json:"id"`
	Stats   plat.Stats `json:"stats"`
	SavedAt int64      `json:"saved_at"`
}

// EditSink is the durable journal of edits.
type EditSink interface {
	WriteEdit(e Edit) error
}

// EditSinks fans one edit out to several sinks. Every sink sees the edit even
// when an earlier one fails.
type EditSinks []EditSink

func (s EditSinks) WriteEdit(e Edit) error {
	var errs []error
	for _, sink := range s {
		if err := sink.WriteEdit(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Indexer is a best-effort read model; it must not block.
type Indexer interface {
	RecordEdit(e Edit)
	RecordRegion(r RegionSaved)
}

// ChunkRequest asks for one chunk of one region. A nil Layer overlays all four.
type ChunkRequest struct {
	Region Key
	Chunk  [3]int
	LOD    int
	Layer  *plat.LayerIndex
}

type Stats struct {
	Regions int                        `json:"regions"`
	Layers  [plat.LayerCount]plat.Stats `json:"layers"`
}

func (s Stats) Total() plat.Stats {
	var t plat.Stats
	for _, l := range s.Layers {
		t = t.Add(l)
	}
	return t
}
