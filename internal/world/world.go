package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"voxplat.ai/internal/engine/addr"
	"voxplat.ai/internal/engine/gen"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/mathx"
	"voxplat.ai/internal/persistence/snapshot"
)

type Config struct {
	Plat plat.Config
	// MaxRegions caps resident regions; 0 means unlimited.
	MaxRegions int
	// Generator seeds the Base layer of every new region; nil leaves it empty.
	Generator gen.Source
	// DataDir holds region snapshots; empty disables persistence.
	DataDir string
	// EveryEdits saves a region after that many edits; 0 disables.
	EveryEdits    int
	CompactOnSave bool
}

// World maps signed world coordinates onto fixed-size regions, one RawPlat
// each. A region's RWMutex gives its plat the single-writer or many-readers
// access the engine requires.
type World struct {
	cfg    Config
	side   int
	logger *log.Logger

	mu      sync.RWMutex
	regions map[Key]*region

	sink  EditSink
	index Indexer
	seq   atomic.Uint64
	now   func() time.Time
}

type region struct {
	key   Key
	mu    sync.RWMutex
	plat  *plat.RawPlat
	dirty int
}

func New(cfg Config, logger *log.Logger) (*World, error) {
	if err := cfg.Plat.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds)
	}
	return &World{
		cfg:     cfg,
		side:    1 << uint(cfg.Plat.Depth),
		logger:  logger,
		regions: map[Key]*region{},
		now:     time.Now,
	}, nil
}

func (w *World) SetEditSink(s EditSink) { w.sink = s }
func (w *World) SetIndexer(i Indexer)   { w.index = i }

// ResumeSeq makes the next edit sequence number last+1.
func (w *World) ResumeSeq(last uint64) { w.seq.Store(last) }
func (w *World) LastSeq() uint64       { return w.seq.Load() }

func (w *World) Config() Config  { return w.cfg }
func (w *World) RegionSide() int { return w.side }

// Locate splits a world position into its region and region-local position.
func (w *World) Locate(pos Vec3i) (Key, addr.UVec3) {
	k := Key{
		X: mathx.FloorDiv(pos.X, w.side),
		Y: mathx.FloorDiv(pos.Y, w.side),
		Z: mathx.FloorDiv(pos.Z, w.side),
	}
	local := addr.U(
		uint32(mathx.Mod(pos.X, w.side)),
		uint32(mathx.Mod(pos.Y, w.side)),
		uint32(mathx.Mod(pos.Z, w.side)),
	)
	return k, local
}

// Origin is the world position of a region's (0,0,0) voxel.
func (w *World) Origin(k Key) Vec3i {
	return Vec3i{k.X * w.side, k.Y * w.side, k.Z * w.side}
}

// region returns a resident region, restoring it from disk or creating it when
// create is set. It returns nil, nil for a region that does not exist.
func (w *World) region(k Key, create bool) (*region, error) {
	w.mu.RLock()
	r := w.regions[k]
	w.mu.RUnlock()
	if r != nil {
		return r, nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if r := w.regions[k]; r != nil {
		return r, nil
	}

	p, err := w.restore(k)
	if err != nil {
		return nil, err
	}
	if p == nil && !create && w.cfg.Generator == nil {
		return nil, nil
	}
	if w.cfg.MaxRegions > 0 && len(w.regions) >= w.cfg.MaxRegions {
		return nil, fmt.Errorf("%w: %d resident", ErrTooManyRegions, len(w.regions))
	}
	if p == nil {
		if p, err = w.generate(k); err != nil {
			return nil, err
		}
	}
	r = &region{key: k, plat: p}
	w.regions[k] = r
	return r, nil
}

func (w *World) restore(k Key) (*plat.RawPlat, error) {
	if w.cfg.DataDir == "" {
		return nil, nil
	}
	path := snapshot.Path(w.cfg.DataDir, k.Array())
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	snap, err := snapshot.ReadRegion(path)
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", k, err)
	}
	if snap.Header.Region != k.Array() {
		return nil, fmt.Errorf("region %s: snapshot is for %v", k, snap.Header.Region)
	}
	p, err := snap.Plat()
	if err != nil {
		return nil, fmt.Errorf("region %s: %w", k, err)
	}
	if p.Depth() != w.cfg.Plat.Depth {
		return nil, fmt.Errorf("region %s: snapshot depth %d, world depth %d", k, p.Depth(), w.cfg.Plat.Depth)
	}
	w.logger.Printf("restored %s (%s)", k, snap.Header.ID)
	return p, nil
}

func (w *World) generate(k Key) (*plat.RawPlat, error) {
	p, err := plat.New(w.cfg.Plat)
	if err != nil {
		return nil, err
	}
	if w.cfg.Generator == nil {
		return p, nil
	}
	o := w.Origin(k)
	start := time.Now()
	n, err := gen.Fill(p, plat.Base, w.cfg.Generator, o.Array(), 1<<uint(plat.ForkLevel))
	if err != nil {
		return nil, fmt.Errorf("generate %s: %w", k, err)
	}
	w.logger.Printf("generated %s: %d voxels in %s", k, n, time.Since(start).Round(time.Millisecond))
	return p, nil
}

// SetVoxel writes payload (zero erases) at a world position in one layer.
func (w *World) SetVoxel(layer plat.LayerIndex, pos Vec3i, payload uint32) error {
	if !layer.Valid() {
		return fmt.Errorf("%w: layer %d", plat.ErrInvalidAddress, uint8(layer))
	}
	k, local := w.Locate(pos)
	r, err := w.region(k, true)
	if err != nil {
		return err
	}

	r.mu.Lock()
	e, err := w.applyLocked(r, k, layer, local, pos, payload)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	w.autosaveLocked(r, k)
	r.mu.Unlock()

	if w.index != nil {
		w.index.RecordEdit(e)
	}
	return nil
}

// applyLocked writes one voxel and journals it. The caller holds r.mu.
func (w *World) applyLocked(r *region, k Key, layer plat.LayerIndex, local addr.UVec3, pos Vec3i, payload uint32) (Edit, error) {
	prev, _ := r.plat.Layer(layer).GetVoxel(local)
	if err := r.plat.Set(layer, local, payload); err != nil {
		return Edit{}, err
	}
	r.dirty++
	// Journal order matches apply order within a region.
	e := Edit{
		Seq:     w.seq.Add(1),
		At:      w.now().UTC().UnixMilli(),
		Region:  k.Array(),
		Layer:   layer.String(),
		Pos:     pos.Array(),
		Payload: payload,
		Prev:    prev,
	}
	if w.sink != nil {
		if err := w.sink.WriteEdit(e); err != nil {
			w.logger.Printf("journal edit %d: %v", e.Seq, err)
		}
	}
	return e, nil
}

func (w *World) autosaveLocked(r *region, k Key) {
	if w.cfg.EveryEdits > 0 && r.dirty >= w.cfg.EveryEdits {
		if err := w.saveLocked(r); err != nil {
			w.logger.Printf("autosave %s: %v", k, err)
		}
	}
}

// GetVoxel resolves a world position across all four layers.
func (w *World) GetVoxel(pos Vec3i) (plat.Voxel, bool, error) {
	k, local := w.Locate(pos)
	r, err := w.region(k, false)
	if err != nil || r == nil {
		return plat.Voxel{}, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.plat.GetVoxel(local)
	return v, ok, nil
}

// LoadChunk extracts one chunk. Out-of-range requests wrap
// plat.ErrInvalidAddress; chunks with no content return ErrNotFound.
func (w *World) LoadChunk(req ChunkRequest) (*plat.Chunk, error) {
	if req.Chunk[0] < 0 || req.Chunk[1] < 0 || req.Chunk[2] < 0 {
		return nil, fmt.Errorf("%w: chunk %v", plat.ErrInvalidAddress, req.Chunk)
	}
	pos := addr.U(uint32(req.Chunk[0]), uint32(req.Chunk[1]), uint32(req.Chunk[2]))
	if req.Layer != nil && !req.Layer.Valid() {
		return nil, fmt.Errorf("%w: layer %d", plat.ErrInvalidAddress, uint8(*req.Layer))
	}
	r, err := w.region(req.Region, false)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, fmt.Errorf("%w: region %s", ErrNotFound, req.Region)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.plat.CheckChunk(pos, req.LOD); err != nil {
		return nil, err
	}
	var (
		c  *plat.Chunk
		ok bool
	)
	if req.Layer != nil {
		c, ok = r.plat.Layer(*req.Layer).LoadChunk(pos, req.LOD)
	} else {
		c, ok = r.plat.LoadChunk(pos, req.LOD)
	}
	if !ok {
		return nil, fmt.Errorf("%w: chunk %v of %s", ErrNotFound, req.Chunk, req.Region)
	}
	return c, nil
}

// LoadChunks extracts a batch in parallel. Chunks that do not exist come back
// nil; any other failure cancels the batch.
func (w *World) LoadChunks(ctx context.Context, reqs []ChunkRequest) ([]*plat.Chunk, error) {
	out := make([]*plat.Chunk, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c, err := w.LoadChunk(req)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("chunk %d: %w", i, err)
			}
			out[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertSegment writes seg with its minimum corner at origin, which must be
// aligned to the segment side; the segment must not straddle regions.
func (w *World) InsertSegment(layer plat.LayerIndex, seg *plat.Segment, origin Vec3i) error {
	side := seg.Side()
	if side > w.side || w.side%side != 0 {
		return fmt.Errorf("%w: segment side %d does not tile region side %d", plat.ErrInvalidAddress, side, w.side)
	}
	if mathx.Mod(origin.X, side) != 0 || mathx.Mod(origin.Y, side) != 0 || mathx.Mod(origin.Z, side) != 0 {
		return fmt.Errorf("%w: segment origin %v not aligned to %d", plat.ErrInvalidAddress, origin, side)
	}
	k, local := w.Locate(origin)
	r, err := w.region(k, true)
	if err != nil {
		return err
	}

	// One edit per written voxel, so replay and rollback see segment writes.
	// Voxels written before a failure stay written and journaled.
	var edits []Edit
	r.mu.Lock()
	err = func() error {
		for z := 0; z < side; z++ {
			for y := 0; y < side; y++ {
				for x := 0; x < side; x++ {
					v := seg.Get(x, y, z)
					if v == 0 {
						continue
					}
					pos := Vec3i{X: origin.X + x, Y: origin.Y + y, Z: origin.Z + z}
					e, err := w.applyLocked(r, k, layer, local.Add(addr.U(uint32(x), uint32(y), uint32(z))), pos, v)
					if err != nil {
						return fmt.Errorf("insert segment at %v: %w", pos, err)
					}
					edits = append(edits, e)
				}
			}
		}
		return nil
	}()
	if len(edits) > 0 {
		w.autosaveLocked(r, k)
	}
	r.mu.Unlock()

	if w.index != nil {
		for _, e := range edits {
			w.index.RecordEdit(e)
		}
	}
	return err
}

// Compact runs the maintenance pass over every resident region.
func (w *World) Compact() plat.CompactStats {
	var total plat.CompactStats
	for _, r := range w.snapshotRegions() {
		r.mu.Lock()
		st := r.plat.Compact()
		r.mu.Unlock()
		total.Nodes += st.Nodes
		total.Forks += st.Forks
		total.Bricks += st.Bricks
	}
	return total
}

// Save writes every region edited since its last save.
func (w *World) Save(ctx context.Context) error {
	if w.cfg.DataDir == "" {
		return nil
	}
	for _, r := range w.snapshotRegions() {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.mu.Lock()
		var err error
		if r.dirty > 0 {
			err = w.saveLocked(r)
		}
		r.mu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *World) saveLocked(r *region) error {
	if w.cfg.DataDir == "" {
		r.dirty = 0
		return nil
	}
	if w.cfg.CompactOnSave {
		r.plat.Compact()
	}
	snap := snapshot.FromPlat(r.key.Array(), r.plat, w.now())
	path := snapshot.Path(w.cfg.DataDir, r.key.Array())
	if err := snapshot.WriteRegion(path, snap); err != nil {
		return fmt.Errorf("save %s: %w", r.key, err)
	}
	r.dirty = 0

	if w.index != nil {
		var st plat.Stats
		for _, s := range r.plat.Stats() {
			st = st.Add(s)
		}
		w.index.RecordRegion(RegionSaved{
			Region:  r.key.Array(),
			Depth:   r.plat.Depth(),
			Path:    path,
			ID:      snap.Header.ID,
			Stats:   st,
			SavedAt: snap.Header.SavedAt,
		})
	}
	return nil
}

// Load restores every region snapshot under DataDir.
func (w *World) Load() (int, error) {
	if w.cfg.DataDir == "" {
		return 0, nil
	}
	keys, err := snapshot.List(w.cfg.DataDir)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range keys {
		r, err := w.region(KeyOf(a), false)
		if err != nil {
			return n, err
		}
		if r != nil {
			n++
		}
	}
	return n, nil
}

func (w *World) Stats() Stats {
	var s Stats
	for _, r := range w.snapshotRegions() {
		r.mu.RLock()
		ls := r.plat.Stats()
		r.mu.RUnlock()
		s.Regions++
		for i := range ls {
			s.Layers[i] = s.Layers[i].Add(ls[i])
		}
	}
	return s
}

// Regions lists resident region keys in a stable order.
func (w *World) Regions() []Key {
	rs := w.snapshotRegions()
	out := make([]Key, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.key)
	}
	return out
}

func (w *World) snapshotRegions() []*region {
	w.mu.RLock()
	out := make([]*region, 0, len(w.regions))
	for _, r := range w.regions {
		out = append(out, r)
	}
	w.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].key, out[j].key
		if a.X != b.X {
			return a.X < b.X
		}
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.Z < b.Z
	})
	return out
}

// Verify checks every resident region.
func (w *World) Verify() error {
	for _, r := range w.snapshotRegions() {
		r.mu.RLock()
		err := r.plat.Verify()
		r.mu.RUnlock()
		if err != nil {
			return fmt.Errorf("region %s: %w", r.key, err)
		}
	}
	return nil
}
