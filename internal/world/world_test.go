package world

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"voxplat.ai/internal/engine/addr"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/persistence/snapshot"
)

type recorder struct {
	mu      sync.Mutex
	edits   []Edit
	indexed []Edit
	saved   []RegionSaved
}

func (r *recorder) WriteEdit(e Edit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, e)
	return nil
}

func (r *recorder) RecordEdit(e Edit) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed = append(r.indexed, e)
}

func (r *recorder) RecordRegion(s RegionSaved) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, s)
}

// floor is a one-voxel-thick plane at y=0.
type floor struct{}

func (floor) BlockAt(x, y, z int) uint32 {
	if y == 0 {
		return 7
	}
	return 0
}

func testConfig(dir string) Config {
	return Config{
		Plat:          plat.Config{Depth: 5, NodeCapacity: 512, BrickCapacity: 512, ChunkLevel: 5},
		DataDir:       dir,
		CompactOnSave: true,
	}
}

func newTestWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	w, err := New(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return w
}

func TestLocate(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	cases := []struct {
		pos   Vec3i
		key   Key
		local addr.UVec3
	}{
		{Vec3i{0, 0, 0}, Key{0, 0, 0}, addr.U(0, 0, 0)},
		{Vec3i{31, 32, 33}, Key{0, 1, 1}, addr.U(31, 0, 1)},
		{Vec3i{-1, -32, -33}, Key{-1, -1, -2}, addr.U(31, 0, 31)},
	}
	for _, tc := range cases {
		k, local := w.Locate(tc.pos)
		if k != tc.key || local != tc.local {
			t.Fatalf("Locate(%v) = %v %v, want %v %v", tc.pos, k, local, tc.key, tc.local)
		}
		if o := w.Origin(k); o.X+int(local.X) != tc.pos.X || o.Z+int(local.Z) != tc.pos.Z {
			t.Fatalf("Origin(%v)=%v does not rebuild %v", k, o, tc.pos)
		}
	}
}

func TestSetGetAcrossRegions(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	rec := &recorder{}
	w.SetEditSink(rec)
	w.SetIndexer(rec)

	points := []Vec3i{{1, 2, 3}, {-5, 0, 40}, {100, -100, 7}}
	for i, p := range points {
		if err := w.SetVoxel(plat.Tmp, p, uint32(i+1)); err != nil {
			t.Fatalf("SetVoxel(%v): %v", p, err)
		}
	}
	for i, p := range points {
		v, ok, err := w.GetVoxel(p)
		if err != nil || !ok || v.Payload != uint32(i+1) || v.Layer != plat.Tmp {
			t.Fatalf("GetVoxel(%v) = %+v,%v,%v", p, v, ok, err)
		}
	}
	if got := len(w.Regions()); got != 3 {
		t.Fatalf("regions=%d want 3", got)
	}
	if len(rec.edits) != 3 || len(rec.indexed) != 3 {
		t.Fatalf("journal %d index %d, want 3 each", len(rec.edits), len(rec.indexed))
	}
	for i, e := range rec.edits {
		if e.Seq != uint64(i+1) || e.Layer != "TMP" || e.Pos != points[i].Array() {
			t.Fatalf("edit %d = %+v", i, e)
		}
	}
	if rec.edits[1].Region != [3]int{-1, 0, 1} {
		t.Fatalf("edit region %v", rec.edits[1].Region)
	}

	// Canvas outranks Tmp; erasing it uncovers Tmp again.
	if err := w.SetVoxel(plat.Canvas, points[0], 9); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := w.GetVoxel(points[0]); v.Payload != 9 || v.Layer != plat.Canvas {
		t.Fatalf("after canvas write %+v", v)
	}
	if err := w.SetVoxel(plat.Canvas, points[0], 0); err != nil {
		t.Fatal(err)
	}
	if v, _, _ := w.GetVoxel(points[0]); v.Payload != 1 || v.Layer != plat.Tmp {
		t.Fatalf("after canvas erase %+v", v)
	}
	if last := rec.edits[len(rec.edits)-1]; last.Prev != 9 || last.Payload != 0 || last.Seq != 5 {
		t.Fatalf("erase edit %+v", last)
	}

	w.ResumeSeq(100)
	if err := w.SetVoxel(plat.Base, points[2], 3); err != nil {
		t.Fatal(err)
	}
	if got := rec.edits[len(rec.edits)-1].Seq; got != 101 || w.LastSeq() != 101 {
		t.Fatalf("seq after resume = %d", got)
	}
	if err := w.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestReadsDoNotCreateRegions(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	if _, ok, err := w.GetVoxel(Vec3i{5, 5, 5}); ok || err != nil {
		t.Fatalf("GetVoxel on empty world = %v,%v", ok, err)
	}
	_, err := w.LoadChunk(ChunkRequest{Region: Key{0, 0, 0}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadChunk on empty world: %v", err)
	}
	if n := len(w.Regions()); n != 0 {
		t.Fatalf("%d regions created by reads", n)
	}
}

func TestSetVoxelRejectsBadLayer(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	if err := w.SetVoxel(plat.LayerIndex(9), Vec3i{}, 1); !errors.Is(err, plat.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestMaxRegions(t *testing.T) {
	cfg := testConfig("")
	cfg.MaxRegions = 1
	w := newTestWorld(t, cfg)
	if err := w.SetVoxel(plat.Base, Vec3i{1, 1, 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.SetVoxel(plat.Base, Vec3i{2, 2, 2}, 1); err != nil {
		t.Fatalf("second write to the same region: %v", err)
	}
	if err := w.SetVoxel(plat.Base, Vec3i{64, 1, 1}, 1); !errors.Is(err, ErrTooManyRegions) {
		t.Fatalf("expected ErrTooManyRegions, got %v", err)
	}
}

func TestLoadChunk(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	if err := w.SetVoxel(plat.Base, Vec3i{3, 4, 5}, 2); err != nil {
		t.Fatal(err)
	}
	if err := w.SetVoxel(plat.Schematic, Vec3i{3, 4, 5}, 6); err != nil {
		t.Fatal(err)
	}

	c, err := w.LoadChunk(ChunkRequest{Region: Key{}, LOD: 0})
	if err != nil {
		t.Fatalf("LoadChunk: %v", err)
	}
	if c.Side() != 32 || c.Count() != 1 || c.Get(3, 4, 5) != 6 {
		t.Fatalf("overlay chunk side=%d count=%d cell=%d", c.Side(), c.Count(), c.Get(3, 4, 5))
	}

	base := plat.Base
	c, err = w.LoadChunk(ChunkRequest{Region: Key{}, LOD: 0, Layer: &base})
	if err != nil || c.Get(3, 4, 5) != 2 {
		t.Fatalf("base chunk: %v", err)
	}
	canvas := plat.Canvas
	if _, err := w.LoadChunk(ChunkRequest{Region: Key{}, Layer: &canvas}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty layer: %v", err)
	}

	for _, req := range []ChunkRequest{
		{Region: Key{}, LOD: 6},
		{Region: Key{}, Chunk: [3]int{1, 0, 0}},
		{Region: Key{}, Chunk: [3]int{-1, 0, 0}},
	} {
		if _, err := w.LoadChunk(req); !errors.Is(err, plat.ErrInvalidAddress) {
			t.Fatalf("LoadChunk(%+v): expected ErrInvalidAddress, got %v", req, err)
		}
	}
}

func TestLoadChunks(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	if err := w.SetVoxel(plat.Base, Vec3i{1, 1, 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.SetVoxel(plat.Base, Vec3i{33, 1, 1}, 2); err != nil {
		t.Fatal(err)
	}
	reqs := []ChunkRequest{
		{Region: Key{0, 0, 0}, LOD: 2},
		{Region: Key{5, 5, 5}},
		{Region: Key{1, 0, 0}, LOD: 0},
	}
	got, err := w.LoadChunks(context.Background(), reqs)
	if err != nil {
		t.Fatalf("LoadChunks: %v", err)
	}
	if got[0] == nil || got[0].Side() != 8 || got[0].Get(0, 0, 0) != 1 {
		t.Fatalf("chunk 0 = %+v", got[0])
	}
	if got[1] != nil {
		t.Fatalf("missing region produced a chunk")
	}
	if got[2] == nil || got[2].Get(1, 1, 1) != 2 {
		t.Fatalf("chunk 2 = %+v", got[2])
	}

	reqs = append(reqs, ChunkRequest{Region: Key{}, LOD: 99})
	if _, err := w.LoadChunks(context.Background(), reqs); !errors.Is(err, plat.ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestGeneratorSeedsBase(t *testing.T) {
	cfg := testConfig("")
	cfg.Generator = floor{}
	w := newTestWorld(t, cfg)
	v, ok, err := w.GetVoxel(Vec3i{-7, 0, 40})
	if err != nil || !ok || v.Payload != 7 || v.Layer != plat.Base {
		t.Fatalf("generated voxel %+v,%v,%v", v, ok, err)
	}
	if _, ok, _ := w.GetVoxel(Vec3i{-7, 1, 40}); ok {
		t.Fatalf("voxel above the floor")
	}
	// Reads generate the region below too; it is empty.
	if _, ok, err := w.GetVoxel(Vec3i{-7, -1, 40}); ok || err != nil {
		t.Fatalf("voxel below the floor: %v,%v", ok, err)
	}
	st := w.Stats()
	if st.Regions != 2 || st.Layers[plat.Base].Voxels != 32*32 {
		t.Fatalf("stats %+v", st)
	}
}

func TestInsertSegment(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	seg := plat.NewSegment(8)
	seg.Set(0, 0, 0, 3)
	seg.Set(7, 7, 7, 4)
	if err := w.InsertSegment(plat.Schematic, seg, Vec3i{-16, 8, 24}); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}
	for _, tc := range []struct {
		pos  Vec3i
		want uint32
	}{{Vec3i{-16, 8, 24}, 3}, {Vec3i{-9, 15, 31}, 4}} {
		if v, ok, _ := w.GetVoxel(tc.pos); !ok || v.Payload != tc.want {
			t.Fatalf("GetVoxel(%v) = %+v,%v", tc.pos, v, ok)
		}
	}
	if err := w.InsertSegment(plat.Schematic, seg, Vec3i{4, 0, 0}); !errors.Is(err, plat.ErrInvalidAddress) {
		t.Fatalf("unaligned segment: %v", err)
	}
}

func TestInsertSegmentJournalsEachVoxel(t *testing.T) {
	w := newTestWorld(t, testConfig(""))
	rec := &recorder{}
	w.SetEditSink(rec)
	w.SetIndexer(rec)
	if err := w.SetVoxel(plat.Schematic, Vec3i{3, 3, 3}, 2); err != nil {
		t.Fatal(err)
	}

	seg := plat.NewSegment(4)
	seg.Set(0, 0, 0, 9)
	seg.Set(3, 3, 3, 5)
	if err := w.InsertSegment(plat.Schematic, seg, Vec3i{0, 0, 0}); err != nil {
		t.Fatalf("InsertSegment: %v", err)
	}
	want := []Edit{
		{Seq: 1, Layer: "SCHEMATIC", Pos: [3]int{3, 3, 3}, Payload: 2},
		{Seq: 2, Layer: "SCHEMATIC", Pos: [3]int{0, 0, 0}, Payload: 9},
		{Seq: 3, Layer: "SCHEMATIC", Pos: [3]int{3, 3, 3}, Payload: 5, Prev: 2},
	}
	ignoreAt := cmpopts.IgnoreFields(Edit{}, "At")
	if diff := cmp.Diff(want, rec.edits, ignoreAt); diff != "" {
		t.Fatalf("journal (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, rec.indexed, ignoreAt); diff != "" {
		t.Fatalf("index (-want +got):\n%s", diff)
	}
	if w.LastSeq() != 3 {
		t.Fatalf("LastSeq=%d", w.LastSeq())
	}
}

func TestInsertSegmentPartialFailureStaysDirty(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.Plat.BrickCapacity = 2 // one usable brick
	w := newTestWorld(t, cfg)
	rec := &recorder{}
	w.SetEditSink(rec)

	seg := plat.NewSegment(16)
	seg.Set(0, 0, 0, 3)
	seg.Set(15, 15, 15, 4)
	if err := w.InsertSegment(plat.Base, seg, Vec3i{0, 0, 0}); !errors.Is(err, plat.ErrPoolExhausted) {
		t.Fatalf("InsertSegment: %v", err)
	}
	if v, ok, _ := w.GetVoxel(Vec3i{0, 0, 0}); !ok || v.Payload != 3 {
		t.Fatalf("written voxel lost: %+v,%v", v, ok)
	}
	if len(rec.edits) != 1 || rec.edits[0].Payload != 3 {
		t.Fatalf("journal %+v", rec.edits)
	}

	if err := w.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	keys, err := snapshot.List(dir)
	if err != nil || len(keys) != 1 {
		t.Fatalf("snapshots %v: %v", keys, err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorld(t, testConfig(dir))
	rec := &recorder{}
	w.SetIndexer(rec)
	points := map[Vec3i]uint32{{1, 1, 1}: 1, {40, 2, -3}: 2, {-1, -1, -1}: 3}
	for p, v := range points {
		if err := w.SetVoxel(plat.Canvas, p, v); err != nil {
			t.Fatal(err)
		}
	}
	// Erase leaves structure behind for the save-time compaction.
	if err := w.SetVoxel(plat.Tmp, Vec3i{5, 5, 5}, 8); err != nil {
		t.Fatal(err)
	}
	if err := w.SetVoxel(plat.Tmp, Vec3i{5, 5, 5}, 0); err != nil {
		t.Fatal(err)
	}
	if err := w.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if len(rec.saved) != 3 {
		t.Fatalf("indexed %d saves, want 3", len(rec.saved))
	}
	keys, err := snapshot.List(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := [][3]int{{-1, -1, -1}, {0, 0, 0}, {1, 0, -1}}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Fatalf("snapshots (-want +got):\n%s", diff)
	}

	w2 := newTestWorld(t, testConfig(dir))
	n, err := w2.Load()
	if err != nil || n != 3 {
		t.Fatalf("Load = %d,%v", n, err)
	}
	for p, v := range points {
		got, ok, err := w2.GetVoxel(p)
		if err != nil || !ok || got.Payload != v || got.Layer != plat.Canvas {
			t.Fatalf("restored GetVoxel(%v) = %+v,%v,%v", p, got, ok, err)
		}
	}
	if st := w2.Stats(); st.Layers[plat.Tmp].Bricks != 0 || st.Layers[plat.Tmp].Voxels != 0 {
		t.Fatalf("tmp layer not compacted before save: %+v", st.Layers[plat.Tmp])
	}
	if err := w2.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Nothing changed, so a second save writes nothing.
	w2.SetIndexer(rec)
	if err := w2.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.saved) != 3 {
		t.Fatalf("clean regions were saved again")
	}
}

func TestAutosave(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(dir)
	cfg.EveryEdits = 3
	w := newTestWorld(t, cfg)
	path := snapshot.Path(dir, [3]int{0, 0, 0})
	for i := 0; i < 2; i++ {
		if err := w.SetVoxel(plat.Base, Vec3i{i, 0, 0}, 1); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("snapshot written early: %v", err)
	}
	if err := w.SetVoxel(plat.Base, Vec3i{2, 0, 0}, 1); err != nil {
		t.Fatal(err)
	}
	snap, err := snapshot.ReadRegion(path)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	p, err := snap.Plat()
	if err != nil {
		t.Fatal(err)
	}
	if got := p.Layer(plat.Base).Stats().Voxels; got != 3 {
		t.Fatalf("autosaved %d voxels, want 3", got)
	}
}

func TestLoadRejectsDepthMismatch(t *testing.T) {
	dir := t.TempDir()
	w := newTestWorld(t, testConfig(dir))
	if err := w.SetVoxel(plat.Base, Vec3i{1, 1, 1}, 1); err != nil {
		t.Fatal(err)
	}
	if err := w.Save(context.Background()); err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(dir)
	cfg.Plat.Depth = 6
	w2 := newTestWorld(t, cfg)
	if _, err := w2.Load(); err == nil {
		t.Fatalf("expected depth mismatch error")
	}
}

type failingSink struct{}

func (failingSink) WriteEdit(Edit) error { return errors.New("disk full") }

func TestEditSinksFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	sinks := EditSinks{a, failingSink{}, b}
	err := sinks.WriteEdit(Edit{Seq: 1})
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("err=%v", err)
	}
	if len(a.edits) != 1 || len(b.edits) != 1 {
		t.Fatalf("fan-out reached a=%d b=%d", len(a.edits), len(b.edits))
	}
}
