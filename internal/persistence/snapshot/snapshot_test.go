package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"voxplat.ai/internal/engine/addr"
	"voxplat.ai/internal/engine/plat"
)

func testPlat(t *testing.T) *plat.RawPlat {
	t.Helper()
	p, err := plat.New(plat.Config{Depth: 6, NodeCapacity: 128, BrickCapacity: 64, ChunkLevel: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	writes := []struct {
		layer plat.LayerIndex
		pos   addr.UVec3
		v     uint32
	}{
		{plat.Base, addr.U(1, 2, 3), 1},
		{plat.Base, addr.U(40, 2, 3), 2},
		{plat.Tmp, addr.U(1, 2, 3), 3},
		{plat.Canvas, addr.U(63, 63, 63), 4},
	}
	for _, w := range writes {
		if err := p.Set(w.layer, w.pos, w.v); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	return p
}

func TestRegionRoundTrip(t *testing.T) {
	dir := t.TempDir()
	region := [3]int{-1, 0, 2}
	p := testPlat(t)
	snap := FromPlat(region, p, time.Unix(1700000000, 0))
	path := Path(dir, region)
	if filepath.Base(path) != "r.-1.0.2.snap.zst" {
		t.Fatalf("path %s", path)
	}
	if err := WriteRegion(path, snap); err != nil {
		t.Fatalf("WriteRegion: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	if diff := cmp.Diff(snap.Header, h); diff != "" {
		t.Fatalf("header (-want +got):\n%s", diff)
	}

	got, err := ReadRegion(path)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	q, err := got.Plat()
	if err != nil {
		t.Fatalf("Plat: %v", err)
	}
	if diff := cmp.Diff(p.Stats(), q.Stats()); diff != "" {
		t.Fatalf("stats (-want +got):\n%s", diff)
	}
	for _, pos := range []addr.UVec3{addr.U(1, 2, 3), addr.U(40, 2, 3), addr.U(63, 63, 63)} {
		a, _ := p.GetVoxel(pos)
		b, _ := q.GetVoxel(pos)
		if a.Payload != b.Payload || a.Layer != b.Layer {
			t.Fatalf("voxel %v: %+v vs %+v", pos, a, b)
		}
	}

	regions, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if diff := cmp.Diff([][3]int{region}, regions); diff != "" {
		t.Fatalf("regions (-want +got):\n%s", diff)
	}
}

func TestReadRegionRejectsCorruptLayer(t *testing.T) {
	dir := t.TempDir()
	snap := FromPlat([3]int{0, 0, 0}, testPlat(t), time.Now())
	// Point the base root at a free node.
	snap.Layers[plat.Base].Nodes[9*1+7] = 100
	path := Path(dir, [3]int{0, 0, 0})
	if err := WriteRegion(path, snap); err != nil {
		t.Fatalf("WriteRegion: %v", err)
	}
	got, err := ReadRegion(path)
	if err != nil {
		t.Fatalf("ReadRegion: %v", err)
	}
	if _, err := got.Plat(); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestListMissingDir(t *testing.T) {
	regions, err := List(filepath.Join(t.TempDir(), "nope"))
	if err != nil || len(regions) != 0 {
		t.Fatalf("List: %v %v", regions, err)
	}
}
