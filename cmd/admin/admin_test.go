package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"voxplat.ai/internal/encoding"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/persistence/indexdb"
	persistlog "voxplat.ai/internal/persistence/log"
	"voxplat.ai/internal/tuning"
	"voxplat.ai/internal/world"
)

// seedDataDir journals three edits and saves the regions they touched.
func seedDataDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	w, err := world.New(world.Config{Plat: tuning.Defaults().PlatConfig(), DataDir: dir}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	journal := persistlog.NewEditLogger(dir)
	w.SetEditSink(journal)

	writes := []struct {
		layer   plat.LayerIndex
		pos     world.Vec3i
		payload uint32
	}{
		{plat.Canvas, world.Vec3i{X: 1, Y: 2, Z: 3}, 5},
		{plat.Canvas, world.Vec3i{X: 1, Y: 2, Z: 3}, 6},
		{plat.Base, world.Vec3i{X: 300, Y: 0, Z: 0}, 9},
	}
	for _, wr := range writes {
		if err := w.SetVoxel(wr.layer, wr.pos, wr.payload); err != nil {
			t.Fatalf("SetVoxel %v: %v", wr.pos, err)
		}
	}
	if err := w.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("journal Close: %v", err)
	}
	return dir
}

func TestParseAABB(t *testing.T) {
	min, max, err := parseAABB("5,-1,3:0,4,3")
	if err != nil {
		t.Fatalf("parseAABB: %v", err)
	}
	if min != [3]int{0, -1, 3} || max != [3]int{5, 4, 3} {
		t.Fatalf("min=%v max=%v", min, max)
	}
	for _, bad := range []string{"", "1,2,3", "1,2:3,4,5", "a,b,c:1,2,3"} {
		if _, _, err := parseAABB(bad); err == nil {
			t.Fatalf("parseAABB(%q) accepted", bad)
		}
	}
}

func TestCollectEdits(t *testing.T) {
	dir := persistlog.EditDir(seedDataDir(t))
	box := [2][3]int{{0, 0, 0}, {10, 10, 10}}

	got, err := collectEdits(dir, 1, 0, box[0], box[1])
	if err != nil {
		t.Fatalf("collectEdits: %v", err)
	}
	var seqs []uint64
	for _, e := range got {
		seqs = append(seqs, e.Seq)
	}
	if diff := cmp.Diff([]uint64{2, 1}, seqs); diff != "" {
		t.Fatalf("seqs (-want +got):\n%s", diff)
	}
	if got[0].Prev != 5 || got[1].Prev != 0 {
		t.Fatalf("prev=%d,%d want 5,0", got[0].Prev, got[1].Prev)
	}

	got, err = collectEdits(dir, 2, 2, box[0], box[1])
	if err != nil {
		t.Fatalf("collectEdits: %v", err)
	}
	if len(got) != 1 || got[0].Seq != 2 {
		t.Fatalf("bounded range got %+v", got)
	}
}

func TestRollbackRestoresPriorValues(t *testing.T) {
	dataDir := seedDataDir(t)

	edits, err := collectEdits(persistlog.EditDir(dataDir), 2, 0, [3]int{0, 0, 0}, [3]int{10, 10, 10})
	if err != nil {
		t.Fatalf("collectEdits: %v", err)
	}
	w, err := openWorld(dataDir, "")
	if err != nil {
		t.Fatalf("openWorld: %v", err)
	}
	applied, skipped := applyRollback(w, edits)
	if applied != 1 || skipped != 0 {
		t.Fatalf("applied=%d skipped=%d", applied, skipped)
	}
	v, ok, err := w.GetVoxel(world.Vec3i{X: 1, Y: 2, Z: 3})
	if err != nil || !ok || v.Payload != 5 {
		t.Fatalf("after partial rollback: %+v ok=%v err=%v", v, ok, err)
	}

	edits, _ = collectEdits(persistlog.EditDir(dataDir), 1, 0, [3]int{0, 0, 0}, [3]int{10, 10, 10})
	applyRollback(w, edits)
	if _, ok, _ := w.GetVoxel(world.Vec3i{X: 1, Y: 2, Z: 3}); ok {
		t.Fatalf("voxel survived full rollback")
	}
	v, ok, _ = w.GetVoxel(world.Vec3i{X: 300, Y: 0, Z: 0})
	if !ok || v.Payload != 9 {
		t.Fatalf("voxel outside the box changed: %+v ok=%v", v, ok)
	}

	bad := []world.Edit{{Seq: 9, Layer: "LAVA", Pos: [3]int{1, 1, 1}}}
	if applied, skipped := applyRollback(w, bad); applied != 0 || skipped != 1 {
		t.Fatalf("bad layer: applied=%d skipped=%d", applied, skipped)
	}
}

func TestListAndStats(t *testing.T) {
	dataDir := seedDataDir(t)

	var buf bytes.Buffer
	if err := listRegions(&buf, dataDir); err != nil {
		t.Fatalf("listRegions: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("list lines=%d:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "r.0.0.0\tdepth=8\t") || !strings.HasPrefix(lines[1], "r.1.0.0\t") {
		t.Fatalf("unexpected listing:\n%s", buf.String())
	}

	w, err := openWorld(dataDir, "")
	if err != nil {
		t.Fatalf("openWorld: %v", err)
	}
	if err := w.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	buf.Reset()
	printStats(&buf, w.Stats())
	out := buf.String()
	if !strings.Contains(out, "regions: 2\n") || !strings.Contains(out, "total      voxels=2 ") {
		t.Fatalf("unexpected stats:\n%s", out)
	}
}

func TestDumpChunk(t *testing.T) {
	w, err := openWorld(seedDataDir(t), "")
	if err != nil {
		t.Fatalf("openWorld: %v", err)
	}
	msg, err := dumpChunk(w, "0,0,0", "0,0,0", 0, "canvas")
	if err != nil {
		t.Fatalf("dumpChunk: %v", err)
	}
	if msg.Side != 32 || msg.Count != 1 {
		t.Fatalf("side=%d count=%d", msg.Side, msg.Count)
	}
	cells, err := encoding.DecodeRLE(msg.VoxelsRLE, 32*32*32)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	if got := cells[1+2*32+3*32*32]; got != 6 {
		t.Fatalf("cell=%d want 6", got)
	}

	if _, err := dumpChunk(w, "0,0,0", "0,0,0", 0, "lava"); err == nil {
		t.Fatalf("bad layer accepted")
	}
	if _, err := dumpChunk(w, "5,5,5", "0,0,0", 0, ""); err == nil {
		t.Fatalf("missing region accepted")
	}
}

func TestRunQuery(t *testing.T) {
	path := indexdb.Path(t.TempDir())
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	idx.RecordEdit(world.Edit{Seq: 1, At: 0, Region: [3]int{0, 0, 0}, Layer: "CANVAS", Pos: [3]int{1, 2, 3}, Payload: 5})
	idx.RecordEdit(world.Edit{Seq: 2, At: 0, Region: [3]int{0, 0, 0}, Layer: "CANVAS", Pos: [3]int{1, 2, 3}, Payload: 6, Prev: 5})
	if err := idx.UpsertTuning(map[string]int{"depth": 8}); err != nil {
		t.Fatalf("UpsertTuning: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		t.Fatalf("OpenReader: %v", err)
	}
	defer r.Close()
	ctx := context.Background()

	var buf bytes.Buffer
	if err := runQuery(ctx, &buf, r, "history", "1,2,3", 10); err != nil {
		t.Fatalf("history: %v", err)
	}
	want := "seq=2\tlayer=CANVAS\t5 -> 6\tat=1970-01-01T00:00:00Z\n" +
		"seq=1\tlayer=CANVAS\t0 -> 5\tat=1970-01-01T00:00:00Z\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("history (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := runQuery(ctx, &buf, r, "tuning", "", 0); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	if strings.TrimSpace(buf.String()) != `{"depth":8}` {
		t.Fatalf("tuning=%q", buf.String())
	}

	if err := runQuery(ctx, &buf, r, "history", "1,2", 10); err == nil {
		t.Fatalf("bad -pos accepted")
	}
	if err := runQuery(ctx, &buf, r, "agents", "", 10); err == nil {
		t.Fatalf("unknown query accepted")
	}
}

func TestAdminRequest(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = append(got, r.Method+" "+r.URL.Path)
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	for _, name := range []string{"state", "save", "compact"} {
		body, status, err := adminRequest(srv.Client(), srv.URL+"/", name)
		if err != nil || status != http.StatusOK || string(body) != `{"ok":true}` {
			t.Fatalf("%s: status=%d body=%q err=%v", name, status, body, err)
		}
	}
	want := []string{"GET /admin/v1/state", "POST /admin/v1/save", "POST /admin/v1/compact"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("requests (-want +got):\n%s", diff)
	}
}
