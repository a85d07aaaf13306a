package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"voxplat.ai/internal/engine/plat"
	persistlog "voxplat.ai/internal/persistence/log"
	"voxplat.ai/internal/world"
)

func rollbackCmd(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
	aabb := fs.String("aabb", "", "AABB filter: x1,y1,z1:x2,y2,z2 (required)")
	sinceSeq := fs.Uint64("since_seq", 1, "undo edits from this sequence number (inclusive)")
	toSeq := fs.Uint64("to_seq", 0, "undo edits up to this sequence number (inclusive, 0 = latest)")
	dryRun := fs.Bool("dry_run", false, "report matching edits without writing")
	_ = fs.Parse(args)

	if strings.TrimSpace(*aabb) == "" {
		fmt.Fprintln(os.Stderr, "missing -aabb")
		os.Exit(2)
	}
	min, max, err := parseAABB(*aabb)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bad -aabb:", err)
		os.Exit(2)
	}

	dir := persistlog.EditDir(*dataDir)
	edits, err := collectEdits(dir, *sinceSeq, *toSeq, min, max)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read journal:", err)
		os.Exit(1)
	}
	if len(edits) == 0 {
		fmt.Println("no matching edits; nothing to rollback")
		return
	}
	if *dryRun {
		for _, e := range edits {
			printJSON(e)
		}
		return
	}

	w, err := openWorld(*dataDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	last, err := persistlog.LastSeq(dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "journal tail:", err)
		os.Exit(1)
	}
	w.ResumeSeq(last)
	journal := persistlog.NewEditLogger(*dataDir)
	defer journal.Close()
	w.SetEditSink(journal)

	applied, skipped := applyRollback(w, edits)
	if err := w.Save(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "save:", err)
		os.Exit(1)
	}
	fmt.Printf("rollback ok: aabb=%s since=%d to=%d entries=%d applied=%d skipped=%d\n",
		*aabb, *sinceSeq, *toSeq, len(edits), applied, skipped)
}

// collectEdits returns journaled edits in [since, to] inside the box, newest
// first. to == 0 means no upper bound.
func collectEdits(dir string, since, to uint64, min, max [3]int) ([]world.Edit, error) {
	files, err := persistlog.ListEditFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []world.Edit
	for _, path := range files {
		err := persistlog.ReadEdits(path, func(e world.Edit) error {
			if e.Seq < since || (to > 0 && e.Seq > to) {
				return nil
			}
			if withinAABB(e.Pos, min, max) {
				out = append(out, e)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

// applyRollback writes each edit's Prev back. Applied newest first, every
// voxel ends at the value it held before the oldest matching edit.
func applyRollback(w *world.World, edits []world.Edit) (applied, skipped int) {
	for _, e := range edits {
		layer, err := plat.ParseLayer(e.Layer)
		if err != nil {
			skipped++
			continue
		}
		pos := world.Vec3i{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
		if err := w.SetVoxel(layer, pos, e.Prev); err != nil {
			skipped++
			continue
		}
		applied++
	}
	return applied, skipped
}

func withinAABB(pos [3]int, min, max [3]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] &&
		pos[1] >= min[1] && pos[1] <= max[1] &&
		pos[2] >= min[2] && pos[2] <= max[2]
}

func parseAABB(s string) (min, max [3]int, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1,z1:x2,y2,z2")
	}
	a, err := parseVec3(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec3(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 3; i++ {
		if a[i] <= b[i] {
			min[i], max[i] = a[i], b[i]
		} else {
			min[i], max[i] = b[i], a[i]
		}
	}
	return min, max, nil
}
