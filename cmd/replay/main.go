package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"voxplat.ai/internal/engine/plat"
	persistlog "voxplat.ai/internal/persistence/log"
	"voxplat.ai/internal/persistence/snapshot"
	"voxplat.ai/internal/tuning"
	"voxplat.ai/internal/world"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory holding edits/")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
		fromSeq    = flag.Uint64("from_seq", 0, "start checking prev values from this sequence number (inclusive, optional)")
		toSeq      = flag.Uint64("to_seq", 0, "stop after this sequence number (inclusive, optional)")
		outDir     = flag.String("out", "", "write rebuilt region snapshots under this directory (optional; must hold none)")
		verbose    = flag.Bool("v", false, "log region generation")
	)
	flag.Parse()

	tune, err := loadTuning(*dataDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	if *outDir != "" {
		if keys, err := snapshot.List(*outDir); err != nil || len(keys) > 0 {
			fmt.Fprintf(os.Stderr, "-out %s: already holds %d snapshots (err=%v)\n", *outDir, len(keys), err)
			os.Exit(2)
		}
	}

	cfg := world.Config{
		Plat:          tune.PlatConfig(),
		MaxRegions:    tune.MaxRegions,
		DataDir:       *outDir,
		CompactOnSave: tune.Snapshot.CompactOnSave,
	}
	// Prev values were captured against generated terrain.
	if tune.Gen.Enabled {
		cfg.Generator = tune.Terrain()
	}
	logOut := io.Discard
	if *verbose {
		logOut = os.Stderr
	}
	w, err := world.New(cfg, log.New(logOut, "[replay] ", log.LstdFlags))
	if err != nil {
		fmt.Fprintln(os.Stderr, "world:", err)
		os.Exit(1)
	}

	files, err := persistlog.ListEditFiles(persistlog.EditDir(*dataDir))
	if err != nil {
		fmt.Fprintln(os.Stderr, "list edits:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no edit files found in", persistlog.EditDir(*dataDir))
		os.Exit(1)
	}

	st, err := replay(w, files, *fromSeq, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	if err := w.Verify(); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	if *outDir != "" {
		if err := w.Save(context.Background()); err != nil {
			fmt.Fprintln(os.Stderr, "save:", err)
			os.Exit(1)
		}
	}

	total := w.Stats().Total()
	fmt.Printf("replay ok: edits=%d checked=%d seq=%d..%d regions=%d voxels=%d\n",
		st.Applied, st.Checked, st.First, st.Last, len(w.Regions()), total.Voxels)
}

var errStop = errors.New("stop")

type replayStats struct {
	Applied int
	Checked int
	First   uint64
	Last    uint64
}

// lastEdit captures what the replaying world would have journaled.
type lastEdit struct{ e world.Edit }

func (l *lastEdit) WriteEdit(e world.Edit) error {
	l.e = e
	return nil
}

// replay reapplies journaled edits in order. From fromSeq on, every edit's
// Prev must match what the rebuilt world held before the write; a mismatch
// means the journal and the world disagree about history.
func replay(w *world.World, files []string, fromSeq, toSeq uint64) (replayStats, error) {
	var st replayStats
	seen := &lastEdit{}
	w.SetEditSink(seen)
	defer w.SetEditSink(nil)

	for _, path := range files {
		err := persistlog.ReadEdits(path, func(e world.Edit) error {
			if toSeq != 0 && e.Seq > toSeq {
				return errStop
			}
			if st.Last != 0 && e.Seq <= st.Last {
				return fmt.Errorf("sequence went backwards: %d after %d (file=%s)", e.Seq, st.Last, filepath.Base(path))
			}
			layer, err := plat.ParseLayer(e.Layer)
			if err != nil {
				return fmt.Errorf("seq %d: %w", e.Seq, err)
			}
			pos := world.Vec3i{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]}
			if err := w.SetVoxel(layer, pos, e.Payload); err != nil {
				return fmt.Errorf("seq %d: %w", e.Seq, err)
			}
			if st.First == 0 {
				st.First = e.Seq
			}
			st.Last = e.Seq
			st.Applied++
			if e.Seq >= fromSeq {
				st.Checked++
				if seen.e.Prev != e.Prev {
					return fmt.Errorf("prev mismatch at seq %d %s %v: got=%d want=%d", e.Seq, e.Layer, e.Pos, seen.e.Prev, e.Prev)
				}
			}
			return nil
		})
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return st, err
		}
	}
	return st, nil
}

func loadTuning(dataDir, path string) (tuning.Tuning, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		p = filepath.Join(dataDir, "tuning.yaml")
	}
	t, err := tuning.Load(p)
	if os.IsNotExist(err) && path == "" {
		return tuning.Defaults(), nil
	}
	return t, err
}
