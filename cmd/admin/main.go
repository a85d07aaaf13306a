package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxplat.ai/internal/encoding"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/persistence/snapshot"
	"voxplat.ai/internal/protocol"
	"voxplat.ai/internal/tuning"
	"voxplat.ai/internal/world"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "rollback":
			rollbackCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		case "stats":
			statsCmd(os.Args[2:])
			return
		case "verify":
			verifyCmd(os.Args[2:])
			return
		case "chunk":
			chunkCmd(os.Args[2:])
			return
		case "state", "save", "compact":
			httpCmd(os.Args[1], os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	if err := listRegions(os.Stdout, *dataDir); err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}
}

func listRegions(out io.Writer, dataDir string) error {
	keys, err := snapshot.List(dataDir)
	if err != nil {
		return err
	}
	for _, k := range keys {
		path := snapshot.Path(dataDir, k)
		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		h, err := snapshot.ReadHeader(path)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		fmt.Fprintf(out, "%s\tdepth=%d\tsize=%s\tsaved=%s\tid=%s\n",
			world.KeyOf(k), h.Depth, humanize.Bytes(uint64(fi.Size())),
			humanize.Time(time.UnixMilli(h.SavedAt)), h.ID)
	}
	return nil
}

func statsCmd(args []string) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
	_ = fs.Parse(args)

	w, err := openWorld(*dataDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	printStats(os.Stdout, w.Stats())
}

func printStats(out io.Writer, s world.Stats) {
	fmt.Fprintf(out, "regions: %s\n", humanize.Comma(int64(s.Regions)))
	row := func(name string, st plat.Stats) {
		fmt.Fprintf(out, "%-10s voxels=%s nodes=%s forks=%s bricks=%s entries=%d\n",
			name, humanize.Comma(int64(st.Voxels)), humanize.Comma(int64(st.Nodes)),
			humanize.Comma(int64(st.Forks)), humanize.Comma(int64(st.Bricks)), st.Entries)
	}
	for i, st := range s.Layers {
		row(plat.LayerIndex(i).String(), st)
	}
	row("total", s.Total())
}

func verifyCmd(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
	_ = fs.Parse(args)

	w, err := openWorld(*dataDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	if err := w.Verify(); err != nil {
		fmt.Fprintln(os.Stderr, "verify:", err)
		os.Exit(1)
	}
	fmt.Printf("verify ok: regions=%d\n", len(w.Regions()))
}

func chunkCmd(args []string) {
	fs := flag.NewFlagSet("chunk", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	tuningPath := fs.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml)")
	regionArg := fs.String("region", "0,0,0", "region key x,y,z")
	chunkArg := fs.String("chunk", "0,0,0", "chunk position within the region x,y,z")
	lod := fs.Int("lod", 0, "level of detail")
	layer := fs.String("layer", "", "single layer (default: all layers overlaid)")
	_ = fs.Parse(args)

	w, err := openWorld(*dataDir, *tuningPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	msg, err := dumpChunk(w, *regionArg, *chunkArg, *lod, *layer)
	if err != nil {
		fmt.Fprintln(os.Stderr, "chunk:", err)
		os.Exit(1)
	}
	printJSON(msg)
}

func dumpChunk(w *world.World, regionArg, chunkArg string, lod int, layer string) (protocol.ChunkMsg, error) {
	var msg protocol.ChunkMsg
	r, err := parseVec3(regionArg)
	if err != nil {
		return msg, fmt.Errorf("bad -region: %w", err)
	}
	c, err := parseVec3(chunkArg)
	if err != nil {
		return msg, fmt.Errorf("bad -chunk: %w", err)
	}
	req := world.ChunkRequest{Region: world.KeyOf(r), Chunk: c, LOD: lod}
	if layer != "" {
		li, err := plat.ParseLayer(layer)
		if err != nil {
			return msg, err
		}
		req.Layer = &li
	}
	ch, err := w.LoadChunk(req)
	if err != nil {
		return msg, err
	}
	return protocol.ChunkMsg{
		Type:            protocol.TypeChunk,
		ProtocolVersion: protocol.Version,
		Region:          r,
		Chunk:           c,
		LOD:             lod,
		Side:            ch.Side(),
		Count:           ch.Count(),
		VoxelsRLE:       encoding.EncodeRLE(ch.Cells()),
	}, nil
}

// openWorld restores every snapshot under dataDir. Terrain generation stays
// off so reads never invent regions.
func openWorld(dataDir, tuningPath string) (*world.World, error) {
	tune, err := loadTuning(dataDir, tuningPath)
	if err != nil {
		return nil, err
	}
	w, err := world.New(world.Config{
		Plat:          tune.PlatConfig(),
		MaxRegions:    tune.MaxRegions,
		DataDir:       dataDir,
		CompactOnSave: tune.Snapshot.CompactOnSave,
	}, log.New(os.Stderr, "[admin] ", log.LstdFlags))
	if err != nil {
		return nil, err
	}
	if _, err := w.Load(); err != nil {
		return nil, err
	}
	return w, nil
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

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
