package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"voxplat.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	pos := fs.String("pos", "", "world voxel x,y,z (history)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "regions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = indexdb.Path(*dataDir)
	}

	r, err := indexdb.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runQuery(ctx, os.Stdout, r, q, *pos, *limit); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-pos x,y,z] [-limit N] regions|history|tuning")
		os.Exit(2)
	}
}

func runQuery(ctx context.Context, out io.Writer, r *indexdb.Reader, q, pos string, limit int) error {
	switch q {
	case "regions":
		rs, err := r.Regions(ctx)
		if err != nil {
			return err
		}
		for _, s := range rs {
			fmt.Fprintf(out, "r.%d.%d.%d\tvoxels=%s\tnodes=%s\tbricks=%s\tsaved=%s\n",
				s.Region[0], s.Region[1], s.Region[2],
				humanize.Comma(int64(s.Stats.Voxels)), humanize.Comma(int64(s.Stats.Nodes)),
				humanize.Comma(int64(s.Stats.Bricks)), humanize.Time(time.UnixMilli(s.SavedAt)))
		}
		return nil

	case "history":
		p, err := parseVec3(pos)
		if err != nil {
			return fmt.Errorf("bad -pos: %w", err)
		}
		edits, err := r.History(ctx, p, limit)
		if err != nil {
			return err
		}
		for _, e := range edits {
			fmt.Fprintf(out, "seq=%d\tlayer=%s\t%d -> %d\tat=%s\n",
				e.Seq, e.Layer, e.Prev, e.Payload, time.UnixMilli(e.At).UTC().Format(time.RFC3339))
		}
		return nil

	case "tuning":
		v, ok, err := r.Meta(ctx, "tuning")
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no tuning recorded")
		}
		fmt.Fprintln(out, v)
		return nil
	}
	return fmt.Errorf("unknown query")
}
