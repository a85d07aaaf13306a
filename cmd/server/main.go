package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	persistlog "voxplat.ai/internal/persistence/log"
	"voxplat.ai/internal/transport/observer"
	"voxplat.ai/internal/transport/ws"
	"voxplat.ai/internal/tuning"
	"voxplat.ai/internal/world"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <data>/tuning.yaml; built-in defaults if absent)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite index (regions + edits)")
		saveEvery  = flag.Duration("save_every", time.Minute, "interval between saves of edited regions (0 disables)")
		noJournal  = flag.Bool("no_journal", false, "do not journal edits")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)
	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*dataDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) || *tuningPath != "" {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	idx, err := openRuntimeIndex(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertTuning(tune); err != nil {
			logger.Printf("index backend: upsert tuning: %v", err)
		}
	}

	cfg := world.Config{
		Plat:          tune.PlatConfig(),
		MaxRegions:    tune.MaxRegions,
		DataDir:       *dataDir,
		EveryEdits:    tune.Snapshot.EveryEdits,
		CompactOnSave: tune.Snapshot.CompactOnSave,
	}
	if tune.Gen.Enabled {
		cfg.Generator = tune.Terrain()
	}
	w, err := world.New(cfg, log.New(os.Stdout, "[world] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("world: %v", err)
	}
	n, err := w.Load()
	if err != nil {
		logger.Fatalf("load regions: %v", err)
	}
	logger.Printf("restored %d regions from %s", n, *dataDir)

	last, err := persistlog.LastSeq(persistlog.EditDir(*dataDir))
	if err != nil {
		logger.Printf("edit journal tail unreadable, sequence restarts after %d: %v", last, err)
	}
	w.ResumeSeq(last)

	obs := observer.NewServer(w, log.New(os.Stdout, "[observer] ", log.LstdFlags|log.Lmicroseconds))
	sinks := world.EditSinks{obs}
	if !*noJournal {
		journal := persistlog.NewEditLogger(*dataDir)
		defer journal.Close()
		sinks = append(world.EditSinks{journal}, sinks...)
	}
	w.SetEditSink(sinks)
	if idx != nil {
		w.SetIndexer(idx)
	}

	ctx, cancel := signalContext()
	defer cancel()

	if *saveEvery > 0 {
		go func() {
			t := time.NewTicker(*saveEvery)
			defer t.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-t.C:
					if err := w.Save(ctx); err != nil && ctx.Err() == nil {
						logger.Printf("periodic save: %v", err)
					}
				}
			}
		}()
	}

	wsSrv := ws.NewServer(w, ws.Options{
		ReadTimeout:     time.Duration(tune.Transport.ReadTimeoutSec) * time.Second,
		MaxMessageBytes: int64(tune.Transport.MaxMessageBytes),
		MaxChunkLOD:     tune.Transport.MaxChunkLOD,
	}, log.New(os.Stdout, "[ws] ", log.LstdFlags|log.Lmicroseconds))

	rt := &serverRuntime{
		world:     w,
		index:     idx,
		ws:        wsSrv,
		observer:  obs,
		logger:    logger,
		admin:     envBool("VP_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
		pprof:     envBool("VP_ENABLE_PPROF_HTTP", false),
		startedAt: time.Now(),
	}
	srv := &http.Server{
		Addr:              *addr,
		Handler:           rt.mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (depth=%d chunk_level=%d)", *addr, tune.Depth, tune.ChunkLevel)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// Final save runs with a fresh context; ctx is already cancelled.
	if err := w.Save(context.Background()); err != nil {
		logger.Printf("final save: %v", err)
	}
	logger.Printf("stopped")
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
