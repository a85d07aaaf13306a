package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"time"

	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/transport/observer"
	"voxplat.ai/internal/transport/ws"
	"voxplat.ai/internal/world"
)

type serverRuntime struct {
	world    *world.World
	index    runtimeIndex
	ws       *ws.Server
	observer *observer.Server
	logger   *log.Logger

	admin     bool
	pprof     bool
	startedAt time.Time
}

func (rt *serverRuntime) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)
	mux.HandleFunc("/v1/ws", rt.ws.Handler())

	if rt.admin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", rt.loopbackOnly(rt.handleState))
		mux.HandleFunc("/admin/v1/save", rt.loopbackOnly(rt.handleSave))
		mux.HandleFunc("/admin/v1/compact", rt.loopbackOnly(rt.handleCompact))
		mux.HandleFunc("/admin/v1/verify", rt.loopbackOnly(rt.handleVerify))
		mux.HandleFunc("/admin/v1/observer/bootstrap", rt.loopbackOnly(rt.observer.BootstrapHandler()))
		mux.HandleFunc("/admin/v1/observer/ws", rt.loopbackOnly(rt.observer.WSHandler()))
	} else {
		rt.logger.Printf("admin endpoints disabled (VP_ENABLE_ADMIN_HTTP=false)")
	}
	if rt.pprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func (rt *serverRuntime) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (rt *serverRuntime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	st := rt.world.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP voxplat_regions Resident regions.\n")
	fmt.Fprintf(rw, "# TYPE voxplat_regions gauge\n")
	fmt.Fprintf(rw, "voxplat_regions %d\n", st.Regions)

	fmt.Fprintf(rw, "# HELP voxplat_clients Connected websocket clients.\n")
	fmt.Fprintf(rw, "# TYPE voxplat_clients gauge\n")
	fmt.Fprintf(rw, "voxplat_clients %d\n", rt.ws.Sessions())

	fmt.Fprintf(rw, "# HELP voxplat_observers Connected edit-feed observers.\n")
	fmt.Fprintf(rw, "# TYPE voxplat_observers gauge\n")
	fmt.Fprintf(rw, "voxplat_observers %d\n", rt.observer.Observers())
	fmt.Fprintf(rw, "# HELP voxplat_observer_dropped_total Edits not delivered to a lagging observer.\n")
	fmt.Fprintf(rw, "# TYPE voxplat_observer_dropped_total counter\n")
	fmt.Fprintf(rw, "voxplat_observer_dropped_total %d\n", rt.observer.Dropped())

	type series struct {
		name, help string
		get        func(plat.Stats) int
	}
	for _, s := range []series{
		{"voxplat_layer_nodes", "Branch nodes in use.", func(s plat.Stats) int { return s.Nodes }},
		{"voxplat_layer_free_nodes", "Nodes on the free-list.", func(s plat.Stats) int { return s.FreeNodes }},
		{"voxplat_layer_forks", "Fork nodes in use.", func(s plat.Stats) int { return s.Forks }},
		{"voxplat_layer_bricks", "Bricks in use.", func(s plat.Stats) int { return s.Bricks }},
		{"voxplat_layer_entries", "Distinct payloads with an entry.", func(s plat.Stats) int { return s.Entries }},
		{"voxplat_layer_voxels", "Occupied voxels.", func(s plat.Stats) int { return s.Voxels }},
	} {
		fmt.Fprintf(rw, "# HELP %s %s\n", s.name, s.help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", s.name)
		for i, ls := range st.Layers {
			fmt.Fprintf(rw, "%s{layer=%q} %d\n", s.name, plat.LayerIndex(i).String(), s.get(ls))
		}
	}

	if rt.index != nil {
		is := rt.index.Stats()
		fmt.Fprintf(rw, "# HELP voxplat_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(rw, "# TYPE voxplat_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "voxplat_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(rw, "# HELP voxplat_index_dropped_total Rows dropped under backpressure.\n")
		fmt.Fprintf(rw, "# TYPE voxplat_index_dropped_total counter\n")
		fmt.Fprintf(rw, "voxplat_index_dropped_total{kind=%q} %d\n", "edit", is.DropEditTotal)
		fmt.Fprintf(rw, "voxplat_index_dropped_total{kind=%q} %d\n", "region", is.DropRegionTotal)
	}
}

func (rt *serverRuntime) handleState(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	cfg := rt.world.Config()
	resp := struct {
		Depth      int         `json:"depth"`
		ChunkLevel int         `json:"chunk_level"`
		UptimeSec  int64       `json:"uptime_sec"`
		Clients    int64       `json:"clients"`
		Regions    []string    `json:"regions"`
		Stats      world.Stats `json:"stats"`
		Total      plat.Stats  `json:"total"`
	}{
		Depth:      cfg.Plat.Depth,
		ChunkLevel: cfg.Plat.ChunkLevel,
		UptimeSec:  int64(time.Since(rt.startedAt).Seconds()),
		Clients:    rt.ws.Sessions(),
		Stats:      rt.world.Stats(),
	}
	resp.Total = resp.Stats.Total()
	for _, k := range rt.world.Regions() {
		resp.Regions = append(resp.Regions, k.String())
	}
	_ = json.NewEncoder(rw).Encode(resp)
}

func (rt *serverRuntime) handleSave(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
	defer cancel()
	rw.Header().Set("Content-Type", "application/json")
	if err := rt.world.Save(ctx); err != nil {
		rw.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
}

func (rt *serverRuntime) handleCompact(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	st := rt.world.Compact()
	rt.logger.Printf("compact: released nodes=%d forks=%d bricks=%d", st.Nodes, st.Forks, st.Bricks)
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "released": st})
}

func (rt *serverRuntime) handleVerify(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "application/json")
	if err := rt.world.Verify(); err != nil {
		rt.logger.Printf("verify: %v", err)
		rw.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
		return
	}
	_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true})
}
