// Package observer streams applied edits to read-only viewers. The server is
// an edit sink; each subscriber gets the edits inside its box.
package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/observerproto"
	"voxplat.ai/internal/world"
)

const queueSize = 1024

type Server struct {
	world *world.World
	log   *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu   sync.RWMutex
	subs map[uint64]*subscriber

	dropped atomic.Uint64
}

type subscriber struct {
	id     uint64
	filter atomic.Pointer[filter]
	out    chan []byte
}

type filter struct {
	min, max [3]int
	layers   uint8
}

func (f *filter) match(e world.Edit) bool {
	for i := 0; i < 3; i++ {
		if e.Pos[i] < f.min[i] || e.Pos[i] > f.max[i] {
			return false
		}
	}
	l, err := plat.ParseLayer(e.Layer)
	return err == nil && f.layers&(1<<l) != 0
}

func NewServer(w *world.World, logger *log.Logger) *Server {
	return &Server{
		world: w,
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		subs: map[uint64]*subscriber{},
	}
}

func (s *Server) Observers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

// WriteEdit never blocks: a subscriber whose queue is full misses the edit.
func (s *Server) WriteEdit(e world.Edit) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.subs) == 0 {
		return nil
	}
	var b []byte
	for _, sub := range s.subs {
		if !sub.filter.Load().match(e) {
			continue
		}
		if b == nil {
			var err error
			b, err = json.Marshal(observerproto.EditMsg{
				Type:            observerproto.TypeEdit,
				ProtocolVersion: observerproto.Version,
				Seq:             e.Seq,
				At:              e.At,
				Region:          e.Region,
				Layer:           e.Layer,
				Pos:             e.Pos,
				Payload:         e.Payload,
				Prev:            e.Prev,
			})
			if err != nil {
				return err
			}
		}
		select {
		case sub.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			LastSeq:         s.world.LastSeq(),
			WorldParams: observerproto.WorldParams{
				Depth:      cfg.Plat.Depth,
				RegionSide: s.world.RegionSide(),
				ChunkLevel: cfg.Plat.ChunkLevel,
			},
			Regions: [][3]int{},
		}
		for _, k := range s.world.Regions() {
			resp.Regions = append(resp.Regions, k.Array())
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		f, err := parseSubscribe(msg)
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()), time.Now().Add(time.Second))
			return
		}

		sub := &subscriber{id: s.nextID.Add(1), out: make(chan []byte, queueSize)}
		sub.filter.Store(f)
		s.mu.Lock()
		s.subs[sub.id] = sub
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			delete(s.subs, sub.id)
			s.mu.Unlock()
		}()
		s.log.Printf("observer O%d subscribed min=%v max=%v", sub.id, f.min, f.max)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-sub.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			f, err := parseSubscribe(msg)
			if err != nil {
				continue
			}
			sub.filter.Store(f)
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (*filter, error) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return nil, fmt.Errorf("bad subscribe")
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return nil, fmt.Errorf("expected SUBSCRIBE")
	}
	f := &filter{}
	for i := 0; i < 3; i++ {
		f.min[i], f.max[i] = sub.Min[i], sub.Max[i]
		if f.min[i] > f.max[i] {
			f.min[i], f.max[i] = f.max[i], f.min[i]
		}
	}
	if len(sub.Layers) == 0 {
		f.layers = 1<<plat.LayerCount - 1
	}
	for _, name := range sub.Layers {
		l, err := plat.ParseLayer(name)
		if err != nil {
			return nil, err
		}
		f.layers |= 1 << l
	}
	return f, nil
}
