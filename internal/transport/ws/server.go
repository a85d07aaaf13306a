package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voxplat.ai/internal/encoding"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/protocol"
	"voxplat.ai/internal/world"
)

type Options struct {
	ReadTimeout     time.Duration
	MaxMessageBytes int64
	MaxChunkLOD     int
	// QueueSize bounds replies waiting for the writer goroutine.
	QueueSize int
}

func (o Options) withDefaults() Options {
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 32
	}
	return o
}

type Server struct {
	world *world.World
	opts  Options
	log   *log.Logger

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(w *world.World, opts Options, logger *log.Logger) *Server {
	return &Server{
		world: w,
		opts:  opts.withDefaults(),
		log:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of connected clients.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.SetReadLimit(s.opts.MaxMessageBytes)

		session := s.handshake(conn)
		if session == "" {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		out := make(chan []byte, s.opts.QueueSize)

		// Writer goroutine.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Requests of one session are served in order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			b, err := json.Marshal(s.dispatch(msg))
			if err != nil {
				s.log.Printf("session %s: marshal reply: %v", session, err)
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-done
	}
}

func (s *Server) handshake(conn *websocket.Conn) string {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return ""
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return ""
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return ""
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return ""
	}

	cfg := s.world.Config().Plat
	layers := make([]string, 0, plat.LayerCount)
	for i := plat.LayerIndex(0); i < plat.LayerCount; i++ {
		layers = append(layers, i.String())
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		WorldParams: protocol.WorldParams{
			Depth:       cfg.Depth,
			RegionSide:  s.world.RegionSide(),
			ChunkLevel:  cfg.ChunkLevel,
			ForkLevel:   plat.ForkLevel,
			MaxChunkLOD: s.opts.MaxChunkLOD,
			Layers:      layers,
		},
	}
	if err := writeJSON(conn, welcome); err != nil {
		return ""
	}
	if hello.ClientName != "" {
		s.log.Printf("session %s: %s connected", welcome.SessionID, hello.ClientName)
	}
	return welcome.SessionID
}

// dispatch serves one request and returns its reply; failures become ERROR.
func (s *Server) dispatch(msg []byte) any {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return errorMsg("", protocol.ErrProtoBadRequest, "malformed json")
	}
	if base.ProtocolVersion != protocol.Version {
		return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version")
	}

	switch base.Type {
	case protocol.TypeGetVoxel:
		var m protocol.GetVoxelMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.ReqID, protocol.ErrBadRequest, err.Error())
		}
		v, ok, err := s.world.GetVoxel(world.Vec3i{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]})
		if err != nil {
			return s.failure(m.ReqID, err)
		}
		resp := protocol.VoxelMsg{
			Type:            protocol.TypeVoxel,
			ProtocolVersion: protocol.Version,
			ReqID:           m.ReqID,
			Pos:             m.Pos,
			Found:           ok,
		}
		if ok {
			resp.Payload = v.Payload
			resp.Layer = v.Layer.String()
		}
		return resp

	case protocol.TypeSetVoxel:
		var m protocol.SetVoxelMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.ReqID, protocol.ErrBadRequest, err.Error())
		}
		layer, err := plat.ParseLayer(m.Layer)
		if err != nil {
			return errorMsg(m.ReqID, protocol.ErrBadRequest, err.Error())
		}
		if err := s.world.SetVoxel(layer, world.Vec3i{X: m.Pos[0], Y: m.Pos[1], Z: m.Pos[2]}, m.Payload); err != nil {
			return s.failure(m.ReqID, err)
		}
		return protocol.AckMsg{Type: protocol.TypeAck, ProtocolVersion: protocol.Version, ReqID: m.ReqID}

	case protocol.TypeLoadChunk:
		var m protocol.LoadChunkMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return errorMsg(base.ReqID, protocol.ErrBadRequest, err.Error())
		}
		if m.LOD > s.opts.MaxChunkLOD {
			return errorMsg(m.ReqID, protocol.ErrBadRequest, fmt.Sprintf("lod %d above %d", m.LOD, s.opts.MaxChunkLOD))
		}
		req := world.ChunkRequest{Region: world.KeyOf(m.Region), Chunk: m.Chunk, LOD: m.LOD}
		if m.Layer != "" {
			layer, err := plat.ParseLayer(m.Layer)
			if err != nil {
				return errorMsg(m.ReqID, protocol.ErrBadRequest, err.Error())
			}
			req.Layer = &layer
		}
		c, err := s.world.LoadChunk(req)
		if err != nil {
			return s.failure(m.ReqID, err)
		}
		return protocol.ChunkMsg{
			Type:            protocol.TypeChunk,
			ProtocolVersion: protocol.Version,
			ReqID:           m.ReqID,
			Region:          m.Region,
			Chunk:           m.Chunk,
			LOD:             m.LOD,
			Side:            c.Side(),
			Count:           c.Count(),
			VoxelsRLE:       encoding.EncodeRLE(c.Cells()),
		}

	case protocol.TypeStats:
		st := s.world.Stats()
		resp := protocol.StatsRespMsg{
			Type:            protocol.TypeStatsResp,
			ProtocolVersion: protocol.Version,
			ReqID:           base.ReqID,
			Regions:         st.Regions,
		}
		for i, ls := range st.Layers {
			resp.Layers = append(resp.Layers, protocol.LayerStats{
				Layer:   plat.LayerIndex(i).String(),
				Nodes:   ls.Nodes,
				Forks:   ls.Forks,
				Bricks:  ls.Bricks,
				Entries: ls.Entries,
				Voxels:  ls.Voxels,
			})
		}
		return resp

	case protocol.TypeHello:
		return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "already connected")
	default:
		return errorMsg(base.ReqID, protocol.ErrProtoBadRequest, "unknown type "+base.Type)
	}
}

func (s *Server) failure(reqID string, err error) protocol.ErrorMsg {
	code := ErrorCode(err)
	if code == protocol.ErrInternal {
		s.log.Printf("request %s: %v", reqID, err)
	}
	return errorMsg(reqID, code, err.Error())
}

// ErrorCode maps an engine or world error onto its wire code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, plat.ErrPoolExhausted), errors.Is(err, world.ErrTooManyRegions):
		return protocol.ErrNoCapacity
	case errors.Is(err, plat.ErrInvalidAddress):
		return protocol.ErrInvalidAddress
	case errors.Is(err, world.ErrNotFound):
		return protocol.ErrNotFound
	default:
		return protocol.ErrInternal
	}
}

func errorMsg(reqID, code, message string) protocol.ErrorMsg {
	return protocol.ErrorMsg{
		Type:            protocol.TypeError,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Code:            code,
		Message:         message,
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
