package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"voxplat.ai/internal/encoding"
	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/protocol"
	"voxplat.ai/internal/world"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	w, err := world.New(world.Config{
		Plat: plat.Config{Depth: 6, NodeCapacity: 512, BrickCapacity: 256, ChunkLevel: 5},
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("world.New: %v", err)
	}
	s := NewServer(w, Options{MaxChunkLOD: 3}, log.New(io.Discard, "", 0))
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(hs.Close)
	return s, hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func recv[T any](t *testing.T, conn *websocket.Conn, wantType string) T {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	base, err := protocol.DecodeBase(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if base.Type != wantType {
		t.Fatalf("got %s want %s: %s", base.Type, wantType, b)
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", wantType, err)
	}
	return v
}

func hello(t *testing.T, conn *websocket.Conn) protocol.WelcomeMsg {
	t.Helper()
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "test"})
	return recv[protocol.WelcomeMsg](t, conn, protocol.TypeWelcome)
}

func TestHandshake(t *testing.T) {
	_, hs := newTestServer(t)
	conn := dial(t, hs)
	w := hello(t, conn)
	if w.SessionID == "" {
		t.Fatalf("empty session id")
	}
	p := w.WorldParams
	if p.Depth != 6 || p.RegionSide != 64 || p.ChunkLevel != 5 || p.ForkLevel != 4 || p.MaxChunkLOD != 3 {
		t.Fatalf("world params %+v", p)
	}
	if strings.Join(p.Layers, ",") != "BASE,TMP,SCHEMATIC,CANVAS" {
		t.Fatalf("layers %v", p.Layers)
	}
}

func TestHandshakeRejectsBadVersion(t *testing.T) {
	_, hs := newTestServer(t)
	conn := dial(t, hs)
	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	if !errors.As(err, &ce) || ce.Code != websocket.ClosePolicyViolation {
		t.Fatalf("expected policy-violation close, got %v", err)
	}
}

func TestVoxelRequests(t *testing.T) {
	s, hs := newTestServer(t)
	conn := dial(t, hs)
	hello(t, conn)

	send(t, conn, protocol.SetVoxelMsg{
		Type: protocol.TypeSetVoxel, ProtocolVersion: protocol.Version, ReqID: "s1",
		Layer: "schematic", Pos: [3]int{-3, 5, 70}, Payload: 12,
	})
	if ack := recv[protocol.AckMsg](t, conn, protocol.TypeAck); ack.ReqID != "s1" {
		t.Fatalf("ack %+v", ack)
	}

	send(t, conn, protocol.GetVoxelMsg{Type: protocol.TypeGetVoxel, ProtocolVersion: protocol.Version, ReqID: "g1", Pos: [3]int{-3, 5, 70}})
	v := recv[protocol.VoxelMsg](t, conn, protocol.TypeVoxel)
	if v.ReqID != "g1" || !v.Found || v.Payload != 12 || v.Layer != "SCHEMATIC" {
		t.Fatalf("voxel %+v", v)
	}

	send(t, conn, protocol.GetVoxelMsg{Type: protocol.TypeGetVoxel, ProtocolVersion: protocol.Version, ReqID: "g2", Pos: [3]int{0, 0, 0}})
	if v := recv[protocol.VoxelMsg](t, conn, protocol.TypeVoxel); v.Found {
		t.Fatalf("empty voxel found: %+v", v)
	}

	send(t, conn, protocol.StatsMsg{Type: protocol.TypeStats, ProtocolVersion: protocol.Version, ReqID: "st"})
	st := recv[protocol.StatsRespMsg](t, conn, protocol.TypeStatsResp)
	if st.Regions != 1 || len(st.Layers) != plat.LayerCount || st.Layers[plat.Schematic].Voxels != 1 {
		t.Fatalf("stats %+v", st)
	}
	if s.Sessions() != 1 {
		t.Fatalf("sessions=%d", s.Sessions())
	}
}

func TestLoadChunk(t *testing.T) {
	_, hs := newTestServer(t)
	conn := dial(t, hs)
	hello(t, conn)

	// Region (-1,0,1) local (61,5,6) lands in chunk (1,0,0).
	send(t, conn, protocol.SetVoxelMsg{
		Type: protocol.TypeSetVoxel, ProtocolVersion: protocol.Version, ReqID: "s1",
		Layer: "CANVAS", Pos: [3]int{-3, 5, 70}, Payload: 4,
	})
	recv[protocol.AckMsg](t, conn, protocol.TypeAck)

	send(t, conn, protocol.LoadChunkMsg{
		Type: protocol.TypeLoadChunk, ProtocolVersion: protocol.Version, ReqID: "c1",
		Region: [3]int{-1, 0, 1}, Chunk: [3]int{1, 0, 0}, LOD: 0,
	})
	c := recv[protocol.ChunkMsg](t, conn, protocol.TypeChunk)
	if c.ReqID != "c1" || c.Side != 32 || c.Count != 1 {
		t.Fatalf("chunk %+v", c)
	}
	cells, err := encoding.DecodeRLE(c.VoxelsRLE, c.Side*c.Side*c.Side)
	if err != nil {
		t.Fatalf("DecodeRLE: %v", err)
	}
	grid, ok := plat.GridFromCells(c.Side, cells)
	if !ok {
		t.Fatalf("decoded %d cells", len(cells))
	}
	if got := grid.Get(61-32, 5, 6); got != 4 {
		t.Fatalf("cell = %d want 4", got)
	}

	send(t, conn, protocol.LoadChunkMsg{
		Type: protocol.TypeLoadChunk, ProtocolVersion: protocol.Version, ReqID: "c2",
		Region: [3]int{-1, 0, 1}, Chunk: [3]int{1, 0, 0}, LOD: 2, Layer: "BASE",
	})
	if e := recv[protocol.ErrorMsg](t, conn, protocol.TypeError); e.Code != protocol.ErrNotFound || e.ReqID != "c2" {
		t.Fatalf("error %+v", e)
	}
}

func TestRequestErrors(t *testing.T) {
	_, hs := newTestServer(t)
	conn := dial(t, hs)
	hello(t, conn)

	cases := []struct {
		msg  any
		code string
	}{
		{protocol.GetVoxelMsg{Type: protocol.TypeGetVoxel, ProtocolVersion: "0.1", ReqID: "1"}, protocol.ErrProtoBadRequest},
		{protocol.BaseMessage{Type: "TELEPORT", ProtocolVersion: protocol.Version, ReqID: "2"}, protocol.ErrProtoBadRequest},
		{protocol.SetVoxelMsg{Type: protocol.TypeSetVoxel, ProtocolVersion: protocol.Version, ReqID: "3", Layer: "LAVA"}, protocol.ErrBadRequest},
		{protocol.LoadChunkMsg{Type: protocol.TypeLoadChunk, ProtocolVersion: protocol.Version, ReqID: "4", LOD: 4}, protocol.ErrBadRequest},
		{protocol.LoadChunkMsg{Type: protocol.TypeLoadChunk, ProtocolVersion: protocol.Version, ReqID: "5", Region: [3]int{9, 9, 9}}, protocol.ErrNotFound},
		{protocol.LoadChunkMsg{Type: protocol.TypeLoadChunk, ProtocolVersion: protocol.Version, ReqID: "6", Chunk: [3]int{0, -1, 0}}, protocol.ErrInvalidAddress},
	}
	for i, tc := range cases {
		send(t, conn, tc.msg)
		e := recv[protocol.ErrorMsg](t, conn, protocol.TypeError)
		if e.Code != tc.code || e.ReqID != fmt.Sprint(i+1) {
			t.Fatalf("case %d: error %+v want code %s", i, e, tc.code)
		}
	}
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		fmt.Errorf("set: %w", plat.ErrPoolExhausted):  protocol.ErrNoCapacity,
		fmt.Errorf("x: %w", world.ErrTooManyRegions):  protocol.ErrNoCapacity,
		fmt.Errorf("get: %w", plat.ErrInvalidAddress): protocol.ErrInvalidAddress,
		fmt.Errorf("chunk: %w", world.ErrNotFound):    protocol.ErrNotFound,
		errors.New("disk on fire"):                    protocol.ErrInternal,
	}
	for err, want := range cases {
		if got := ErrorCode(err); got != want {
			t.Fatalf("ErrorCode(%v)=%s want %s", err, got, want)
		}
	}
}
