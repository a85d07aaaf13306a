package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"voxplat.ai/internal/engine/plat"
	"voxplat.ai/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "bot", "client name")
		requests = flag.Int("n", 1000, "requests to send")
		span     = flag.Int("span", 64, "edge of the cube of voxels the bot touches, from the world origin")
		seed     = flag.Int64("seed", 0, "random seed (0 = time based)")
		interval = flag.Duration("interval", 0, "pause between requests")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	welcome, err := hello(conn, *name)
	if err != nil {
		logger.Fatalf("handshake: %v", err)
	}
	p := welcome.WorldParams
	logger.Printf("WELCOME session=%s depth=%d region_side=%d chunk_level=%d layers=%v",
		welcome.SessionID, p.Depth, p.RegionSide, p.ChunkLevel, p.Layers)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	pr := newProbe(conn, p, *span, *seed)
	pr.interval = *interval
	pr.stop = stop
	sum, err := pr.run(*requests)
	if err != nil {
		logger.Printf("probe stopped: %v", err)
	}
	logger.Print(sum)
}

func hello(conn *websocket.Conn, name string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ClientName:      name,
	}); err != nil {
		return w, err
	}
	if err := conn.ReadJSON(&w); err != nil {
		return w, err
	}
	if w.Type != protocol.TypeWelcome {
		return w, fmt.Errorf("expected WELCOME, got %q", w.Type)
	}
	return w, nil
}

// probe drives random GET_VOXEL, SET_VOXEL and LOAD_CHUNK requests at one
// server and checks reads against its own canvas writes.
type probe struct {
	conn     *websocket.Conn
	params   protocol.WorldParams
	rng      *rand.Rand
	span     int
	interval time.Duration
	stop     <-chan os.Signal

	reqs    int
	written map[[3]int]uint32
}

type summary struct {
	Sent     int
	Replies  map[string]int
	Mismatch int
	Elapsed  time.Duration
}

func (s summary) String() string {
	keys := make([]string, 0, len(s.Replies))
	for k := range s.Replies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%d", k, s.Replies[k])
	}
	rate := 0.0
	if s.Elapsed > 0 {
		rate = float64(s.Sent) / s.Elapsed.Seconds()
	}
	return fmt.Sprintf("sent=%d mismatch=%d elapsed=%s rate=%.0f/s%s",
		s.Sent, s.Mismatch, s.Elapsed.Round(time.Millisecond), rate, b.String())
}

func newProbe(conn *websocket.Conn, params protocol.WorldParams, span int, seed int64) *probe {
	if params.RegionSide > 0 && span > params.RegionSide {
		span = params.RegionSide
	}
	if span < 1 {
		span = 1
	}
	return &probe{
		conn:    conn,
		params:  params,
		rng:     rand.New(rand.NewSource(seed)),
		span:    span,
		written: map[[3]int]uint32{},
	}
}

func (p *probe) run(n int) (sum summary, err error) {
	sum.Replies = map[string]int{}
	start := time.Now()
	defer func() { sum.Elapsed = time.Since(start) }()

	for i := 0; i < n; i++ {
		select {
		case <-p.stop:
			return sum, fmt.Errorf("interrupted")
		default:
		}

		kind, err := p.step(&sum)
		if err != nil {
			return sum, err
		}
		sum.Sent++
		sum.Replies[kind]++
		if p.interval > 0 {
			time.Sleep(p.interval)
		}
	}
	return sum, nil
}

func (p *probe) pos() [3]int {
	return [3]int{p.rng.Intn(p.span), p.rng.Intn(p.span), p.rng.Intn(p.span)}
}

func (p *probe) reqID() string {
	p.reqs++
	return fmt.Sprintf("R_%d", p.reqs)
}

// step sends one request and returns the reply type, or ERROR:<code>.
func (p *probe) step(sum *summary) (string, error) {
	var req any
	var check func(raw []byte)
	switch op := p.rng.Intn(10); {
	case op < 5:
		pos := p.pos()
		payload := uint32(1 + p.rng.Intn(255))
		if p.rng.Intn(8) == 0 {
			payload = 0
		}
		req = protocol.SetVoxelMsg{
			Type:            protocol.TypeSetVoxel,
			ProtocolVersion: protocol.Version,
			ReqID:           p.reqID(),
			Layer:           plat.Canvas.String(),
			Pos:             pos,
			Payload:         payload,
		}
		check = func(raw []byte) {
			if b, _ := protocol.DecodeBase(raw); b.Type == protocol.TypeAck {
				p.written[pos] = payload
			}
		}
	case op < 8:
		pos := p.pos()
		req = protocol.GetVoxelMsg{
			Type:            protocol.TypeGetVoxel,
			ProtocolVersion: protocol.Version,
			ReqID:           p.reqID(),
			Pos:             pos,
		}
		check = func(raw []byte) {
			want, ok := p.written[pos]
			if !ok || want == 0 {
				return
			}
			var v protocol.VoxelMsg
			if json.Unmarshal(raw, &v) != nil || !v.Found || v.Payload != want {
				sum.Mismatch++
			}
		}
	default:
		side := 1 << uint(p.params.ChunkLevel)
		pos := p.pos()
		req = protocol.LoadChunkMsg{
			Type:            protocol.TypeLoadChunk,
			ProtocolVersion: protocol.Version,
			ReqID:           p.reqID(),
			Chunk:           [3]int{pos[0] / side, pos[1] / side, pos[2] / side},
			LOD:             p.rng.Intn(p.params.MaxChunkLOD + 1),
		}
	}

	if err := p.conn.WriteJSON(req); err != nil {
		return "", err
	}
	_, raw, err := p.conn.ReadMessage()
	if err != nil {
		return "", err
	}
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return "", err
	}
	if check != nil {
		check(raw)
	}
	if base.Type == protocol.TypeError {
		var e protocol.ErrorMsg
		if err := json.Unmarshal(raw, &e); err != nil {
			return "", err
		}
		return protocol.TypeError + ":" + e.Code, nil
	}
	return base.Type, nil
}
