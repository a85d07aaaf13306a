package snapshot

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"voxplat.ai/internal/engine/plat"
)

const Version = 1

type Header struct {
	Version int    `json:"version" msgpack:"version"`
	ID      string `json:"id" msgpack:"id"`
	Region  [3]int `json:"region" msgpack:"region"`
	Depth   int    `json:"depth" msgpack:"depth"`
	SavedAt int64  `json:"saved_at" msgpack:"saved_at"`
}

// RegionV1 is one region's four layers as stored on disk.
type RegionV1 struct {
	Header Header             `msgpack:"header"`
	Layers []*plat.LayerImage `msgpack:"layers"`
}

// FromPlat captures p. The images are copies; p may change afterwards.
func FromPlat(region [3]int, p *plat.RawPlat, now time.Time) RegionV1 {
	snap := RegionV1{
		Header: Header{
			Version: Version,
			ID:      uuid.NewString(),
			Region:  region,
			Depth:   p.Depth(),
			SavedAt: now.UTC().UnixMilli(),
		},
		Layers: make([]*plat.LayerImage, 0, plat.LayerCount),
	}
	for i := plat.LayerIndex(0); i < plat.LayerCount; i++ {
		snap.Layers = append(snap.Layers, p.Layer(i).Image())
	}
	return snap
}

// Plat rebuilds the region; every layer is verified on the way in.
func (s RegionV1) Plat() (*plat.RawPlat, error) {
	if len(s.Layers) != plat.LayerCount {
		return nil, fmt.Errorf("snapshot %s: %d layers", s.Header.ID, len(s.Layers))
	}
	var layers [plat.LayerCount]*plat.Layer
	for _, img := range s.Layers {
		if img == nil || !img.Layer.Valid() {
			return nil, fmt.Errorf("snapshot %s: bad layer image", s.Header.ID)
		}
		if img.Depth != s.Header.Depth {
			return nil, fmt.Errorf("snapshot %s: layer %s depth %d, header %d", s.Header.ID, img.Layer, img.Depth, s.Header.Depth)
		}
		l, err := plat.LayerFromImage(img)
		if err != nil {
			return nil, fmt.Errorf("snapshot %s: %w", s.Header.ID, err)
		}
		layers[img.Layer] = l
	}
	return plat.FromLayers(layers)
}

// Path is where region's snapshot lives under dataDir.
func Path(dataDir string, region [3]int) string {
	return filepath.Join(dataDir, "regions", fmt.Sprintf("r.%d.%d.%d.snap.zst", region[0], region[1], region[2]))
}

// List returns the regions with a snapshot under dataDir, sorted.
func List(dataDir string) ([][3]int, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, "regions"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out [][3]int
	for _, e := range ents {
		var r [3]int
		if e.IsDir() {
			continue
		}
		if n, err := fmt.Sscanf(e.Name(), "r.%d.%d.%d.snap.zst", &r[0], &r[1], &r[2]); err != nil || n != 3 {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	return out, nil
}

// WriteRegion writes to a temporary file and renames it into place so a
// crash never leaves a truncated snapshot behind.
func WriteRegion(path string, snap RegionV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap RegionV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := msgpack.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("msgpack encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadRegion(path string) (RegionV1, error) {
	var snap RegionV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := msgpack.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("msgpack decode: %w", err)
	}
	if snap.Header != h {
		return snap, fmt.Errorf("header line %s does not match body %s", h.ID, snap.Header.ID)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(bytes.TrimSpace(line), &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}
