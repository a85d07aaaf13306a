package tuning

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"voxplat.ai/internal/engine/gen"
	"voxplat.ai/internal/engine/plat"
)

//go:embed tuning.schema.json
var schemaJSON string

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Depth         int `yaml:"depth"`
	ChunkLevel    int `yaml:"chunk_level"`
	NodeCapacity  int `yaml:"node_capacity"`
	BrickCapacity int `yaml:"brick_capacity"`
	// MaxRegions caps resident regions; 0 means unlimited.
	MaxRegions int `yaml:"max_regions"`

	Gen       Gen       `yaml:"gen"`
	Snapshot  Snapshot  `yaml:"snapshot"`
	Transport Transport `yaml:"transport"`
}

type Gen struct {
	Enabled bool  `yaml:"enabled"`
	Seed    int64 `yaml:"seed"`
	Base    int   `yaml:"base"`
	Amp     int   `yaml:"amp"`
	Sea     int   `yaml:"sea"`
	Cell    int   `yaml:"cell"`
}

type Snapshot struct {
	// EveryEdits saves a region after that many edits; 0 disables.
	EveryEdits    int  `yaml:"every_edits"`
	CompactOnSave bool `yaml:"compact_on_save"`
}

type Transport struct {
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	MaxMessageBytes int `yaml:"max_message_bytes"`
	MaxChunkLOD     int `yaml:"max_chunk_lod"`
}

func Defaults() Tuning {
	g := gen.DefaultTerrain(1337)
	return Tuning{
		ProtocolVersion: "1.0",
		Depth:           8,
		ChunkLevel:      5,
		NodeCapacity:    1 << 16,
		BrickCapacity:   1 << 15,
		Gen: Gen{
			Enabled: true,
			Seed:    g.Seed,
			Base:    g.Base,
			Amp:     g.Amp,
			Sea:     g.Sea,
			Cell:    g.Cell,
		},
		Snapshot: Snapshot{
			EveryEdits:    4096,
			CompactOnSave: true,
		},
		Transport: Transport{
			ReadTimeoutSec:  60,
			MaxMessageBytes: 1 << 20,
			MaxChunkLOD:     5,
		},
	}
}

// Load reads a YAML file over Defaults, checks it against the embedded
// schema, then applies cross-field rules.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := checkSchema(raw); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func checkSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	// Round-trip through JSON so numbers and maps have the shapes the
	// validator expects.
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := jsonschema.CompileString("tuning.schema.json", schemaJSON)
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return s.Validate(v)
}

func (t Tuning) Validate() error {
	if err := t.PlatConfig().Validate(); err != nil {
		return err
	}
	if t.ChunkLevel > plat.MaxChunkSpan {
		return fmt.Errorf("chunk_level %d above %d", t.ChunkLevel, plat.MaxChunkSpan)
	}
	if t.Transport.MaxChunkLOD > t.ChunkLevel {
		return fmt.Errorf("max_chunk_lod %d above chunk_level %d", t.Transport.MaxChunkLOD, t.ChunkLevel)
	}
	if t.Gen.Enabled && t.Gen.Cell <= 0 {
		return fmt.Errorf("gen.cell must be positive")
	}
	return nil
}

func (t Tuning) PlatConfig() plat.Config {
	return plat.Config{
		Depth:         t.Depth,
		ChunkLevel:    t.ChunkLevel,
		NodeCapacity:  t.NodeCapacity,
		BrickCapacity: t.BrickCapacity,
	}
}

func (t Tuning) Terrain() gen.Terrain {
	return gen.Terrain{Seed: t.Gen.Seed, Base: t.Gen.Base, Amp: t.Gen.Amp, Sea: t.Gen.Sea, Cell: t.Gen.Cell}
}
