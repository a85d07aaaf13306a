package main

import (
	"fmt"
	"os"
	"strings"

	"voxplat.ai/internal/persistence/indexdb"
	"voxplat.ai/internal/world"
)

type runtimeIndex interface {
	world.Indexer
	Close() error
	UpsertTuning(v any) error
	Stats() indexdb.Stats
}

func openRuntimeIndex(dataDir string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("VP_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(indexdb.Path(dataDir))
	default:
		return nil, fmt.Errorf("unsupported VP_INDEX_BACKEND: %s", backend)
	}
}
