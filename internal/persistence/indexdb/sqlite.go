// Package indexdb keeps a queryable SQLite read model of saved regions and
// applied edits. Writes are asynchronous and best-effort; the edit journal
// and snapshots stay the source of truth.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxplat.ai/internal/world"
)

const schemaVersion = "1"

// Path is where the index lives under a runtime data directory.
func Path(dataDir string) string { return filepath.Join(dataDir, "index", "voxplat.sqlite") }

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEdit   atomic.Uint64
	dropRegion atomic.Uint64
	failed     atomic.Uint64
}

type reqKind int

const (
	reqEdit reqKind = iota + 1
	reqRegion
)

type req struct {
	kind reqKind

	edit   world.Edit
	region world.RegionSaved
}

// Stats reports queue pressure. Drops mean rows the index will never see.
type Stats struct {
	QueueDepth      int    `json:"queue_depth"`
	QueueCapacity   int    `json:"queue_capacity"`
	DropEditTotal   uint64 `json:"drop_edit_total"`
	DropRegionTotal uint64 `json:"drop_region_total"`
	WriteFailTotal  uint64 `json:"write_fail_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Edits arrive in bursts (segment inserts, scripted builds); the queue
		// absorbs them without stalling writers.
		ch: make(chan req, 65536),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func open(path string) (*sql.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS regions (
			rx INTEGER NOT NULL,
			ry INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			depth INTEGER NOT NULL,
			path TEXT NOT NULL,
			snapshot_id TEXT NOT NULL,
			nodes INTEGER NOT NULL,
			free_nodes INTEGER NOT NULL,
			forks INTEGER NOT NULL,
			bricks INTEGER NOT NULL,
			entries INTEGER NOT NULL,
			voxels INTEGER NOT NULL,
			saved_at INTEGER NOT NULL,
			PRIMARY KEY (rx, ry, rz)
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			seq INTEGER PRIMARY KEY,
			rx INTEGER NOT NULL,
			ry INTEGER NOT NULL,
			rz INTEGER NOT NULL,
			layer TEXT NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			payload INTEGER NOT NULL,
			prev INTEGER NOT NULL,
			at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_pos ON edits(x, z, y, seq);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_region ON edits(rx, ry, rz, seq);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','` + schemaVersion + `');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) RecordEdit(e world.Edit) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqEdit, edit: e}:
	default:
		s.dropEdit.Add(1)
	}
}

func (s *SQLiteIndex) RecordRegion(r world.RegionSaved) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRegion, region: r}:
	default:
		s.dropRegion.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:      len(s.ch),
		QueueCapacity:   cap(s.ch),
		DropEditTotal:   s.dropEdit.Load(),
		DropRegionTotal: s.dropRegion.Load(),
		WriteFailTotal:  s.failed.Load(),
	}
}

// UpsertTuning stores the configuration the server actually runs with, keyed
// by its digest, so rows can be traced back to the settings that made them.
func (s *SQLiteIndex) UpsertTuning(v any) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for k, v := range map[string]string{
		"tuning":        string(b),
		"tuning_digest": hex.EncodeToString(sum[:]),
		"tuning_at":     time.Now().UTC().Format(time.RFC3339Nano),
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES(?,?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEdit, _ := s.db.Prepare(`INSERT OR REPLACE INTO edits(seq,rx,ry,rz,layer,x,y,z,payload,prev,at) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	insertRegion, _ := s.db.Prepare(`INSERT OR REPLACE INTO regions(rx,ry,rz,depth,path,snapshot_id,nodes,free_nodes,forks,bricks,entries,voxels,saved_at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertEdit != nil {
			_ = insertEdit.Close()
		}
		if insertRegion != nil {
			_ = insertRegion.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.failed.Add(uint64(opCount))
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.failed.Add(uint64(opCount) + 1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(stmt *sql.Stmt, args ...any) {
		if stmt == nil || tx == nil {
			return
		}
		if _, err := tx.Stmt(stmt).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	// Idle batches are committed on the ticker so readers see them.
	tick := time.NewTicker(commitMaxWait)
	defer tick.Stop()

	for {
		select {
		case r, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			begin()
			if tx == nil {
				s.failed.Add(1)
				continue
			}
			switch r.kind {
			case reqEdit:
				e := r.edit
				exec(insertEdit,
					int64(e.Seq),
					e.Region[0], e.Region[1], e.Region[2],
					e.Layer,
					e.Pos[0], e.Pos[1], e.Pos[2],
					int64(e.Payload),
					int64(e.Prev),
					e.At,
				)
			case reqRegion:
				rs := r.region
				exec(insertRegion,
					rs.Region[0], rs.Region[1], rs.Region[2],
					rs.Depth,
					rs.Path,
					rs.ID,
					rs.Stats.Nodes,
					rs.Stats.FreeNodes,
					rs.Stats.Forks,
					rs.Stats.Bricks,
					rs.Stats.Entries,
					rs.Stats.Voxels,
					rs.SavedAt,
				)
			}
			if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		case <-tick.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
		}
	}
}
