package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"voxplat.ai/internal/world"
)

// Reader queries an index written by SQLiteIndex, possibly while the server
// is still appending to it.
type Reader struct {
	db *sql.DB
}

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Meta(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// Regions lists the last saved state of every region.
func (r *Reader) Regions(ctx context.Context) ([]world.RegionSaved, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT rx,ry,rz,depth,path,snapshot_id,nodes,free_nodes,forks,bricks,entries,voxels,saved_at
		FROM regions ORDER BY rx,ry,rz`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.RegionSaved
	for rows.Next() {
		var s world.RegionSaved
		if err := rows.Scan(&s.Region[0], &s.Region[1], &s.Region[2], &s.Depth, &s.Path, &s.ID,
			&s.Stats.Nodes, &s.Stats.FreeNodes, &s.Stats.Forks, &s.Stats.Bricks, &s.Stats.Entries, &s.Stats.Voxels,
			&s.SavedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// History returns the most recent edits of one world voxel, newest first.
func (r *Reader) History(ctx context.Context, pos [3]int, limit int) ([]world.Edit, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit %d", limit)
	}
	rows, err := r.db.QueryContext(ctx, `SELECT seq,rx,ry,rz,layer,x,y,z,payload,prev,at
		FROM edits WHERE x=? AND z=? AND y=? ORDER BY seq DESC LIMIT ?`, pos[0], pos[2], pos[1], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []world.Edit
	for rows.Next() {
		var (
			e   world.Edit
			seq int64
			p   int64
			pv  int64
		)
		if err := rows.Scan(&seq, &e.Region[0], &e.Region[1], &e.Region[2], &e.Layer,
			&e.Pos[0], &e.Pos[1], &e.Pos[2], &p, &pv, &e.At); err != nil {
			return nil, err
		}
		e.Seq, e.Payload, e.Prev = uint64(seq), uint32(p), uint32(pv)
		out = append(out, e)
	}
	return out, rows.Err()
}
