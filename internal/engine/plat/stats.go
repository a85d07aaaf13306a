package plat

// Stats summarizes a layer's storage. Nodes counts branch nodes in use, not
// forks.
type Stats struct {
	Nodes      int `json:"nodes"`
	FreeNodes  int `json:"free_nodes"`
	Forks      int `json:"forks"`
	Bricks     int `json:"bricks"`
	FreeBricks int `json:"free_bricks"`
	Entries    int `json:"entries"`
	Voxels     int `json:"voxels"`
}

func (l *Layer) Stats() Stats {
	s := Stats{
		FreeNodes:  l.pool.FreeCount(),
		Forks:      l.pool.ForkCount(),
		FreeBricks: l.bricks.FreeCount(),
		Entries:    len(l.entries),
	}
	s.Nodes = l.pool.Len() - s.FreeNodes - s.Forks
	s.Bricks = l.bricks.Len() - s.FreeBricks
	for i := 1; i < len(l.bricks.bricks); i++ {
		if l.bricks.live[i] {
			s.Voxels += l.bricks.bricks[i].Count()
		}
	}
	return s
}

func (s Stats) Add(o Stats) Stats {
	return Stats{
		Nodes:      s.Nodes + o.Nodes,
		FreeNodes:  s.FreeNodes + o.FreeNodes,
		Forks:      s.Forks + o.Forks,
		Bricks:     s.Bricks + o.Bricks,
		FreeBricks: s.FreeBricks + o.FreeBricks,
		Entries:    s.Entries + o.Entries,
		Voxels:     s.Voxels + o.Voxels,
	}
}
