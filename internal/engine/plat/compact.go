package plat

// CompactStats counts what one Compact pass returned to the free-lists.
type CompactStats struct {
	Nodes  int
	Forks  int
	Bricks int
}

func (s CompactStats) add(o CompactStats) CompactStats {
	return CompactStats{Nodes: s.Nodes + o.Nodes, Forks: s.Forks + o.Forks, Bricks: s.Bricks + o.Bricks}
}

func (s CompactStats) Total() int { return s.Nodes + s.Forks + s.Bricks }

type visited struct {
	node  int32
	level int
}

// Compact releases structure that no longer holds voxels: empty bricks,
// level-4 nodes without bricks, their fork pairs (chains are repacked and
// surplus fork nodes released) and childless branches. The root stays. The
// entries table is rebuilt afterwards.
func (l *Layer) Compact() CompactStats {
	var order []visited
	l.TraverseAll(0, false, func(p *Props) {
		order = append(order, visited{node: int32(p.NodeIndex), level: p.Level})
		p.DropTree = p.Level == ForkLevel
	})

	var st CompactStats
	// Preorder reversed: every node is handled after all of its descendants.
	for i := len(order) - 1; i >= 0; i-- {
		v := order[i]
		n := l.pool.at(v.node)
		for k, c := range n.Children {
			if c == 0 {
				continue
			}
			switch {
			case v.level == ForkLevel:
				if l.bricks.at(c).Empty() {
					l.bricks.release(c)
					n.Children[k] = 0
					st.Bricks++
				}
			case v.level == ForkLevel+1:
				head, released := l.repackChain(c, &st)
				n.Children[k] = head
				st.Forks += released
			default:
				if !l.pool.at(c).hasChildren() {
					l.pool.Release(c)
					n.Children[k] = 0
					st.Nodes++
				}
			}
		}
	}

	l.rebuildEntries()
	return st
}

// repackChain drops pairs whose level-4 node is empty, releasing those nodes,
// and rewrites the survivors packed into the front of the chain. It returns
// the new head (0 when nothing survived) and the number of fork nodes freed.
func (l *Layer) repackChain(head int32, st *CompactStats) (int32, int) {
	var (
		forks []int32
		keep  []ForkPair
	)
	l.eachFork(head, func(f int32) { forks = append(forks, f) })
	l.eachPair(head, func(p uint32, c int32) bool {
		if l.pool.at(c).hasChildren() {
			keep = append(keep, ForkPair{Payload: p, Child: c})
		} else {
			l.pool.Release(c)
			st.Nodes++
		}
		return true
	})

	need := (len(keep) + 3) / 4
	for i, f := range forks[:need] {
		n := l.pool.at(f)
		n.Children = [8]int32{}
		for k := 0; k < 4 && 4*i+k < len(keep); k++ {
			kp := keep[4*i+k]
			n.setPair(k, kp.Payload, kp.Child)
		}
		if i+1 < need {
			n.Flag = forks[i+1]
		} else {
			n.Flag = FlagForkEnd
		}
	}
	for _, f := range forks[need:] {
		l.pool.Release(f)
	}
	if need == 0 {
		return 0, len(forks)
	}
	return forks[0], len(forks) - need
}

// eachFork visits the fork nodes of a chain in order.
func (l *Layer) eachFork(head int32, fn func(f int32)) {
	f := head
	for hops := 0; ; hops++ {
		if hops > l.pool.Len() {
			halt("fork chain from %d does not terminate", head)
		}
		n := l.pool.at(f)
		if !n.IsFork() {
			halt("node %d in fork chain has flag %d", f, n.Flag)
		}
		fn(f)
		if n.Flag == FlagForkEnd {
			return
		}
		f = n.Flag
	}
}

func (l *Layer) rebuildEntries() {
	l.entries = map[uint32]int32{}
	l.TraverseAll(0, false, func(p *Props) {
		if p.Level == ForkLevel {
			l.noteEntry(p.Payload, int32(p.NodeIndex))
			p.DropTree = true
		}
	})
}
