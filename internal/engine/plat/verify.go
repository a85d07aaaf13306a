package plat

// Verify checks the layer's structure without panicking: node flags, fork pair
// packing, dangling or shared references, the free-lists, and that every slot
// is either reachable from the root or free. The returned error wraps
// ErrMalformedNode.
func (l *Layer) Verify() error {
	nodes := l.pool.nodes
	if len(nodes) < 2 {
		return malformed("pool of %d slots", len(nodes))
	}
	if nodes[rootIndex].Flag != FlagBranch {
		return malformed("root has flag %d", nodes[rootIndex].Flag)
	}

	seen := make([]bool, len(nodes))
	seenBrick := make([]bool, len(l.bricks.bricks))
	owner := map[int32]uint32{}
	reached := 0
	bricks := 0

	claim := func(idx int32) error {
		if !l.pool.valid(idx) {
			return malformed("reference to node %d out of range", idx)
		}
		if nodes[idx].IsFree() {
			return malformed("reference to free node %d", idx)
		}
		if seen[idx] {
			return malformed("node %d referenced twice", idx)
		}
		seen[idx] = true
		reached++
		return nil
	}

	type item struct {
		node  int32
		level int
	}
	if err := claim(rootIndex); err != nil {
		return err
	}
	stack := []item{{rootIndex, l.depth}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n := &nodes[it.node]
		if n.Flag != FlagBranch {
			return malformed("node %d at level %d has flag %d, want branch", it.node, it.level, n.Flag)
		}

		if it.level == ForkLevel {
			for _, b := range n.Children {
				if b == 0 {
					continue
				}
				if !l.bricks.isLive(b) {
					return malformed("node %d references dead brick %d", it.node, b)
				}
				if seenBrick[b] {
					return malformed("brick %d referenced twice", b)
				}
				seenBrick[b] = true
				bricks++
			}
			continue
		}

		for _, c := range n.Children {
			if c == 0 {
				continue
			}
			if err := claim(c); err != nil {
				return err
			}
			if it.level-1 != ForkLevel {
				stack = append(stack, item{c, it.level - 1})
				continue
			}
			pairs, err := l.verifyChain(c, seen, &reached)
			if err != nil {
				return err
			}
			for _, fp := range pairs {
				if err := claim(fp.Child); err != nil {
					return err
				}
				owner[fp.Child] = fp.Payload
				stack = append(stack, item{fp.Child, ForkLevel})
			}
		}
	}

	free := 0
	for f := l.pool.freeHead; f != 0; f = nodes[f].Children[0] {
		if !l.pool.valid(f) || !nodes[f].IsFree() {
			return malformed("free-list reaches live node %d", f)
		}
		if free++; free > l.pool.Len() {
			return malformed("free-list does not terminate")
		}
	}
	if free != l.pool.free {
		return malformed("free-list holds %d nodes, counter says %d", free, l.pool.free)
	}
	if reached+free != l.pool.Len() {
		return malformed("%d nodes reachable + %d free != %d: leaked nodes", reached, free, l.pool.Len())
	}

	for _, b := range l.bricks.free {
		if b <= 0 || int(b) >= len(l.bricks.bricks) || l.bricks.live[b] {
			return malformed("brick free-list holds %d", b)
		}
	}
	if bricks+len(l.bricks.free) != l.bricks.Len() {
		return malformed("%d bricks reachable + %d free != %d: leaked bricks", bricks, len(l.bricks.free), l.bricks.Len())
	}

	for p, idx := range l.entries {
		if got, ok := owner[idx]; !ok || got != p {
			return malformed("entry %d points at node %d outside its fork pairs", p, idx)
		}
	}
	return nil
}

// verifyChain checks one fork chain and claims its fork nodes, returning the
// live pairs in chain order.
func (l *Layer) verifyChain(head int32, seen []bool, reached *int) ([]ForkPair, error) {
	var pairs []ForkPair
	payloads := map[uint32]bool{}
	f := head
	for {
		n := &l.pool.nodes[f]
		if !n.IsFork() {
			return nil, malformed("node %d in fork chain has flag %d", f, n.Flag)
		}
		ended := false
		for k := 0; k < 4; k++ {
			p, c := n.Pair(k)
			if c == 0 {
				if p != 0 {
					return nil, malformed("fork %d pair %d has payload %d and no child", f, k, p)
				}
				ended = true
				continue
			}
			if ended {
				return nil, malformed("fork %d pair %d follows an empty pair", f, k)
			}
			if p == 0 {
				return nil, malformed("fork %d pair %d has zero payload", f, k)
			}
			if payloads[p] {
				return nil, malformed("payload %d appears twice in chain from %d", p, head)
			}
			payloads[p] = true
			pairs = append(pairs, ForkPair{Payload: p, Child: c})
		}
		if n.Flag == FlagForkEnd {
			return pairs, nil
		}
		if ended {
			return nil, malformed("fork %d is not full but chains to %d", f, n.Flag)
		}
		next := n.Flag
		if !l.pool.valid(next) || l.pool.nodes[next].IsFree() {
			return nil, malformed("fork %d chains to bad node %d", f, next)
		}
		if seen[next] {
			return nil, malformed("fork chain from %d revisits node %d", head, next)
		}
		seen[next] = true
		*reached++
		f = next
	}
}
