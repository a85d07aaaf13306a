package plat

import "fmt"

// Pool is a fixed-capacity node arena. Index 0 is the null sentinel; free
// nodes are threaded through Children[0] so the arena is self-describing.
type Pool struct {
	nodes    []Node
	freeHead int32
	free     int
}

func newPool(capacity int) *Pool {
	p := &Pool{nodes: make([]Node, capacity)}
	for i := capacity - 1; i >= 1; i-- {
		p.nodes[i] = Node{Flag: FlagFree}
		p.nodes[i].Children[0] = p.freeHead
		p.freeHead = int32(i)
		p.free++
	}
	return p
}

// Len is the number of usable slots (capacity minus the sentinel).
func (p *Pool) Len() int       { return len(p.nodes) - 1 }
func (p *Pool) FreeCount() int { return p.free }

// Allocate pops the free-list.
func (p *Pool) Allocate() (int32, error) {
	idx := p.freeHead
	if idx == 0 {
		return 0, fmt.Errorf("%w: %d nodes in use", ErrPoolExhausted, p.Len())
	}
	p.freeHead = p.nodes[idx].Children[0]
	p.nodes[idx] = Node{}
	p.free--
	return idx, nil
}

// Release pushes idx back onto the free-list. The caller must have unlinked it
// from every parent.
func (p *Pool) Release(idx int32) {
	if idx <= 0 || int(idx) >= len(p.nodes) || p.nodes[idx].IsFree() {
		halt("release of node %d", idx)
	}
	p.nodes[idx] = Node{Flag: FlagFree}
	p.nodes[idx].Children[0] = p.freeHead
	p.freeHead = idx
	p.free++
}

func (p *Pool) IsFork(idx int32) bool {
	return p.valid(idx) && p.nodes[idx].IsFork()
}

// IsEmpty reports whether idx is the sentinel or sits on the free-list.
func (p *Pool) IsEmpty(idx int32) bool {
	return idx == 0 || !p.valid(idx) || p.nodes[idx].IsFree()
}

// Node returns a copy of the node at idx.
func (p *Pool) Node(idx int32) Node {
	return p.nodes[idx]
}

func (p *Pool) valid(idx int32) bool { return idx > 0 && int(idx) < len(p.nodes) }

// at returns the live node at idx, halting on a dangling reference.
func (p *Pool) at(idx int32) *Node {
	if !p.valid(idx) {
		halt("node index %d out of range", idx)
	}
	n := &p.nodes[idx]
	if n.IsFree() {
		halt("node %d is on the free-list", idx)
	}
	return n
}

// branch is at for nodes that must be branches.
func (p *Pool) branch(idx int32) *Node {
	n := p.at(idx)
	if n.Flag != FlagBranch {
		halt("node %d has flag %d, want branch", idx, n.Flag)
	}
	return n
}

// ForkCount scans the arena for fork nodes.
func (p *Pool) ForkCount() int {
	n := 0
	for i := 1; i < len(p.nodes); i++ {
		if p.nodes[i].IsFork() {
			n++
		}
	}
	return n
}
