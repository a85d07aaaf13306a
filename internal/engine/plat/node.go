package plat

const (
	FlagBranch  int32 = 0
	FlagFree    int32 = -2
	FlagForkEnd int32 = -3
)

// Node is one pool record. A branch keeps child indexes per octant; a fork keeps
// four (payload, child) pairs and links the next fork node through Flag.
type Node struct {
	Children [8]int32
	Flag     int32
}

type Kind uint8

const (
	KindInvalid Kind = iota
	KindBranch
	KindFork
	KindFree
)

func (k Kind) String() string {
	switch k {
	case KindBranch:
		return "branch"
	case KindFork:
		return "fork"
	case KindFree:
		return "free"
	default:
		return "invalid"
	}
}

func (n *Node) Kind() Kind {
	switch {
	case n.Flag == FlagBranch:
		return KindBranch
	case n.Flag == FlagForkEnd || n.Flag > 0:
		return KindFork
	case n.Flag == FlagFree:
		return KindFree
	default:
		return KindInvalid
	}
}

func (n *Node) IsFork() bool { return n.Flag == FlagForkEnd || n.Flag > 0 }
func (n *Node) IsFree() bool { return n.Flag == FlagFree }

// Pair returns fork pair k (0..3).
func (n *Node) Pair(k int) (payload uint32, child int32) {
	return uint32(n.Children[2*k]), n.Children[2*k+1]
}

func (n *Node) setPair(k int, payload uint32, child int32) {
	n.Children[2*k] = int32(payload)
	n.Children[2*k+1] = child
}

// Next returns the chained fork node, or 0 at the end of the chain.
func (n *Node) Next() int32 {
	if n.Flag > 0 {
		return n.Flag
	}
	return 0
}

func (n *Node) hasChildren() bool {
	for _, c := range n.Children {
		if c != 0 {
			return true
		}
	}
	return false
}

// ForkPair is the decoded form of one fork slot.
type ForkPair struct {
	Payload uint32
	Child   int32
}
