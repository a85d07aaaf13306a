package plat

import "voxplat.ai/internal/engine/addr"

// frame is one level of an in-progress walk.
type frame struct {
	node    int64
	parent  int64
	pos     addr.UVec3
	level   int
	payload uint32
	// cursor is the next child slot (branch) or pair slot (fork) to read.
	cursor int
}

// walkStack is a fixed-capacity LIFO standing in for the call stack; walks
// must not recurse.
type walkStack struct {
	frames [StackCapacity]frame
	n      int
}

func (s *walkStack) push(f frame) {
	if s.n == len(s.frames) {
		halt("walk deeper than %d frames at node %d", len(s.frames), f.node)
	}
	s.frames[s.n] = f
	s.n++
}

func (s *walkStack) top() *frame { return &s.frames[s.n-1] }
func (s *walkStack) pop()        { s.n-- }
func (s *walkStack) empty() bool { return s.n == 0 }
