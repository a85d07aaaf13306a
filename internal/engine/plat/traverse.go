package plat

import "voxplat.ai/internal/engine/addr"

// Props is handed to a Visitor once per visited cell.
type Props struct {
	// Position of the cell's minimum corner. Zero when the walk is unpositioned.
	Position   addr.UVec3
	Positioned bool
	// ParentIndex is the pool index (or compact handle) of the cell's parent;
	// for a level-4 branch it is the fork node holding its pair.
	ParentIndex int64
	// Node is nil at BrickLevel and below. Treat it as read-only.
	Node      *Node
	NodeIndex int64
	Level     int
	// Payload carried from the fork pair above; zero above ForkLevel.
	Payload uint32
	Layer   LayerIndex
	// DropTree skips the children of this cell without ending the walk.
	DropTree bool
}

type Visitor func(p *Props)

// Traverse walks depth-first from node from (a pool index at level, which
// must be above BrickLevel) visiting children in octant order 0..7 and fork
// pairs in chain order. A non-zero entry restricts the walk to that payload's
// fork pairs and seeds the carried payload.
//
// The walk keeps its own bounded stack and never recurses.
func (l *Layer) Traverse(entry uint32, from int64, position addr.UVec3, positioned bool, level int, visit Visitor) {
	if from == 0 || level <= BrickLevel {
		halt("walk must start at a pool node above level %d, got node %d at level %d", BrickLevel, from, level)
	}
	if !positioned {
		position = addr.UVec3{}
	}

	var st walkStack
	st.push(frame{node: from, pos: position, level: level, payload: entry})

	for !st.empty() {
		f := st.top()
		if f.cursor > 7 && f.level == level && st.n == 1 {
			break
		}

		var n *Node
		if f.level > BrickLevel {
			n = l.pool.at(int32(f.node))
		}

		if n != nil && n.Kind() == KindInvalid {
			halt("node %d has flag %d", f.node, n.Flag)
		}
		if n != nil && n.IsFork() {
			if f.cursor%2 != 0 {
				halt("odd cursor %d in fork %d", f.cursor, f.node)
			}
			if f.cursor == 8 {
				switch {
				case n.Flag > 0:
					f.node = int64(n.Flag)
					f.cursor = 0
				case n.Flag == FlagForkEnd:
					st.pop()
				default:
					halt("fork %d has flag %d", f.node, n.Flag)
				}
				continue
			}
			p, c := n.Pair(f.cursor / 2)
			f.cursor += 2
			if c == 0 {
				st.pop()
				continue
			}
			if entry != 0 && p != entry {
				continue
			}
			st.push(frame{node: int64(c), parent: f.node, pos: f.pos, level: f.level, payload: p})
			continue
		}

		if f.cursor > 7 {
			st.pop()
			continue
		}

		if f.cursor == 0 {
			props := Props{
				Position:    f.pos,
				Positioned:  positioned,
				ParentIndex: f.parent,
				Node:        n,
				NodeIndex:   f.node,
				Level:       f.level,
				Payload:     f.payload,
				Layer:       l.index,
			}
			visit(&props)
			if props.DropTree || f.level == 0 {
				st.pop()
				continue
			}
		}

		i := f.cursor
		f.cursor++

		var child int64
		if n != nil {
			child = int64(n.Children[i])
		} else if l.bricks.childMask(f.node, f.level)&(1<<uint(i)) != 0 {
			child = f.node<<3 | int64(i)
		}
		if child == 0 {
			continue
		}
		pos := f.pos
		if positioned {
			pos = pos.Add(addr.ChildPosition(i).Scale(addr.LevelSize(f.level) / 2))
		}
		st.push(frame{node: child, parent: f.node, pos: pos, level: f.level - 1, payload: f.payload})
	}
}

// TraverseAll walks the whole layer from the root.
func (l *Layer) TraverseAll(entry uint32, positioned bool, visit Visitor) {
	if entry != 0 {
		if _, ok := l.entries[entry]; !ok {
			return
		}
	}
	l.Traverse(entry, int64(rootIndex), addr.UVec3{}, positioned, l.depth, visit)
}
