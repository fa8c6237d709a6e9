package schema

// Path describes how to walk from one form to another in the tree.
type Path struct {
	Up   []*Form // ancestors to climb through, nearest first, ending at the common ancestor
	Down []*Form // descendants to walk into, after the common ancestor
}

// ComputePath returns the walk between two forms sharing a root. ok is false
// when the forms live in different trees.
func ComputePath(from, to *Form) (Path, bool) {
	prefix := 0
	for prefix < len(from.Chain) && prefix < len(to.Chain) {
		if from.Chain[prefix] != to.Chain[prefix] {
			break
		}
		prefix++
	}
	prefix--
	if prefix < 0 {
		return Path{}, false
	}

	var p Path
	// climb from the parent of from down to the common ancestor
	for i := len(from.Chain) - 2; i >= prefix; i-- {
		p.Up = append(p.Up, from.Chain[i])
	}
	p.Down = append(p.Down, to.Chain[prefix+1:]...)
	return p, true
}
