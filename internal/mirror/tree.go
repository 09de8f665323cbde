package mirror

// Materializer rebuilds parent/child links from a flat, paged listing.
// Feed it every page with Add, then call Finish once.
type Materializer struct {
	files    []*File
	seen     map[string]bool
	children map[string][]string // parent id -> child ids, in listing order
}

// NewMaterializer returns an empty Materializer.
func NewMaterializer() *Materializer {
	return &Materializer{
		seen:     make(map[string]bool),
		children: make(map[string][]string),
	}
}

// Add registers one page of files. A file id already seen on an earlier
// page is ignored.
func (m *Materializer) Add(files ...*File) {
	for _, f := range files {
		if f == nil || m.seen[f.ID] {
			continue
		}
		m.seen[f.ID] = true
		m.files = append(m.files, f)
		for _, pid := range f.Parents {
			m.children[pid] = append(m.children[pid], f.ID)
		}
	}
}

// Len returns the number of distinct files added so far.
func (m *Materializer) Len() int { return len(m.files) }

// Finish assigns each file its children and returns all files in listing
// order. A parent id that was never listed (a file outside the enumerated
// scope) is removed from its child's parents, so the child becomes a root.
func (m *Materializer) Finish() []*File {
	for _, f := range m.files {
		f.Children = append([]string{}, m.children[f.ID]...)
	}
	for _, f := range m.files {
		if len(f.Parents) == 0 {
			f.Parents = []string{}
			continue
		}
		parents := make([]string, 0, len(f.Parents))
		for _, pid := range f.Parents {
			if m.seen[pid] {
				parents = append(parents, pid)
			}
		}
		f.Parents = parents
	}
	return m.files
}

// MaterializeFiles is Add followed by Finish for a listing already in memory.
func MaterializeFiles(files []*File) []*File {
	m := NewMaterializer()
	m.Add(files...)
	return m.Finish()
}

// RestructureFiles nests a flat list of files under their canonical parent.
// Files without a parent, or whose parent is not in files, become roots.
// Roots and siblings keep their order from files.
func RestructureFiles(files []*File) []*TreeNode {
	inSet := make(map[string]bool, len(files))
	for _, f := range files {
		inSet[f.ID] = true
	}

	groups := make(map[string][]*File)
	for _, f := range files {
		key := f.Parent()
		if !inSet[key] {
			key = ""
		}
		groups[key] = append(groups[key], f)
	}

	placed := make(map[string]bool, len(files))
	var build func(parentID string) []*TreeNode
	build = func(parentID string) []*TreeNode {
		var nodes []*TreeNode
		for _, f := range groups[parentID] {
			if placed[f.ID] {
				continue
			}
			placed[f.ID] = true
			nodes = append(nodes, &TreeNode{File: f, Children: build(f.ID)})
		}
		return nodes
	}
	return build("")
}

// Flatten returns every file of the forest in depth-first pre-order.
func Flatten(nodes []*TreeNode) []*File {
	var out []*File
	stack := make([]*TreeNode, 0, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		stack = append(stack, nodes[i])
	}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, n.File)
		for i := len(n.Children) - 1; i >= 0; i-- {
			stack = append(stack, n.Children[i])
		}
	}
	return out
}
