package mirror_test

import (
	"fmt"
	"slices"
	"testing"

	"drivemirror/internal/mirror"
)

func TestMaterializer_PagedListing(t *testing.T) {
	m := mirror.NewMaterializer()
	m.Add(&mirror.File{ID: "A"})
	m.Add(&mirror.File{ID: "B", Parents: []string{"A"}})

	files := m.Finish()
	if got := fileIDs(files); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("Finish() ids = %v, want [A B]", got)
	}
	a, b := files[0], files[1]
	if !slices.Equal(a.Children, []string{"B"}) {
		t.Errorf("A.Children = %v, want [B]", a.Children)
	}
	if !slices.Equal(b.Parents, []string{"A"}) {
		t.Errorf("B.Parents = %v, want [A]", b.Parents)
	}
	if b.Children == nil || len(b.Children) != 0 {
		t.Errorf("B.Children = %#v, want empty list", b.Children)
	}
}

func TestMaterializer_ChildBeforeParent(t *testing.T) {
	files := mirror.MaterializeFiles([]*mirror.File{
		{ID: "c2", Parents: []string{"p"}},
		{ID: "c1", Parents: []string{"p"}},
		{ID: "p"},
	})
	p := files[2]
	if !slices.Equal(p.Children, []string{"c2", "c1"}) {
		t.Errorf("p.Children = %v, want listing order [c2 c1]", p.Children)
	}
}

func TestMaterializer_DanglingParent(t *testing.T) {
	files := mirror.MaterializeFiles([]*mirror.File{
		{ID: "orphan", Parents: []string{"not-listed"}},
		{ID: "root"},
	})
	if len(files) != 2 {
		t.Fatalf("MaterializeFiles() returned %d files, want 2", len(files))
	}
	orphan := files[0]
	if len(orphan.Parents) != 0 || orphan.Parent() != "" {
		t.Errorf("orphan.Parents = %v, want none", orphan.Parents)
	}
	if orphan.Parents == nil {
		t.Error("orphan.Parents = nil, want empty list")
	}
}

func TestMaterializer_DuplicateAcrossPages(t *testing.T) {
	m := mirror.NewMaterializer()
	m.Add(&mirror.File{ID: "root"}, &mirror.File{ID: "a", Parents: []string{"root"}})
	m.Add(&mirror.File{ID: "a", Parents: []string{"root"}})
	if m.Len() != 2 {
		t.Errorf("Len() = %d, want 2", m.Len())
	}
	files := m.Finish()
	if !slices.Equal(files[0].Children, []string{"a"}) {
		t.Errorf("root.Children = %v, want [a]", files[0].Children)
	}
}

// buildForest returns a listing of depth levels where every node has
// fanout children. Node ids encode their path.
func buildForest(roots, fanout, depth int) []*mirror.File {
	var files []*mirror.File
	var add func(id, parent string, level int)
	add = func(id, parent string, level int) {
		f := &mirror.File{ID: id}
		if parent != "" {
			f.Parents = []string{parent}
		}
		files = append(files, f)
		if level == depth {
			return
		}
		for i := 0; i < fanout; i++ {
			add(fmt.Sprintf("%s.%d", id, i), id, level+1)
		}
	}
	for r := 0; r < roots; r++ {
		add(fmt.Sprintf("r%d", r), "", 1)
	}
	return files
}

func TestRestructureFiles_RoundTrip(t *testing.T) {
	tests := []struct {
		name                 string
		roots, fanout, depth int
	}{
		{name: "single file", roots: 1, fanout: 0, depth: 1},
		{name: "flat forest", roots: 5, fanout: 0, depth: 1},
		{name: "deep chain", roots: 1, fanout: 1, depth: 8},
		{name: "wide tree", roots: 2, fanout: 4, depth: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := buildForest(tt.roots, tt.fanout, tt.depth)
			// Reverse so children precede their parents in the input.
			slices.Reverse(files)

			flat := mirror.Flatten(mirror.RestructureFiles(files))
			if got, want := sorted(fileIDs(flat)), sorted(fileIDs(files)); !slices.Equal(got, want) {
				t.Errorf("round trip ids = %v, want %v", got, want)
			}
		})
	}
}

func TestRestructureFiles_Nesting(t *testing.T) {
	files := []*mirror.File{
		{ID: "root"},
		{ID: "a", Parents: []string{"root"}},
		{ID: "b", Parents: []string{"root"}},
		{ID: "a1", Parents: []string{"a"}},
		{ID: "stray", Parents: []string{"elsewhere"}},
	}

	forest := mirror.RestructureFiles(files)
	if len(forest) != 2 || forest[0].File.ID != "root" || forest[1].File.ID != "stray" {
		t.Fatalf("roots = %v, want [root stray]", nodeIDs(forest))
	}
	root := forest[0]
	if got := nodeIDs(root.Children); !slices.Equal(got, []string{"a", "b"}) {
		t.Errorf("root children = %v, want [a b]", got)
	}
	if got := nodeIDs(root.Children[0].Children); !slices.Equal(got, []string{"a1"}) {
		t.Errorf("a children = %v, want [a1]", got)
	}
	if got := fileIDs(mirror.Flatten(forest)); !slices.Equal(got, []string{"root", "a", "a1", "b", "stray"}) {
		t.Errorf("Flatten() = %v, want pre-order", got)
	}
}

func TestRestructureFiles_Empty(t *testing.T) {
	if forest := mirror.RestructureFiles(nil); len(forest) != 0 {
		t.Errorf("RestructureFiles(nil) = %v, want empty", forest)
	}
}

func nodeIDs(nodes []*mirror.TreeNode) []string {
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.File.ID
	}
	return ids
}
