package core

import (
	"errors"
	"reflect"
	"testing"
)

func threeLevelProjects() []Project {
	return []Project{
		project("1", "Root", "R-1", ""),
		project("2", "Child A", "C-A", "1"),
		project("3", "Child B", "C-B", "1"),
		project("4", "Grandchild", "G-1", "2"),
	}
}

func TestBuildHierarchy_LinksChildrenInInputOrder(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())

	if !reflect.DeepEqual(h.Roots, []string{"1"}) {
		t.Fatalf("expected single root, got %v", h.Roots)
	}
	root, _ := h.Node("1")
	if !reflect.DeepEqual(root.Children, []string{"2", "3"}) {
		t.Fatalf("expected children in input order, got %v", root.Children)
	}
	child, _ := h.Node("2")
	if !reflect.DeepEqual(child.Children, []string{"4"}) {
		t.Fatalf("expected grandchild under child A, got %v", child.Children)
	}
}

func TestBuildHierarchy_DanglingParentBecomesRoot(t *testing.T) {
	h := BuildHierarchy([]Project{
		project("1", "Root", "", ""),
		project("2", "Orphan", "", "missing"),
	})
	if !reflect.DeepEqual(h.Roots, []string{"1", "2"}) {
		t.Fatalf("expected orphan as root, got %v", h.Roots)
	}
}

func TestBuildHierarchy_SkipsMissingIDsAndKeepsFirstDuplicate(t *testing.T) {
	h := BuildHierarchy([]Project{
		{Name: "No id"},
		project("1", "First", "", ""),
		project("1", "Second", "", ""),
	})
	if h.Len() != 1 {
		t.Fatalf("expected one node, got %d", h.Len())
	}
	node, _ := h.Node("1")
	if node.Name != "First" {
		t.Fatalf("expected first occurrence kept, got %q", node.Name)
	}
	if node.Description != "" {
		t.Fatalf("expected empty description default")
	}
}

func TestDescendantsAndSelf_PreOrder(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())
	got := DescendantsAndSelf(h, "1")
	if !reflect.DeepEqual(got, []string{"1", "2", "4", "3"}) {
		t.Fatalf("unexpected pre-order traversal: %v", got)
	}
}

func TestDescendantsAndSelf_UnknownID(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())
	got := DescendantsAndSelf(h, "99")
	if !reflect.DeepEqual(got, []string{"99"}) {
		t.Fatalf("expected just the id, got %v", got)
	}
}

func TestDescendantsAndSelf_TerminatesOnCycle(t *testing.T) {
	h := BuildHierarchy([]Project{
		project("1", "A", "", "2"),
		project("2", "B", "", "1"),
	})
	h.Nodes["1"].Children = []string{"2"}
	h.Nodes["2"].Children = []string{"1"}

	got := DescendantsAndSelf(h, "1")
	if !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("expected each id once, got %v", got)
	}
}

func TestFilterHierarchy_SelectedNodeBecomesRoot(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())
	filtered := FilterHierarchy(h, DescendantsAndSelf(h, "2"))

	if !reflect.DeepEqual(filtered.Roots, []string{"2"}) {
		t.Fatalf("expected subtree root, got %v", filtered.Roots)
	}
	if filtered.Len() != 2 {
		t.Fatalf("expected 2 nodes, got %d", filtered.Len())
	}
	if node, _ := filtered.Node("2"); node.ParentID != "" {
		t.Fatalf("expected parent cleared on new root")
	}
	if original, _ := h.Node("2"); original.ParentID != "1" {
		t.Fatalf("filter must not mutate the source hierarchy")
	}
}

func TestFindByCode_MatchOrder(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())

	cases := map[string]string{
		"C-B":     "3",
		"4":       "4",
		"child a": "2",
		"  R-1  ": "1",
	}
	for code, want := range cases {
		node, err := FindByCode(h, code)
		if err != nil {
			t.Fatalf("find %q: %v", code, err)
		}
		if node.ID != want {
			t.Fatalf("find %q: expected %s, got %s", code, want, node.ID)
		}
	}
}

func TestFindByCode_MissListsKnownCodes(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())
	_, err := FindByCode(h, "NOPE")

	var notFound *ProjectNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ProjectNotFoundError, got %v", err)
	}
	if !reflect.DeepEqual(notFound.KnownCodes, []string{"C-A", "C-B", "G-1", "R-1"}) {
		t.Fatalf("unexpected known codes: %v", notFound.KnownCodes)
	}
}

func TestWalk_ReportsLevelAndPath(t *testing.T) {
	h := BuildHierarchy(threeLevelProjects())
	var visited []WalkEntry
	Walk(h, func(entry WalkEntry) {
		visited = append(visited, entry)
	})
	if len(visited) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(visited))
	}
	grandchild := visited[2]
	if grandchild.Node.ID != "4" || grandchild.Level != 2 {
		t.Fatalf("unexpected third entry: %+v", grandchild)
	}
	if !reflect.DeepEqual(grandchild.Path, []string{"Root", "Child A", "Grandchild"}) {
		t.Fatalf("unexpected path: %v", grandchild.Path)
	}
}
