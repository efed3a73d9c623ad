package core

import (
	"sort"
	"strings"
)

// BuildHierarchy links a flat project list into a forest. Records without an
// id are skipped and repeated ids keep their first occurrence. Children keep
// the input order; a dangling parent reference makes the node a root.
func BuildHierarchy(projects []Project) Hierarchy {
	h := Hierarchy{
		Roots: []string{},
		Nodes: make(map[string]*ProjectNode, len(projects)),
		Order: make([]string, 0, len(projects)),
	}

	for _, project := range projects {
		id := strings.TrimSpace(project.ID)
		if id == "" {
			continue
		}
		if _, exists := h.Nodes[id]; exists {
			continue
		}
		node := &ProjectNode{
			ID:          id,
			Name:        project.Name,
			Description: project.Description,
			Code:        strings.TrimSpace(project.ProjectCode),
			Children:    []string{},
		}
		if project.ParentRef != nil {
			node.ParentID = strings.TrimSpace(project.ParentRef.Value)
		}
		h.Nodes[id] = node
		h.Order = append(h.Order, id)
	}

	for _, id := range h.Order {
		node := h.Nodes[id]
		parent, ok := h.Nodes[node.ParentID]
		if node.ParentID == "" || !ok || node.ParentID == id {
			h.Roots = append(h.Roots, id)
			continue
		}
		parent.Children = append(parent.Children, id)
	}
	return h
}

// DescendantsAndSelf returns id followed by every descendant in depth-first
// pre-order. An unknown id yields just [id].
func DescendantsAndSelf(h Hierarchy, id string) []string {
	if _, ok := h.Node(id); !ok {
		return []string{id}
	}

	out := []string{}
	visited := map[string]struct{}{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[current]; seen {
			continue
		}
		visited[current] = struct{}{}
		out = append(out, current)

		node, ok := h.Node(current)
		if !ok {
			continue
		}
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, node.Children[i])
		}
	}
	return out
}

// FilterHierarchy keeps only the given ids. Nodes whose parent is dropped
// become roots, and children lists are trimmed to retained ids.
func FilterHierarchy(h Hierarchy, ids []string) Hierarchy {
	keep := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		keep[id] = struct{}{}
	}

	out := Hierarchy{
		Roots: []string{},
		Nodes: make(map[string]*ProjectNode, len(keep)),
		Order: []string{},
	}
	for _, id := range h.Order {
		if _, ok := keep[id]; !ok {
			continue
		}
		source := h.Nodes[id]
		node := *source
		node.Children = []string{}
		for _, child := range source.Children {
			if _, ok := keep[child]; ok {
				node.Children = append(node.Children, child)
			}
		}
		if _, ok := keep[node.ParentID]; !ok {
			node.ParentID = ""
		}
		out.Nodes[id] = &node
		out.Order = append(out.Order, id)
		if node.ParentID == "" {
			out.Roots = append(out.Roots, id)
		}
	}
	return out
}

// FindByCode matches the project code first, then the id, then the name
// case-insensitively.
func FindByCode(h Hierarchy, code string) (*ProjectNode, error) {
	code = strings.TrimSpace(code)
	for _, id := range h.Order {
		if node := h.Nodes[id]; node.Code != "" && node.Code == code {
			return node, nil
		}
	}
	if node, ok := h.Node(code); ok {
		return node, nil
	}
	for _, id := range h.Order {
		if node := h.Nodes[id]; strings.EqualFold(strings.TrimSpace(node.Name), code) {
			return node, nil
		}
	}
	return nil, &ProjectNotFoundError{Code: code, KnownCodes: KnownCodes(h)}
}

// KnownCodes lists the distinct project codes, sorted.
func KnownCodes(h Hierarchy) []string {
	seen := map[string]struct{}{}
	codes := []string{}
	for _, id := range h.Order {
		code := h.Nodes[id].Code
		if code == "" {
			continue
		}
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

type WalkEntry struct {
	Node  *ProjectNode
	Level int
	Path  []string
}

// Walk visits every node reachable from the roots in pre-order, passing the
// depth and the chain of names from the root.
func Walk(h Hierarchy, visit func(entry WalkEntry)) {
	if visit == nil {
		return
	}
	type frame struct {
		id    string
		level int
		path  []string
	}
	visited := map[string]struct{}{}
	stack := make([]frame, 0, len(h.Roots))
	for i := len(h.Roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{id: h.Roots[i]})
	}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, seen := visited[current.id]; seen {
			continue
		}
		visited[current.id] = struct{}{}
		node, ok := h.Node(current.id)
		if !ok {
			continue
		}
		path := append(append([]string(nil), current.path...), node.Name)
		visit(WalkEntry{Node: node, Level: current.level, Path: path})
		for i := len(node.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{id: node.Children[i], level: current.level + 1, path: path})
		}
	}
}
