package agent

import (
	"fmt"
	"strings"
)

// Parent returns the parent agent, nil for the root.
func (a *Agent) Parent() *Agent { return a.parent }

// Children returns a copy of the agent's children.
func (a *Agent) Children() []*Agent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Agent, len(a.children))
	copy(out, a.children)
	return out
}

// GetRoot walks parent references to the tree root.
func (a *Agent) GetRoot() *Agent {
	node := a
	for node.parent != nil {
		node = node.parent
	}
	return node
}

// GetAncestors returns the chain of ancestors, parent first, excluding the
// agent itself.
func (a *Agent) GetAncestors() []*Agent {
	var out []*Agent
	for node := a.parent; node != nil; node = node.parent {
		out = append(out, node)
	}
	return out
}

// GetLineage returns the path from the root to this agent, inclusive.
func (a *Agent) GetLineage() []*Agent {
	ancestors := a.GetAncestors()
	out := make([]*Agent, 0, len(ancestors)+1)
	for i := len(ancestors) - 1; i >= 0; i-- {
		out = append(out, ancestors[i])
	}
	return append(out, a)
}

// GetDescendants returns every agent below this one, depth first, excluding
// the agent itself.
func (a *Agent) GetDescendants() []*Agent {
	var out []*Agent
	for _, child := range a.Children() {
		out = append(out, child)
		out = append(out, child.GetDescendants()...)
	}
	return out
}

// GetSiblings returns the parent's other children.
func (a *Agent) GetSiblings() []*Agent {
	if a.parent == nil {
		return nil
	}
	var out []*Agent
	for _, child := range a.parent.Children() {
		if child != a {
			out = append(out, child)
		}
	}
	return out
}

// FindAgent searches this agent's subtree for an id, including itself.
func (a *Agent) FindAgent(id string) *Agent {
	if a.id == id {
		return a
	}
	for _, child := range a.Children() {
		if found := child.FindAgent(id); found != nil {
			return found
		}
	}
	return nil
}

// IsAncestorOf reports whether id names a strict descendant of this agent.
func (a *Agent) IsAncestorOf(id string) bool {
	if a.id == id {
		return false
	}
	return a.FindAgent(id) != nil
}

// IsDescendantOf reports whether id names a strict ancestor of this agent.
func (a *Agent) IsDescendantOf(id string) bool {
	for _, anc := range a.GetAncestors() {
		if anc.id == id {
			return true
		}
	}
	return false
}

// RemoveChild detaches a direct child. Running children cannot be removed.
func (a *Agent) RemoveChild(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, child := range a.children {
		if child.id != id {
			continue
		}
		if child.Status() == StatusRunning {
			return ErrChildRunning
		}
		a.children = append(a.children[:i], a.children[i+1:]...)
		return nil
	}
	return ErrChildNotFound
}

// PruneChildren removes every child that is not running, regardless of how
// it finished, and returns the count removed.
func (a *Agent) PruneChildren() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	kept := a.children[:0]
	removed := 0
	for _, child := range a.children {
		if child.Status() == StatusRunning {
			kept = append(kept, child)
		} else {
			removed++
		}
	}
	a.children = kept
	return removed
}

// Abort cancels this agent's in-flight prompt, if any, and cascades to every
// child. Children that never started remain idle.
func (a *Agent) Abort() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, child := range a.Children() {
		child.Abort()
	}
}

// TreeNode is one serializable node of a tree snapshot.
type TreeNode struct {
	ID       string     `json:"id"`
	Purpose  string     `json:"purpose"`
	Depth    int        `json:"depth"`
	Status   Status     `json:"status"`
	Children []TreeNode `json:"children,omitempty"`
}

// TreeSnapshot is a serializable view of a subtree.
type TreeSnapshot struct {
	Root        TreeNode `json:"root"`
	TotalAgents int      `json:"total_agents"`
	MaxDepth    int      `json:"max_depth"`
}

// GetTree snapshots the subtree rooted at this agent.
func (a *Agent) GetTree() TreeSnapshot {
	total, maxDepth := 0, 0
	root := a.snapshot(&total, &maxDepth)
	return TreeSnapshot{Root: root, TotalAgents: total, MaxDepth: maxDepth}
}

func (a *Agent) snapshot(total *int, maxDepth *int) TreeNode {
	*total++
	if a.depth > *maxDepth {
		*maxDepth = a.depth
	}
	node := TreeNode{
		ID:      a.id,
		Purpose: a.purpose,
		Depth:   a.depth,
		Status:  a.Status(),
	}
	for _, child := range a.Children() {
		node.Children = append(node.Children, child.snapshot(total, maxDepth))
	}
	return node
}

// RenderTree draws the subtree as ASCII, one agent per line.
func (a *Agent) RenderTree() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]\n", a.labelForRender(), a.Status())
	a.renderChildren(&b, "")
	return b.String()
}

func (a *Agent) renderChildren(b *strings.Builder, prefix string) {
	children := a.Children()
	for i, child := range children {
		connector, childPrefix := "├── ", prefix+"│   "
		if i == len(children)-1 {
			connector, childPrefix = "└── ", prefix+"    "
		}
		fmt.Fprintf(b, "%s%s%s [%s]\n", prefix, connector, child.labelForRender(), child.Status())
		child.renderChildren(b, childPrefix)
	}
}

func (a *Agent) labelForRender() string {
	if a.purpose == "" {
		return a.id
	}
	return a.purpose
}

// GetLineagePath renders the purpose chain from the root to this agent.
func (a *Agent) GetLineagePath() string {
	lineage := a.GetLineage()
	parts := make([]string, len(lineage))
	for i, node := range lineage {
		parts[i] = node.labelForRender()
	}
	return strings.Join(parts, " > ")
}
