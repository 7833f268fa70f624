package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vrikshahq/vriksha/pkg/models"
)

func buildTree(t *testing.T) (root, branch, leaf1, leaf2 *Agent) {
	t.Helper()
	root = New(Config{Purpose: "root"})
	var err error
	branch, err = root.Spawn(SpawnConfig{Purpose: "branch"})
	if err != nil {
		t.Fatalf("spawn branch: %v", err)
	}
	leaf1, err = branch.Spawn(SpawnConfig{Purpose: "leaf-1"})
	if err != nil {
		t.Fatalf("spawn leaf-1: %v", err)
	}
	leaf2, err = branch.Spawn(SpawnConfig{Purpose: "leaf-2"})
	if err != nil {
		t.Fatalf("spawn leaf-2: %v", err)
	}
	return root, branch, leaf1, leaf2
}

func TestSpawnDepthAndFanOutBounds(t *testing.T) {
	root := New(Config{Purpose: "root", MaxDepth: 1, MaxSubAgents: 2})

	child, err := root.Spawn(SpawnConfig{Purpose: "child"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if child.Depth() != 1 {
		t.Errorf("depth = %d, want 1", child.Depth())
	}
	if _, err := child.Spawn(SpawnConfig{Purpose: "grandchild"}); !errors.Is(err, ErrDepthExceeded) {
		t.Errorf("err = %v, want ErrDepthExceeded", err)
	}

	if _, err := root.Spawn(SpawnConfig{Purpose: "second"}); err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if _, err := root.Spawn(SpawnConfig{Purpose: "third"}); !errors.Is(err, ErrTooManySubAgents) {
		t.Errorf("err = %v, want ErrTooManySubAgents", err)
	}
}

func TestTraversals(t *testing.T) {
	root, branch, leaf1, leaf2 := buildTree(t)

	if leaf1.GetRoot() != root {
		t.Error("GetRoot should reach the tree root")
	}

	anc := leaf1.GetAncestors()
	if len(anc) != 2 || anc[0] != branch || anc[1] != root {
		t.Errorf("ancestors should be parent-first, got %d entries", len(anc))
	}

	lineage := leaf1.GetLineage()
	if len(lineage) != 3 || lineage[0] != root || lineage[2] != leaf1 {
		t.Errorf("lineage should be root-first inclusive, got %d entries", len(lineage))
	}

	desc := root.GetDescendants()
	if len(desc) != 3 {
		t.Errorf("descendants = %d, want 3", len(desc))
	}
	for _, d := range desc {
		if d == root {
			t.Error("descendants must exclude self")
		}
	}

	sib := leaf1.GetSiblings()
	if len(sib) != 1 || sib[0] != leaf2 {
		t.Errorf("siblings = %d entries", len(sib))
	}

	if root.FindAgent(leaf2.ID()) != leaf2 {
		t.Error("FindAgent failed on subtree search")
	}
	if root.FindAgent("nope") != nil {
		t.Error("FindAgent should return nil for unknown ids")
	}
}

func TestAncestorDescendantDuality(t *testing.T) {
	root, branch, leaf1, _ := buildTree(t)

	pairs := []struct{ a, b *Agent }{
		{root, branch}, {root, leaf1}, {branch, leaf1},
	}
	for _, p := range pairs {
		if !p.a.IsAncestorOf(p.b.ID()) {
			t.Errorf("%s should be ancestor of %s", p.a.Purpose(), p.b.Purpose())
		}
		if !p.b.IsDescendantOf(p.a.ID()) {
			t.Errorf("%s should be descendant of %s", p.b.Purpose(), p.a.Purpose())
		}
		if p.b.IsAncestorOf(p.a.ID()) || p.a.IsDescendantOf(p.b.ID()) {
			t.Errorf("duality violated for %s/%s", p.a.Purpose(), p.b.Purpose())
		}
	}

	// Both directions are false for self.
	if root.IsAncestorOf(root.ID()) || root.IsDescendantOf(root.ID()) {
		t.Error("self must be neither ancestor nor descendant")
	}
}

func TestRemoveChildAndPrune(t *testing.T) {
	root, branch, leaf1, _ := buildTree(t)

	if err := root.RemoveChild("unknown"); !errors.Is(err, ErrChildNotFound) {
		t.Errorf("err = %v, want ErrChildNotFound", err)
	}

	branch.mu.Lock()
	branch.status = StatusRunning
	branch.mu.Unlock()
	if err := root.RemoveChild(branch.ID()); !errors.Is(err, ErrChildRunning) {
		t.Errorf("err = %v, want ErrChildRunning", err)
	}
	branch.mu.Lock()
	branch.status = StatusCompleted
	branch.mu.Unlock()
	if err := root.RemoveChild(branch.ID()); err != nil {
		t.Errorf("RemoveChild: %v", err)
	}
	if len(root.Children()) != 0 {
		t.Errorf("children = %d, want 0", len(root.Children()))
	}

	// Prune removes every non-running child.
	leaf1.mu.Lock()
	leaf1.status = StatusRunning
	leaf1.mu.Unlock()
	if got := branch.PruneChildren(); got != 1 {
		t.Errorf("pruned = %d, want 1", got)
	}
	if len(branch.Children()) != 1 {
		t.Errorf("children = %d, want the running leaf kept", len(branch.Children()))
	}
}

func TestGetTreeSnapshotAndRender(t *testing.T) {
	root, _, _, _ := buildTree(t)

	snap := root.GetTree()
	if snap.TotalAgents != 4 {
		t.Errorf("total = %d, want 4", snap.TotalAgents)
	}
	if snap.MaxDepth != 2 {
		t.Errorf("maxDepth = %d, want 2", snap.MaxDepth)
	}
	if len(snap.Root.Children) != 1 || len(snap.Root.Children[0].Children) != 2 {
		t.Errorf("snapshot shape wrong: %+v", snap.Root)
	}

	rendered := root.RenderTree()
	for _, want := range []string{"root", "branch", "leaf-1", "leaf-2", "└── "} {
		if !strings.Contains(rendered, want) {
			t.Errorf("rendering missing %q:\n%s", want, rendered)
		}
	}
}

func TestGetLineagePath(t *testing.T) {
	_, _, leaf1, _ := buildTree(t)
	if got := leaf1.GetLineagePath(); got != "root > branch > leaf-1" {
		t.Errorf("lineage path = %q", got)
	}
}

func TestEventBubblingWrapsPerHop(t *testing.T) {
	var rootEvents []Event
	root := New(Config{Purpose: "root", Sink: func(ev Event) { rootEvents = append(rootEvents, ev) }})
	branch, err := root.Spawn(SpawnConfig{Purpose: "branch"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	leafBinding := &scriptedBinding{scripts: [][]models.StreamEvent{textScript("leaf says hi")}}
	leaf, err := branch.Spawn(SpawnConfig{Purpose: "leaf", Provider: leafBinding})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	if _, err := leaf.Prompt(context.Background(), "speak"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	var sawText bool
	for _, ev := range rootEvents {
		if ev.Type == EventSubagentSpawn {
			continue
		}
		if ev.Type != EventSubagentEvent {
			t.Fatalf("root observed unwrapped descendant event: %s", ev.Type)
		}
		inner := ev.Unwrap()
		if inner.Type == EventAgentText {
			sawText = true
			// Leaf sits at depth 2, so the root sees two wraps.
			if ev.WrapDepth() != 2 {
				t.Errorf("wrap depth = %d, want 2", ev.WrapDepth())
			}
			if inner.Text != "leaf says hi" {
				t.Errorf("inner text = %q", inner.Text)
			}
			if ev.SourceAgentID != branch.ID() {
				t.Errorf("outer wrap source = %s, want the branch (one wrap per hop)", ev.SourceAgentID)
			}
		}
	}
	if !sawText {
		t.Fatal("root never observed the leaf's text event")
	}
}

func TestEventBubblingOptOut(t *testing.T) {
	var rootEvents []Event
	root := New(Config{Purpose: "root", Sink: func(ev Event) { rootEvents = append(rootEvents, ev) }})

	off := false
	binding := &scriptedBinding{scripts: [][]models.StreamEvent{textScript("quiet")}}
	silent, err := root.Spawn(SpawnConfig{Purpose: "silent", Provider: binding, BubbleEvents: &off})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if _, err := silent.Prompt(context.Background(), "speak"); err != nil {
		t.Fatalf("Prompt: %v", err)
	}

	for _, ev := range rootEvents {
		if ev.Type == EventSubagentEvent {
			t.Fatalf("opted-out child still bubbled: %+v", ev)
		}
	}
}

func TestAbortCascadesToRunningChildren(t *testing.T) {
	root := New(Config{Purpose: "root"})
	idleChild, err := root.Spawn(SpawnConfig{Purpose: "idle"})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	blocking := &blockingBinding{started: make(chan struct{})}
	runningChild, err := root.Spawn(SpawnConfig{Purpose: "running", Provider: blocking})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := runningChild.Prompt(context.Background(), "work")
		done <- err
	}()
	<-blocking.started

	root.Abort()

	if err := <-done; err == nil {
		t.Fatal("running child should have been aborted")
	}
	if runningChild.Status() != StatusAborted {
		t.Errorf("running child status = %s, want aborted", runningChild.Status())
	}
	if idleChild.Status() != StatusIdle {
		t.Errorf("idle child status = %s, want idle", idleChild.Status())
	}
}
