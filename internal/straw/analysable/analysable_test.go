package analysable

import (
	"errors"
	"testing"
	"time"

	"straw/internal/straw/strawerr"
)

// leaf is a minimal Analysable used to exercise Base directly.
type leaf struct {
	*Base
}

func newLeaf(id string) *leaf {
	return &leaf{Base: NewBase(id, nil)}
}

func TestLifecycleGuards(t *testing.T) {
	l := newLeaf("leaf-1")

	if _, err := l.TotalRequest(); !errors.Is(err, strawerr.ErrWrongStatus) {
		t.Fatalf("TotalRequest before start: got %v, want ErrWrongStatus", err)
	}

	if err := l.Stop(); !errors.Is(err, strawerr.ErrWrongStatus) {
		t.Fatalf("Stop before start: got %v, want ErrWrongStatus", err)
	}

	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(); !errors.Is(err, strawerr.ErrWrongStatus) {
		t.Fatalf("double Start: got %v, want ErrWrongStatus", err)
	}

	l.AddCounts(3, 2)
	if err := l.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := l.Analyse(); err != nil {
		t.Fatalf("Analyse: %v", err)
	}
	// repeated analyse is a no-op, not an error
	if err := l.Analyse(); err != nil {
		t.Fatalf("second Analyse: %v", err)
	}

	total, err := l.TotalRequest()
	if err != nil || total != 3 {
		t.Fatalf("TotalRequest = %d, %v; want 3, nil", total, err)
	}
	success, err := l.SuccessRequest()
	if err != nil || success != 2 {
		t.Fatalf("SuccessRequest = %d, %v; want 2, nil", success, err)
	}
}

func TestStopCascadesToChildren(t *testing.T) {
	container := &Container[*leaf]{}
	parent := &leaf{Base: NewBase("parent", container)}
	child := newLeaf("child")
	container.Add(child)

	if err := parent.Start(); err != nil {
		t.Fatalf("parent.Start: %v", err)
	}
	if err := child.Start(); err != nil {
		t.Fatalf("child.Start: %v", err)
	}
	time.Sleep(2 * time.Millisecond)

	if err := parent.Stop(); err != nil {
		t.Fatalf("parent.Stop: %v", err)
	}
	if child.Status() != Stopped {
		t.Fatalf("child.Status() = %s, want STOPPED after parent stop cascades", child.Status())
	}
}

func TestAnalyseSumsChildCounters(t *testing.T) {
	container := &Container[*leaf]{}
	parent := &leaf{Base: NewBase("parent", container)}
	childA := newLeaf("a")
	childB := newLeaf("b")
	container.Add(childA)
	container.Add(childB)

	if err := parent.Start(); err != nil {
		t.Fatal(err)
	}
	if err := childA.Start(); err != nil {
		t.Fatal(err)
	}
	if err := childB.Start(); err != nil {
		t.Fatal(err)
	}
	childA.AddCounts(5, 4)
	childB.AddCounts(5, 1)

	if err := parent.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := parent.Analyse(); err != nil {
		t.Fatal(err)
	}

	total, _ := parent.TotalRequest()
	success, _ := parent.SuccessRequest()
	if total != 10 || success != 5 {
		t.Fatalf("parent totals = %d/%d, want 10/5", total, success)
	}
}
