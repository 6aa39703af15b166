package board

import (
	"errors"
	"testing"

	"taskboard/domain"
)

func TestPositionOf(t *testing.T) {
	b := newTestBoard()

	pos := b.PositionOf("t4", domain.ColumnInProgress)
	if pos.Index != 1 || len(pos.Siblings) != 2 {
		t.Fatalf("unexpected position: %#v", pos)
	}
	if pos.Column == nil || pos.Column.Title != "In Progress" {
		t.Fatalf("unexpected column: %#v", pos.Column)
	}

	missing := b.PositionOf("t4", domain.ColumnDone)
	if missing.Index != -1 {
		t.Fatalf("expected -1 for task outside column, got %d", missing.Index)
	}

	unknown := b.PositionOf("t1", "archive")
	if unknown.Column != nil || unknown.Index != -1 || len(unknown.Siblings) != 0 {
		t.Fatalf("unexpected position for unknown column: %#v", unknown)
	}
}

func TestPrependReplaceRemove(t *testing.T) {
	b := newTestBoard()

	b.Prepend(domain.Task{ID: "t0", ColumnID: domain.ColumnTodo, Title: "zero"})
	if got := ids(b.Tasks()); got[0] != "t0" {
		t.Fatalf("expected t0 at head, got %v", got)
	}

	if !b.Replace(domain.Task{ID: "t3", ColumnID: domain.ColumnDone, Title: "three!"}) {
		t.Fatalf("expected replace to find t3")
	}
	if got := ids(b.Tasks()); got[3] != "t3" {
		t.Fatalf("replace moved task: %v", got)
	}
	if b.Replace(domain.Task{ID: "nope"}) {
		t.Fatalf("replace of unknown task reported success")
	}

	if !b.Remove("t2") || b.Remove("t2") {
		t.Fatalf("unexpected remove results")
	}
	if _, ok := b.Task("t2"); ok {
		t.Fatalf("t2 still present")
	}
}

func TestInvalidColumnFallsBackOnEntry(t *testing.T) {
	b := New()
	b.Prepend(domain.Task{ID: "x", ColumnID: "archive", Title: "x"})

	got, _ := b.Task("x")
	if got.ColumnID != domain.FallbackColumn {
		t.Fatalf("expected fallback column, got %q", got.ColumnID)
	}
}

func TestViewGroupsByDisplayOrder(t *testing.T) {
	b := newTestBoard()
	b.SetLoadError(errors.New("boom"))

	v := b.View()
	if len(v.Columns) != 3 || v.Columns[0].ID != domain.ColumnTodo {
		t.Fatalf("unexpected columns: %#v", v.Columns)
	}
	if len(v.Columns[1].Tasks) != 2 || v.LoadError != "boom" || !v.Loaded {
		t.Fatalf("unexpected view: %#v", v)
	}

	b.ReplaceAll(nil)
	if b.LoadError() != nil {
		t.Fatalf("expected load error cleared")
	}
}

func TestTasksReturnsCopies(t *testing.T) {
	b := New()
	b.ReplaceAll([]domain.Task{{ID: "a", ColumnID: domain.ColumnTodo, Assignees: []string{"ana"}}})

	tasks := b.Tasks()
	tasks[0].Assignees[0] = "mallory"
	tasks[0].ColumnID = domain.ColumnDone

	got, _ := b.Task("a")
	if got.Assignees[0] != "ana" || got.ColumnID != domain.ColumnTodo {
		t.Fatalf("board state leaked through copy: %#v", got)
	}
}
