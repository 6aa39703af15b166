package board

import (
	"testing"

	"taskboard/domain"
)

func TestNarrationAcrossAndWithinColumns(t *testing.T) {
	b := newTestBoard()
	e := NewEngine(b, nil)
	active := taskSubject(t, b, "t1")

	e.Start(active)

	res := e.Over(active, taskSubject(t, b, "t2"))
	if res.Announcement != "Task was moved over position 1 of 2 in column To Do" {
		t.Fatalf("unexpected same-column announcement: %q", res.Announcement)
	}

	res = e.Over(active, taskSubject(t, b, "t4"))
	if res.Announcement != "Task one was moved over column In Progress in position 3 of 3" {
		t.Fatalf("unexpected cross-column announcement: %q", res.Announcement)
	}

	over := taskSubject(t, b, "t4")
	res = e.End(active, &over)
	if res.Announcement != "Task was dropped into column In Progress in position 3 of 3" {
		t.Fatalf("unexpected drop announcement: %q", res.Announcement)
	}
}

func TestNarrationDropWithinOriginColumn(t *testing.T) {
	b := newTestBoard()
	e := NewEngine(b, nil)
	active := taskSubject(t, b, "t3")

	e.Start(active)
	over := taskSubject(t, b, "t4")
	e.Over(active, over)
	res := e.End(active, &over)

	if res.Announcement != "Task was dropped into position 1 of 2 in column In Progress" {
		t.Fatalf("unexpected announcement: %q", res.Announcement)
	}
}

func TestNarrationTaskOverColumnIsSilent(t *testing.T) {
	b := newTestBoard()
	e := NewEngine(b, nil)
	active := taskSubject(t, b, "t1")

	e.Start(active)
	res := e.Over(active, columnSubject(t, b, domain.ColumnDone))
	if res.Announcement != "" {
		t.Fatalf("expected no announcement, got %q", res.Announcement)
	}
}

func TestCancelColumnNarration(t *testing.T) {
	b := newTestBoard()
	e := NewEngine(b, nil)
	active := columnSubject(t, b, domain.ColumnInProgress)

	e.Start(active)
	if res := e.Cancel(active); res.Announcement != "Dragging Column cancelled." {
		t.Fatalf("unexpected announcement: %q", res.Announcement)
	}
}
