package domain

import "testing"

func TestClassify(t *testing.T) {
	col := Column{ID: ColumnDone, Title: "Done"}
	task := Task{ID: "1", ColumnID: ColumnTodo, Title: "t"}

	tests := []struct {
		name    string
		subject Subject
		want    Kind
		ok      bool
	}{
		{name: "column", subject: ColumnSubject(col), want: KindColumn, ok: true},
		{name: "task", subject: TaskSubject(task), want: KindTask, ok: true},
		{name: "untagged", subject: Subject{ID: "x"}},
		{name: "unknownKind", subject: Subject{ID: "x", Data: &Payload{Kind: "Card"}}},
		{name: "columnWithoutValue", subject: Subject{ID: "x", Data: &Payload{Kind: KindColumn}}},
		{name: "taskWithoutValue", subject: Subject{ID: "x", Data: &Payload{Kind: KindTask}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.subject)
			if ok != tt.ok {
				t.Fatalf("Classify ok = %v, want %v", ok, tt.ok)
			}
			if ok && got.Kind != tt.want {
				t.Fatalf("Classify kind = %s, want %s", got.Kind, tt.want)
			}
		})
	}
}
