package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

type fakeTable struct {
	mu   sync.Mutex
	rows map[string][]byte
}

func newFakeTable() *fakeTable {
	return &fakeTable{rows: map[string][]byte{}}
}

func rowKey(pk, rk string) string { return pk + "|" + rk }

func responseError(status int) error {
	return runtime.NewResponseError(&http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader("")),
		Request:    httptest.NewRequest(http.MethodGet, "https://acct.table.core.windows.net/tasks", nil),
	})
}

func (f *fakeTable) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	var e aztables.Entity
	if err := sonic.Unmarshal(entity, &e); err != nil {
		return aztables.AddEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowKey(e.PartitionKey, e.RowKey)
	if _, ok := f.rows[k]; ok {
		return aztables.AddEntityResponse{}, responseError(http.StatusConflict)
	}
	f.rows[k] = entity
	return aztables.AddEntityResponse{}, nil
}

func (f *fakeTable) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.rows[rowKey(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound)
	}
	return aztables.GetEntityResponse{Value: data}, nil
}

func (f *fakeTable) UpdateEntity(_ context.Context, entity []byte, _ *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	var e aztables.Entity
	if err := sonic.Unmarshal(entity, &e); err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowKey(e.PartitionKey, e.RowKey)
	if _, ok := f.rows[k]; !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound)
	}
	f.rows[k] = entity
	return aztables.UpdateEntityResponse{}, nil
}

func (f *fakeTable) DeleteEntity(_ context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := rowKey(pk, rk)
	if _, ok := f.rows[k]; !ok {
		return aztables.DeleteEntityResponse{}, responseError(http.StatusNotFound)
	}
	delete(f.rows, k)
	return aztables.DeleteEntityResponse{}, nil
}

func (f *fakeTable) NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	f.mu.Lock()
	keys := make([]string, 0, len(f.rows))
	for k := range f.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entities := make([][]byte, 0, len(keys))
	for _, k := range keys {
		pk := strings.SplitN(k, "|", 2)[0]
		if options != nil && options.Filter != nil && *options.Filter != partitionFilter(pk) {
			continue
		}
		entities = append(entities, f.rows[k])
	}
	f.mu.Unlock()

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(aztables.ListEntitiesResponse) bool { return false },
		Fetcher: func(context.Context, *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			return aztables.ListEntitiesResponse{Entities: entities}, nil
		},
	})
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (f *fakeQueue) EnqueueMessage(_ context.Context, content string, _ *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return azqueue.EnqueueMessagesResponse{}, f.err
	}
	f.messages = append(f.messages, content)
	return azqueue.EnqueueMessagesResponse{}, nil
}

func (f *fakeQueue) events(t *testing.T) []TaskEvent {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]TaskEvent, 0, len(f.messages))
	for _, m := range f.messages {
		var ev TaskEvent
		if err := sonic.UnmarshalString(m, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		out = append(out, ev)
	}
	return out
}

func newTestStorage() (*Storage, *fakeQueue) {
	q := &fakeQueue{}
	clock := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &Storage{
		taskTable:  newFakeTable(),
		usersTable: newFakeTable(),
		events:     q,
		now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	}, q
}

func TestCreateAndListVisibleTasks(t *testing.T) {
	s, q := newTestStorage()
	ctx := context.Background()
	ana := s.ForUser("ana")

	desc := "notes"
	first, err := ana.CreateTask(ctx, domain.TaskRequest{Title: "first", Description: &desc, Status: domain.StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID == "" || first.Owner != "ana" || first.CreatedAt == "" {
		t.Fatalf("unexpected created task: %#v", first)
	}
	if _, err := ana.CreateTask(ctx, domain.TaskRequest{Title: "second", Status: "BOGUS", Assignees: []string{"bob"}}); err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := ana.ListTasks(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].Title != "second" || tasks[1].Title != "first" {
		t.Fatalf("expected newest first, got %#v", tasks)
	}
	if tasks[0].Status != domain.StatusTodo {
		t.Fatalf("expected unknown status normalized, got %q", tasks[0].Status)
	}
	if tasks[1].Description == nil || *tasks[1].Description != "notes" || tasks[1].EndDate != nil {
		t.Fatalf("unexpected optional fields: %#v", tasks[1])
	}

	bobTasks, err := s.ForUser("bob").ListTasks(ctx)
	if err != nil || len(bobTasks) != 1 || bobTasks[0].Title != "second" {
		t.Fatalf("expected assignee to see one task, got %#v %v", bobTasks, err)
	}
	carlTasks, _ := s.ForUser("carl").ListTasks(ctx)
	if len(carlTasks) != 0 {
		t.Fatalf("outsider sees tasks: %#v", carlTasks)
	}

	if evs := q.events(t); len(evs) != 2 || evs[0].Type != EventTaskCreated || evs[0].TaskID != string(first.ID) {
		t.Fatalf("unexpected events: %#v", evs)
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	s, _ := newTestStorage()
	_, err := s.ForUser("ana").CreateTask(context.Background(), domain.TaskRequest{Title: "  "})
	if !errors.Is(err, domain.ErrEmptyTitle) {
		t.Fatalf("expected ErrEmptyTitle, got %v", err)
	}
}

func TestUpdatePermissions(t *testing.T) {
	s, q := newTestStorage()
	ctx := context.Background()
	created, _ := s.ForUser("ana").CreateTask(ctx, domain.TaskRequest{Title: "t", Assignees: []string{"bob"}})
	id := string(created.ID)

	updated, err := s.ForUser("bob").UpdateTask(ctx, id, domain.TaskRequest{Title: "t2", Status: domain.StatusDone, Assignees: []string{"bob"}})
	if err != nil {
		t.Fatalf("assignee update: %v", err)
	}
	if updated.Status != domain.StatusDone || updated.Owner != "ana" || updated.CreatedAt != created.CreatedAt {
		t.Fatalf("unexpected update result: %#v", updated)
	}

	if _, err := s.ForUser("carl").UpdateTask(ctx, id, domain.TaskRequest{Title: "x"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := s.ForUser("ana").UpdateTask(ctx, "missing", domain.TaskRequest{Title: "x"}); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if evs := q.events(t); len(evs) != 2 || evs[1].Type != EventTaskUpdated {
		t.Fatalf("unexpected events: %#v", evs)
	}
}

func TestDeleteOnlyByOwner(t *testing.T) {
	s, q := newTestStorage()
	ctx := context.Background()
	created, _ := s.ForUser("ana").CreateTask(ctx, domain.TaskRequest{Title: "t", Assignees: []string{"bob"}})
	id := string(created.ID)

	if err := s.ForUser("bob").DeleteTask(ctx, id); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if err := s.ForUser("ana").DeleteTask(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.ForUser("ana").DeleteTask(ctx, id); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	evs := q.events(t)
	if last := evs[len(evs)-1]; last.Type != EventTaskDeleted || last.TaskID != id || last.Task == nil || last.Task.Title != "t" {
		t.Fatalf("unexpected delete event: %#v", last)
	}
}

func TestQueueFailureDoesNotFailWrite(t *testing.T) {
	s, q := newTestStorage()
	q.err = errors.New("queue down")

	if _, err := s.ForUser("ana").CreateTask(context.Background(), domain.TaskRequest{Title: "t"}); err != nil {
		t.Fatalf("create failed because of queue: %v", err)
	}
}

func TestUsernameDirectory(t *testing.T) {
	s, _ := newTestStorage()
	ctx := context.Background()
	for _, u := range []string{"carl", "ana", "bob", "ana"} {
		if err := s.RegisterUser(ctx, u); err != nil {
			t.Fatalf("register %s: %v", u, err)
		}
	}
	names, err := s.ListUsernames(ctx)
	if err != nil {
		t.Fatalf("list usernames: %v", err)
	}
	if strings.Join(names, ",") != "ana,bob,carl" {
		t.Fatalf("unexpected usernames: %v", names)
	}
}

func TestPartitionFilterEscapesQuotes(t *testing.T) {
	if got := partitionFilter("o'brien"); got != "PartitionKey eq 'o''brien'" {
		t.Fatalf("unexpected filter: %s", got)
	}
}
