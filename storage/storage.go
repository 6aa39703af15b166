package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

const (
	tasksPartition = "tasks"
	usersPartition = "users"
)

type tableAPI interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

type queueAPI interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// Storage keeps tasks and the username directory in Azure Tables.
type Storage struct {
	taskTable  tableAPI
	usersTable tableAPI
	events     queueAPI
	now        func() time.Time
}

// New creates a Storage instance from the given connection string. The event
// queue is optional.
func New(connStr, tasksTable, usersTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		taskTable:  svc.NewClient(tasksTable),
		usersTable: svc.NewClient(usersTable),
		now:        time.Now,
	}
	if eventsQueue == "" {
		return s, nil
	}
	q, err := NewEventQueue(connStr, eventsQueue)
	if err != nil {
		return nil, err
	}
	s.events = q
	return s, nil
}

// NewEventQueue opens the task events queue with the retry policy used for
// publishing.
func NewEventQueue(connStr, name string) (*azqueue.QueueClient, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return azqueue.NewQueueClientFromConnectionString(connStr, name, &queueClientOptions)
}

// ForUser returns a task store acting on behalf of user.
func (s *Storage) ForUser(user string) *UserStore {
	return &UserStore{s: s, user: user}
}

// ListUsernames returns every registered username in ascending order.
func (s *Storage) ListUsernames(ctx context.Context) ([]string, error) {
	filter := partitionFilter(usersPartition)
	pager := s.usersTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	names := []string{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent aztables.Entity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			names = append(names, ent.RowKey)
		}
	}
	sort.Strings(names)
	return names, nil
}

// RegisterUser adds user to the directory. Existing users are left untouched.
func (s *Storage) RegisterUser(ctx context.Context, user string) error {
	data, err := sonic.Marshal(aztables.Entity{PartitionKey: usersPartition, RowKey: user})
	if err != nil {
		return err
	}
	_, err = s.usersTable.AddEntity(ctx, data, nil)
	if err != nil && statusOf(err) == http.StatusConflict {
		return nil
	}
	return err
}

// UserStore implements the task store contract for a single user.
type UserStore struct {
	s    *Storage
	user string
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	EndDate     string `json:"EndDate"`
	Status      string `json:"Status"`
	Owner       string `json:"Owner"`
	CreatedAt   string `json:"CreatedAt"`
	Assignees   string `json:"Assignees"`
}

// TaskEvent is enqueued after every stored change.
type TaskEvent struct {
	Type      string             `json:"type"`
	User      string             `json:"user"`
	TaskID    string             `json:"taskId"`
	Task      *domain.RemoteTask `json:"task,omitempty"`
	Timestamp int64              `json:"timestamp"`
}

const (
	EventTaskCreated = "task-created"
	EventTaskUpdated = "task-updated"
	EventTaskDeleted = "task-deleted"
)

// ListTasks returns tasks the user owns or is assigned to, newest first.
func (u *UserStore) ListTasks(ctx context.Context) ([]domain.RemoteTask, error) {
	filter := partitionFilter(tasksPartition)
	pager := u.s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.RemoteTask{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent taskEntity
			if err := sonic.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			rt := ent.remote()
			if rt.Owner == u.user || containsUser(rt.Assignees, u.user) {
				tasks = append(tasks, rt)
			}
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt > tasks[j].CreatedAt })
	return tasks, nil
}

func (u *UserStore) CreateTask(ctx context.Context, req domain.TaskRequest) (domain.RemoteTask, error) {
	if strings.TrimSpace(req.Title) == "" {
		return domain.RemoteTask{}, domain.ErrEmptyTitle
	}
	rt := domain.RemoteTask{
		ID:          domain.TaskID(uuid.NewString()),
		Title:       req.Title,
		Description: req.Description,
		EndDate:     req.EndDate,
		CreatedAt:   domain.FormatTimestamp(u.s.now()),
		Status:      normalizeStatus(req.Status),
		Owner:       u.user,
		Assignees:   nonNil(req.Assignees),
	}
	data, err := sonic.Marshal(toEntity(rt))
	if err != nil {
		return domain.RemoteTask{}, err
	}
	if _, err := u.s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return domain.RemoteTask{}, fmt.Errorf("add task: %w", err)
	}
	u.s.publish(ctx, EventTaskCreated, u.user, string(rt.ID), &rt)
	return rt, nil
}

// UpdateTask replaces every field of task id. Only the owner or an assignee
// may update a task.
func (u *UserStore) UpdateTask(ctx context.Context, id string, req domain.TaskRequest) (domain.RemoteTask, error) {
	current, err := u.get(ctx, id)
	if err != nil {
		return domain.RemoteTask{}, err
	}
	if current.Owner != u.user && !containsUser(current.Assignees, u.user) {
		return domain.RemoteTask{}, domain.ErrForbidden
	}
	current.Title = req.Title
	current.Description = req.Description
	current.EndDate = req.EndDate
	current.Status = normalizeStatus(req.Status)
	current.Assignees = nonNil(req.Assignees)

	data, err := sonic.Marshal(toEntity(current))
	if err != nil {
		return domain.RemoteTask{}, err
	}
	if _, err := u.s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return domain.RemoteTask{}, mapNotFound(fmt.Errorf("update task: %w", err))
	}
	u.s.publish(ctx, EventTaskUpdated, u.user, id, &current)
	return current, nil
}

// DeleteTask removes task id. Only the owner may delete a task.
func (u *UserStore) DeleteTask(ctx context.Context, id string) error {
	current, err := u.get(ctx, id)
	if err != nil {
		return err
	}
	if current.Owner != u.user {
		return domain.ErrForbidden
	}
	if _, err := u.s.taskTable.DeleteEntity(ctx, tasksPartition, id, nil); err != nil {
		return mapNotFound(fmt.Errorf("delete task: %w", err))
	}
	u.s.publish(ctx, EventTaskDeleted, u.user, id, &current)
	return nil
}

func (u *UserStore) get(ctx context.Context, id string) (domain.RemoteTask, error) {
	resp, err := u.s.taskTable.GetEntity(ctx, tasksPartition, id, nil)
	if err != nil {
		return domain.RemoteTask{}, mapNotFound(fmt.Errorf("get task %s: %w", id, err))
	}
	var ent taskEntity
	if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
		return domain.RemoteTask{}, err
	}
	return ent.remote(), nil
}

// publish enqueues a change event. Queue failures are logged, not returned:
// the table write already succeeded.
func (s *Storage) publish(ctx context.Context, typ, user, id string, task *domain.RemoteTask) {
	if s.events == nil {
		return
	}
	ev := TaskEvent{Type: typ, User: user, TaskID: id, Task: task, Timestamp: s.now().UnixNano()}
	data, err := sonic.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := s.events.EnqueueMessage(ctx, string(data), nil); err != nil {
		log.WithFields(log.Fields{"type": typ, "task": ev.TaskID}).Errorf("enqueue task event: %v", err)
	}
}

func toEntity(rt domain.RemoteTask) taskEntity {
	ent := taskEntity{
		Entity:    aztables.Entity{PartitionKey: tasksPartition, RowKey: string(rt.ID)},
		Title:     rt.Title,
		Status:    string(rt.Status),
		Owner:     rt.Owner,
		CreatedAt: rt.CreatedAt,
	}
	if rt.Description != nil {
		ent.Description = *rt.Description
	}
	if rt.EndDate != nil {
		ent.EndDate = *rt.EndDate
	}
	data, err := sonic.Marshal(nonNil(rt.Assignees))
	if err == nil {
		ent.Assignees = string(data)
	}
	return ent
}

func (e taskEntity) remote() domain.RemoteTask {
	rt := domain.RemoteTask{
		ID:        domain.TaskID(e.RowKey),
		Title:     e.Title,
		Status:    domain.Status(e.Status),
		Owner:     e.Owner,
		CreatedAt: e.CreatedAt,
		Assignees: []string{},
	}
	if e.Description != "" {
		d := e.Description
		rt.Description = &d
	}
	if e.EndDate != "" {
		d := e.EndDate
		rt.EndDate = &d
	}
	if e.Assignees != "" {
		_ = sonic.UnmarshalString(e.Assignees, &rt.Assignees)
	}
	return rt
}

// partitionFilter builds an OData filter for one partition, escaping quotes.
func partitionFilter(partition string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(partition, "'", "''") + "'"
}

func normalizeStatus(s domain.Status) domain.Status {
	if _, ok := domain.ColumnFor(s); ok {
		return s
	}
	return domain.StatusTodo
}

func containsUser(users []string, user string) bool {
	for _, u := range users {
		if u == user {
			return true
		}
	}
	return false
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func statusOf(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func mapNotFound(err error) error {
	if statusOf(err) == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrTaskNotFound, err)
	}
	return err
}
