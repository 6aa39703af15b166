package syncer

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/notify"
)

const (
	msgCreateFailed = "Failed to create task. Please try again."
	msgUpdateFailed = "Failed to update task. Please try again."
	msgDeleteFailed = "Failed to delete task. Please try again."
	msgStatusFailed = "Failed to update task status."
)

// TaskStore is the remote collaborator holding the authoritative tasks.
type TaskStore interface {
	ListTasks(ctx context.Context) ([]domain.RemoteTask, error)
	CreateTask(ctx context.Context, req domain.TaskRequest) (domain.RemoteTask, error)
	UpdateTask(ctx context.Context, id string, req domain.TaskRequest) (domain.RemoteTask, error)
	DeleteTask(ctx context.Context, id string) error
}

// UsernameDirectory lists the usernames that may be assigned to tasks.
type UsernameDirectory interface {
	ListUsernames(ctx context.Context) ([]string, error)
}

// Adapter translates local board changes into remote calls for one user and
// writes authoritative results back into the board.
type Adapter struct {
	store    TaskStore
	dir      UsernameDirectory
	notifier notify.Notifier
	pool     *Pool
	user     string
	log      *log.Logger
}

// Options configures an Adapter. Pool may be nil, in which case status
// updates run on their own goroutine.
type Options struct {
	Store     TaskStore
	Directory UsernameDirectory
	Notifier  notify.Notifier
	Pool      *Pool
	User      string
	Logger    *log.Logger
}

func New(opts Options) *Adapter {
	a := &Adapter{
		store:    opts.Store,
		dir:      opts.Directory,
		notifier: opts.Notifier,
		pool:     opts.Pool,
		user:     opts.User,
		log:      opts.Logger,
	}
	if a.log == nil {
		a.log = log.StandardLogger()
	}
	if a.notifier == nil {
		a.notifier = notify.LogNotifier{Logger: a.log}
	}
	return a
}

// User returns the user the adapter acts for.
func (a *Adapter) User() string { return a.user }

// PersistStatusChange sends the task's current column as a status update.
// The returned channel receives exactly one value once the remote call
// finishes. A failure is reported to the user and the local state is kept.
func (a *Adapter) PersistStatusChange(task domain.Task) <-chan error {
	done := make(chan error, 1)
	req := domain.StatusRequest(task)
	job := func(ctx context.Context) {
		_, err := a.store.UpdateTask(ctx, task.ID, req)
		if err != nil {
			err = fmt.Errorf("update status of task %s: %w", task.ID, err)
			a.log.WithFields(log.Fields{"task": task.ID, "status": req.Status}).Error(err)
			a.notifier.Notify(ctx, notify.New(a.user, notify.LevelError, task.ID, msgStatusFailed))
		} else {
			a.log.WithFields(log.Fields{"task": task.ID, "status": req.Status}).Debug("status synced")
		}
		done <- err
	}
	if a.pool != nil {
		a.pool.Submit(job)
	} else {
		go job(context.Background())
	}
	return done
}

// CreateTask creates a task remotely and prepends the stored version.
func (a *Adapter) CreateTask(ctx context.Context, b *board.Board, p domain.TaskPayload) (domain.Task, error) {
	req := p.Request()
	if req.Title == "" {
		return domain.Task{}, domain.ErrEmptyTitle
	}
	req.Status = domain.StatusTodo

	created, err := a.store.CreateTask(ctx, req)
	if err != nil {
		a.fail(ctx, "", msgCreateFailed, err)
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	task := created.ToTask()
	if task.Owner == "" {
		task.Owner = a.user
	}
	b.Prepend(task)
	return task, nil
}

// EditTask applies p to task id. When the stored task is no longer visible to
// user it is dropped from the board.
func (a *Adapter) EditTask(ctx context.Context, b *board.Board, user, id string, p domain.TaskPayload) (domain.Task, error) {
	current, ok := b.Task(id)
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if p.Status == "" {
		p.Status = domain.StatusFor(current.ColumnID)
	}
	req := p.Request()
	if req.Title == "" {
		return domain.Task{}, domain.ErrEmptyTitle
	}
	if req.Assignees == nil {
		req.Assignees = []string{}
	}

	updated, err := a.store.UpdateTask(ctx, id, req)
	if err != nil {
		a.fail(ctx, id, msgUpdateFailed, err)
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	task := updated.ToTask()
	if task.ID == "" {
		task.ID = id
	}
	if task.Owner == "" {
		task.Owner = current.Owner
	}
	if !task.VisibleTo(user) {
		b.Remove(id)
		a.log.WithFields(log.Fields{"task": id, "user": user}).Debug("task no longer visible; removed")
		return task, nil
	}
	b.Replace(task)
	return task, nil
}

// DeleteTask deletes a task remotely and removes it from the board.
func (a *Adapter) DeleteTask(ctx context.Context, b *board.Board, user, id string) error {
	current, ok := b.Task(id)
	if !ok {
		return domain.ErrTaskNotFound
	}
	if current.Owner != "" && current.Owner != user {
		a.fail(ctx, id, msgDeleteFailed, domain.ErrForbidden)
		return domain.ErrForbidden
	}
	if err := a.store.DeleteTask(ctx, id); err != nil {
		a.fail(ctx, id, msgDeleteFailed, err)
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	b.Remove(id)
	return nil
}

// LoadAll replaces the board contents with the tasks visible to the user.
// A failure is recorded on the board and returned.
func (a *Adapter) LoadAll(ctx context.Context, b *board.Board) error {
	remote, err := a.store.ListTasks(ctx)
	if err != nil {
		err = fmt.Errorf("load tasks: %w", err)
		a.log.WithField("user", a.user).Error(err)
		b.SetLoadError(err)
		return err
	}
	tasks := make([]domain.Task, 0, len(remote))
	for _, r := range remote {
		t := r.ToTask()
		if a.user != "" && t.Owner != "" && !t.VisibleTo(a.user) {
			continue
		}
		tasks = append(tasks, t)
	}
	b.ReplaceAll(tasks)
	a.log.WithFields(log.Fields{"user": a.user, "tasks": len(tasks)}).Debug("board loaded")
	return nil
}

// Usernames returns the directory of assignable users.
func (a *Adapter) Usernames(ctx context.Context) ([]string, error) {
	if a.dir == nil {
		return []string{}, nil
	}
	names, err := a.dir.ListUsernames(ctx)
	if err != nil {
		return nil, fmt.Errorf("list usernames: %w", err)
	}
	return names, nil
}

func (a *Adapter) fail(ctx context.Context, taskID, msg string, err error) {
	a.log.WithFields(log.Fields{"user": a.user, "task": taskID}).Error(err)
	a.notifier.Notify(ctx, notify.New(a.user, notify.LevelError, taskID, msg))
}
