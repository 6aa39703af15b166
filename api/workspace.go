package api

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/board"
	"taskboard/domain"
	"taskboard/notify"
	"taskboard/syncer"
)

// StoreFactory returns the task store acting for user, authenticated with the
// caller's bearer token.
type StoreFactory func(user, bearer string) syncer.TaskStore

// Workspace is one user's board with its drag engine and sync adapter.
type Workspace struct {
	User    string
	Board   *board.Board
	Engine  *board.Engine
	Adapter *syncer.Adapter

	store  *tokenStore
	loadMu sync.Mutex
}

// EnsureLoaded loads the board on first access. A previous load failure is
// kept until Reload is called.
func (w *Workspace) EnsureLoaded(ctx context.Context) error {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	if w.Board.Loaded() || w.Board.LoadError() != nil {
		return w.Board.LoadError()
	}
	return w.Adapter.LoadAll(ctx, w.Board)
}

// Reload replaces the board with the store contents.
func (w *Workspace) Reload(ctx context.Context) error {
	w.loadMu.Lock()
	defer w.loadMu.Unlock()
	return w.Adapter.LoadAll(ctx, w.Board)
}

// RegistryOptions configures a Registry. When Directory is nil each workspace
// lists usernames through its own store, wrapped by CacheDirectory if set.
type RegistryOptions struct {
	Stores         StoreFactory
	Directory      syncer.UsernameDirectory
	CacheDirectory func(syncer.UsernameDirectory) syncer.UsernameDirectory
	Notifier       notify.Notifier
	Pool           *syncer.Pool
	Logger         *log.Logger
}

// Registry holds a workspace per user, created on first use.
type Registry struct {
	mu         sync.Mutex
	workspaces map[string]*Workspace
	opts       RegistryOptions
}

func NewRegistry(opts RegistryOptions) *Registry {
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	return &Registry{workspaces: map[string]*Workspace{}, opts: opts}
}

// Get returns the user's workspace, refreshing the bearer token its store
// uses for remote calls.
func (r *Registry) Get(user, bearer string) *Workspace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if w, ok := r.workspaces[user]; ok {
		w.store.refresh(bearer)
		return w
	}

	store := &tokenStore{factory: r.opts.Stores, user: user}
	store.refresh(bearer)
	dir := r.opts.Directory
	if dir == nil {
		dir = store
		if r.opts.CacheDirectory != nil {
			dir = r.opts.CacheDirectory(store)
		}
	}
	b := board.New()
	adapter := syncer.New(syncer.Options{
		Store:     store,
		Directory: dir,
		Notifier:  r.opts.Notifier,
		Pool:      r.opts.Pool,
		User:      user,
		Logger:    r.opts.Logger,
	})
	w := &Workspace{
		User:    user,
		Board:   b,
		Engine:  board.NewEngine(b, adapter),
		Adapter: adapter,
		store:   store,
	}
	r.workspaces[user] = w
	r.opts.Logger.WithField("user", user).Debug("workspace created")
	return w
}

// tokenStore delegates to a store built for the most recent bearer token.
type tokenStore struct {
	factory StoreFactory
	user    string

	mu     sync.RWMutex
	bearer string
	store  syncer.TaskStore
}

func (s *tokenStore) refresh(bearer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store != nil && s.bearer == bearer {
		return
	}
	s.store = s.factory(s.user, bearer)
	s.bearer = bearer
}

func (s *tokenStore) current() syncer.TaskStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.store
}

func (s *tokenStore) ListTasks(ctx context.Context) ([]domain.RemoteTask, error) {
	return s.current().ListTasks(ctx)
}

func (s *tokenStore) CreateTask(ctx context.Context, req domain.TaskRequest) (domain.RemoteTask, error) {
	return s.current().CreateTask(ctx, req)
}

func (s *tokenStore) UpdateTask(ctx context.Context, id string, req domain.TaskRequest) (domain.RemoteTask, error) {
	return s.current().UpdateTask(ctx, id, req)
}

func (s *tokenStore) DeleteTask(ctx context.Context, id string) error {
	return s.current().DeleteTask(ctx, id)
}

var errNoDirectory = errors.New("task store does not list usernames")

func (s *tokenStore) ListUsernames(ctx context.Context) ([]string, error) {
	dir, ok := s.current().(syncer.UsernameDirectory)
	if !ok {
		return nil, errNoDirectory
	}
	return dir.ListUsernames(ctx)
}
