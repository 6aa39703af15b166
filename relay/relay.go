package relay

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"taskboard/notify"
	"taskboard/storage"
)

const (
	defaultBatch = 16
	defaultIdle  = time.Second
)

// Queue is the subset of the queue client the relay needs.
type Queue interface {
	DequeueMessages(ctx context.Context, o *azqueue.DequeueMessagesOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// Relay turns stored task changes into notifications for the other users who
// can see the task.
type Relay struct {
	queue    Queue
	notifier notify.Notifier
	log      *log.Logger
	batch    int32
	idle     time.Duration
}

func New(q Queue, n notify.Notifier, logger *log.Logger) *Relay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Relay{queue: q, notifier: n, log: logger, batch: defaultBatch, idle: defaultIdle}
}

// Run drains the queue until ctx is cancelled, sleeping while it is empty.
func (r *Relay) Run(ctx context.Context) error {
	r.log.Info("task event relay starting")
	for {
		n, err := r.Drain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.log.Errorf("receive: %v", err)
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.idle):
		}
	}
}

// Drain processes one batch and returns how many messages it received.
// Undecodable messages are dropped.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	n := r.batch
	resp, err := r.queue.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{NumberOfMessages: &n})
	if err != nil {
		return 0, fmt.Errorf("dequeue task events: %w", err)
	}
	for _, msg := range resp.Messages {
		if msg == nil || msg.MessageID == nil || msg.PopReceipt == nil {
			continue
		}
		if msg.MessageText != nil {
			var ev storage.TaskEvent
			if err := sonic.UnmarshalString(*msg.MessageText, &ev); err != nil {
				r.log.WithField("message", *msg.MessageID).Errorf("unable to parse task event: %v", err)
			} else {
				r.Handle(ctx, ev)
			}
		}
		if _, err := r.queue.DeleteMessage(ctx, *msg.MessageID, *msg.PopReceipt, nil); err != nil {
			r.log.WithField("message", *msg.MessageID).Errorf("delete task event: %v", err)
		}
	}
	return len(resp.Messages), nil
}

// Handle notifies every recipient of ev.
func (r *Relay) Handle(ctx context.Context, ev storage.TaskEvent) {
	text := Describe(ev)
	if text == "" {
		return
	}
	for _, user := range Recipients(ev) {
		r.notifier.Notify(ctx, notify.New(user, notify.LevelInfo, ev.TaskID, text))
	}
	r.log.WithFields(log.Fields{"type": ev.Type, "task": ev.TaskID, "actor": ev.User}).Debug("task event relayed")
}

// Recipients returns the owner and assignees of the changed task, excluding
// the user who made the change.
func Recipients(ev storage.TaskEvent) []string {
	if ev.Task == nil {
		return nil
	}
	var out []string
	add := func(u string) {
		if u != "" && u != ev.User && !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	add(ev.Task.Owner)
	for _, a := range ev.Task.Assignees {
		add(a)
	}
	return out
}

// Describe renders the notification text for ev.
func Describe(ev storage.TaskEvent) string {
	if ev.Task == nil {
		return ""
	}
	switch ev.Type {
	case storage.EventTaskCreated:
		return fmt.Sprintf("%s assigned you to task %q", ev.User, ev.Task.Title)
	case storage.EventTaskUpdated:
		return fmt.Sprintf("%s updated task %q", ev.User, ev.Task.Title)
	case storage.EventTaskDeleted:
		return fmt.Sprintf("%s deleted task %q", ev.User, ev.Task.Title)
	}
	return ""
}
