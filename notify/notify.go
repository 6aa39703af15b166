package notify

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Notification is a transient message shown to a user.
type Notification struct {
	ID      string    `json:"id"`
	User    string    `json:"user"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	TaskID  string    `json:"taskId,omitempty"`
	Time    time.Time `json:"time"`
}

// New creates a notification with a fresh id and timestamp.
func New(user string, level Level, taskID, message string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		User:    user,
		Level:   level,
		Message: message,
		TaskID:  taskID,
		Time:    time.Now().UTC(),
	}
}

// Notifier delivers notifications. Delivery failures are never returned to
// the caller; a notification is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier writes notifications to the log.
type LogNotifier struct {
	Logger *log.Logger
}

func (l LogNotifier) Notify(_ context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	entry := logger.WithFields(log.Fields{"user": n.User, "task": n.TaskID, "notification": n.ID})
	if n.Level == LevelError {
		entry.Error(n.Message)
		return
	}
	entry.Info(n.Message)
}

// RedisNotifier publishes notifications on a per-user Redis channel so the
// notification stream can forward them, and logs them as well.
type RedisNotifier struct {
	client *redis.Client
	log    LogNotifier
}

func NewRedisNotifier(client *redis.Client, logger *log.Logger) *RedisNotifier {
	return &RedisNotifier{client: client, log: LogNotifier{Logger: logger}}
}

func (r *RedisNotifier) Notify(ctx context.Context, n Notification) {
	r.log.Notify(ctx, n)
	if r.client == nil {
		return
	}
	data, err := sonic.Marshal(n)
	if err != nil {
		return
	}
	if err := r.client.Publish(ctx, Channel(n.User), data).Err(); err != nil {
		log.Errorf("Unable to publish notification for %s: %v", n.User, err)
	}
}

// Channel returns the pub/sub channel carrying a user's notifications.
func Channel(user string) string {
	return "notifications:" + user
}

// Subscribe forwards a user's notifications to fn until ctx is done.
func Subscribe(ctx context.Context, rc *redis.Client, user string, fn func(Notification)) error {
	sub := rc.Subscribe(ctx, Channel(user))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var n Notification
			if err := sonic.Unmarshal([]byte(msg.Payload), &n); err != nil {
				log.Errorf("unable to parse notification: %v", err)
				continue
			}
			fn(n)
		}
	}
}

// Recorder keeps notifications in memory. It is safe for concurrent use.
type Recorder struct {
	ch chan Notification
}

// NewRecorder returns a Recorder buffering up to size notifications.
func NewRecorder(size int) *Recorder {
	return &Recorder{ch: make(chan Notification, size)}
}

func (r *Recorder) Notify(_ context.Context, n Notification) {
	select {
	case r.ch <- n:
	default:
	}
}

// C exposes recorded notifications in arrival order.
func (r *Recorder) C() <-chan Notification { return r.ch }
