package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Egham-7/letterpress/internal/utils"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	EventCreditsToppedUp = "credits.topped_up"
	EventCreditsGranted  = "credits.granted"

	defaultChannelPrefix   = "letterpress:"
	defaultDispatchTimeout = 5 * time.Second
)

type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	Credits     int64     `json:"credits"`
	Remaining   int64     `json:"remaining"`
	ReferenceID string    `json:"reference_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// NewEvent stamps an event with an id and the current time.
func NewEvent(eventType, userID string, credits, remaining int64, referenceID string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        eventType,
		UserID:      userID,
		Credits:     credits,
		Remaining:   remaining,
		ReferenceID: referenceID,
		OccurredAt:  time.Now().UTC(),
	}
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// RedisNotifier publishes events on the user's channel and on a global channel.
type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) UserChannel(userID string) string {
	return n.prefix + "user:" + userID
}

func (n *RedisNotifier) GlobalChannel() string {
	return n.prefix + "events"
}

func (n *RedisNotifier) Notify(ctx context.Context, event Event) error {
	payload, err := utils.MarshalJSON(event)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	pipe := n.client.Pipeline()
	pipe.Publish(ctx, n.UserChannel(event.UserID), payload)
	pipe.Publish(ctx, n.GlobalChannel(), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// LogNotifier is used when Redis is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, event Event) error {
	fiberlog.Infof("Notification %s for user %s: credits=%d remaining=%d", event.Type, event.UserID, event.Credits, event.Remaining)
	return nil
}

// Dispatcher delivers notifications in the background. Failures are logged and never reach the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{notifier: notifier, timeout: timeout}
}

// Dispatch sends the event in the background. After Close it sends inline.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.send(ctx, event)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.send(ctx, event)
	}()
}

func (d *Dispatcher) send(ctx context.Context, event Event) {
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	if err := d.notifier.Notify(sendCtx, event); err != nil {
		fiberlog.Warnf("Failed to deliver %s notification for user %s: %v", event.Type, event.UserID, err)
	}
}

// Close stops background delivery and blocks until in-flight notifications finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.wg.Wait()
}
