package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisNotifier_PublishesToUserAndGlobalChannels(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	notifier := NewRedisNotifier(client, "")
	sub := client.Subscribe(ctx, notifier.UserChannel("user-1"), notifier.GlobalChannel())
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	event := NewEvent(EventCreditsToppedUp, "user-1", 250, 350, "cs_test_1")
	if err := notifier.Notify(ctx, event); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}

	channels := map[string]bool{}
	for range 2 {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			t.Fatalf("ReceiveMessage() error: %v", err)
		}
		channels[msg.Channel] = true

		var got Event
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("payload is not JSON: %v", err)
		}
		if got.ID != event.ID || got.Credits != 250 || got.Remaining != 350 || got.Type != EventCreditsToppedUp {
			t.Errorf("payload = %+v", got)
		}
	}

	if !channels["letterpress:user:user-1"] || !channels["letterpress:events"] {
		t.Errorf("channels = %v", channels)
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("dispatch context has no deadline")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func TestDispatcher_DeliversAfterCallerCancels(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d.Dispatch(ctx, NewEvent(EventCreditsGranted, "user-1", 100, 100, ""))
	d.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("delivered %d events, want 1", len(rec.events))
	}
}

func TestDispatcher_SwallowsErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("redis down")}
	d := NewDispatcher(rec, 0)

	d.Dispatch(context.Background(), NewEvent(EventCreditsToppedUp, "user-1", 5, 5, ""))
	d.Close()

	if len(rec.events) != 1 {
		t.Errorf("delivered %d events, want 1", len(rec.events))
	}
}

func TestNewDispatcher_DefaultsToLogNotifier(t *testing.T) {
	d := NewDispatcher(nil, 0)
	if _, ok := d.notifier.(LogNotifier); !ok {
		t.Errorf("notifier = %T, want LogNotifier", d.notifier)
	}
	d.Dispatch(context.Background(), NewEvent(EventCreditsToppedUp, "user-1", 1, 1, ""))
	d.Close()
}

func TestDispatcher_DeliversDuringAndAfterClose(t *testing.T) {
	rec := &recordingNotifier{}
	d := NewDispatcher(rec, time.Second)

	const senders = 8
	var wg sync.WaitGroup
	for i := range senders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), NewEvent(EventCreditsGranted, "user-1", int64(i), int64(i), ""))
		}()
	}
	d.Close()
	wg.Wait()

	d.Dispatch(context.Background(), NewEvent(EventCreditsToppedUp, "user-1", 1, 1, ""))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != senders+1 {
		t.Fatalf("delivered %d events, want %d", len(rec.events), senders+1)
	}
	if last := rec.events[len(rec.events)-1]; last.Type != EventCreditsToppedUp {
		t.Errorf("last event = %s, want the one sent after Close", last.Type)
	}
}
