package analytics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Egham-7/letterpress/internal/services/credits"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

const insertTimeout = 5 * time.Second

// Record is one row of the ClickHouse ledger_events table.
type Record struct {
	EntryID       uint64    `gorm:"column:entry_id"`
	UserID        string    `gorm:"column:user_id"`
	Event         string    `gorm:"column:event"`
	Kind          string    `gorm:"column:kind"`
	Category      string    `gorm:"column:category"`
	Amount        int64     `gorm:"column:amount"`
	BalanceBefore int64     `gorm:"column:balance_before"`
	BalanceAfter  int64     `gorm:"column:balance_after"`
	ReferenceID   string    `gorm:"column:reference_id"`
	ContextTokens int64     `gorm:"column:context_tokens"`
	Description   string    `gorm:"column:description"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	RecordedAt    time.Time `gorm:"column:recorded_at"`
}

func (Record) TableName() string { return "ledger_events" }

func RecordFromEvent(event credits.Event) Record {
	e := event.Entry
	return Record{
		EntryID:       uint64(e.ID),
		UserID:        e.UserID,
		Event:         string(event.Type),
		Kind:          string(e.Kind),
		Category:      e.Category,
		Amount:        e.Amount,
		BalanceBefore: e.BalanceBefore,
		BalanceAfter:  e.BalanceAfter,
		ReferenceID:   e.ReferenceID,
		ContextTokens: e.ContextTokens,
		Description:   e.Description,
		CreatedAt:     e.CreatedAt,
		RecordedAt:    time.Now().UTC(),
	}
}

type Sink interface {
	Insert(ctx context.Context, record Record) error
}

// GormSink writes records through gorm, normally to ClickHouse.
type GormSink struct {
	db *gorm.DB
}

func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

func (s *GormSink) Insert(ctx context.Context, record Record) error {
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert ledger event %d: %w", record.EntryID, err)
	}
	return nil
}

// Mirror copies ledger events into the analytics store on a bounded worker pool. It is registered as a
// ledger observer; a full buffer drops the event with a warning rather than slowing the ledger.
type Mirror struct {
	sink     Sink
	tasks    chan credits.Event
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewMirror(sink Sink, poolSize, bufferSize int) *Mirror {
	if poolSize <= 0 {
		poolSize = 2
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	m := &Mirror{
		sink:    sink,
		tasks:   make(chan credits.Event, bufferSize),
		stopped: make(chan struct{}),
	}

	for range poolSize {
		m.wg.Add(1)
		go m.run()
	}

	return m
}

func (m *Mirror) LedgerEvent(_ context.Context, event credits.Event) {
	select {
	case <-m.stopped:
		fiberlog.Warnf("Analytics mirror stopped, dropping ledger event %d", event.Entry.ID)
		return
	default:
	}

	select {
	case m.tasks <- event:
	default:
		fiberlog.Warnf("Analytics buffer full, dropping ledger event %d", event.Entry.ID)
	}
}

func (m *Mirror) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.stopped:
			m.drain()
			return
		case event := <-m.tasks:
			m.write(event)
		}
	}
}

func (m *Mirror) drain() {
	for {
		select {
		case event := <-m.tasks:
			m.write(event)
		default:
			return
		}
	}
}

func (m *Mirror) write(event credits.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()

	if err := m.sink.Insert(ctx, RecordFromEvent(event)); err != nil {
		fiberlog.Errorf("Failed to mirror ledger event %d for user %s: %v", event.Entry.ID, event.Entry.UserID, err)
	}
}

// Stop flushes buffered events and waits for the workers.
func (m *Mirror) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopped)
		m.wg.Wait()
	})
}
