package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	"github.com/Egham-7/letterpress/internal/services/credits"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type memorySink struct {
	mu      sync.Mutex
	records []Record
	block   chan struct{}
	err     error
}

func (s *memorySink) Insert(_ context.Context, r Record) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sampleEvent(id uint) credits.Event {
	return credits.Event{
		Type: credits.EventEntryCreated,
		Entry: models.LedgerEntry{
			ID:            id,
			UserID:        "user-1",
			Amount:        -5,
			BalanceBefore: 100,
			BalanceAfter:  95,
			Kind:          models.LedgerEntryReserve,
			Category:      "image_generation",
			CreatedAt:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestMirror_WritesAllEventsBeforeStop(t *testing.T) {
	sink := &memorySink{}
	m := NewMirror(sink, 3, 64)

	for i := range 20 {
		m.LedgerEvent(context.Background(), sampleEvent(uint(i+1)))
	}
	m.Stop()

	if n := sink.count(); n != 20 {
		t.Errorf("mirrored %d events, want 20", n)
	}
	m.LedgerEvent(context.Background(), sampleEvent(99))
	if n := sink.count(); n != 20 {
		t.Errorf("event accepted after Stop()")
	}
	m.Stop()
}

func TestMirror_DropsWhenBufferIsFull(t *testing.T) {
	sink := &memorySink{block: make(chan struct{})}
	m := NewMirror(sink, 1, 1)

	for i := range 10 {
		m.LedgerEvent(context.Background(), sampleEvent(uint(i+1)))
	}
	close(sink.block)
	m.Stop()

	if n := sink.count(); n >= 10 || n == 0 {
		t.Errorf("mirrored %d events, want some dropped", n)
	}
}

func TestMirror_SinkErrorsAreLogged(t *testing.T) {
	sink := &memorySink{err: errors.New("clickhouse unavailable")}
	m := NewMirror(sink, 1, 4)
	m.LedgerEvent(context.Background(), sampleEvent(1))
	m.Stop()

	if sink.count() != 1 {
		t.Errorf("sink called %d times, want 1", sink.count())
	}
}

func TestRecordFromEvent(t *testing.T) {
	r := RecordFromEvent(sampleEvent(7))
	if r.EntryID != 7 || r.Event != "created" || r.Kind != "reserve" || r.Amount != -5 || r.BalanceAfter != 95 {
		t.Errorf("record = %+v", r)
	}
	if r.RecordedAt.IsZero() {
		t.Error("RecordedAt not set")
	}
}

func TestGormSink_Insert(t *testing.T) {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("AutoMigrate() error: %v", err)
	}

	sink := NewGormSink(db)
	if err := sink.Insert(context.Background(), RecordFromEvent(sampleEvent(3))); err != nil {
		t.Fatalf("Insert() error: %v", err)
	}

	var count int64
	db.Model(&Record{}).Where("user_id = ? AND entry_id = ?", "user-1", 3).Count(&count)
	if count != 1 {
		t.Errorf("rows = %d, want 1", count)
	}
}
