package credits

import (
	"context"
	"sync"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
	fiberlog "github.com/gofiber/fiber/v2/log"
)

const (
	defaultAuditInterval  = 15 * time.Minute
	defaultStaleThreshold = time.Hour
	auditBatchSize        = 500
)

// AuditReport summarizes one pass over pending reservations.
type AuditReport struct {
	Stale       int
	HeldCredits int64
	OldestID    uint
	OldestAt    time.Time
}

// ReservationAuditor periodically reports reservations that were never finalized. It only reports;
// orphaned credits are released by an operator through Finalize.
type ReservationAuditor struct {
	ledger    *Ledger
	interval  time.Duration
	threshold time.Duration
	stopChan  chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	onReport func(AuditReport)
}

func NewReservationAuditor(ledger *Ledger, interval, threshold time.Duration) *ReservationAuditor {
	if interval <= 0 {
		interval = defaultAuditInterval
	}
	if threshold <= 0 {
		threshold = defaultStaleThreshold
	}
	return &ReservationAuditor{
		ledger:    ledger,
		interval:  interval,
		threshold: threshold,
		stopChan:  make(chan struct{}),
	}
}

// OnReport registers a callback invoked after every audit pass. It replaces any earlier callback and
// may be called while the auditor is running.
func (a *ReservationAuditor) OnReport(fn func(AuditReport)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onReport = fn
}

func (a *ReservationAuditor) Start(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	fiberlog.Infof("Reservation auditor started, running every %s (threshold %s)", a.interval, a.threshold)

	for {
		select {
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil {
				fiberlog.Errorf("Reservation audit failed: %v", err)
			}
		case <-a.stopChan:
			fiberlog.Info("Reservation auditor stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("Reservation auditor stopped due to context cancellation")
			return
		}
	}
}

func (a *ReservationAuditor) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
	})
}

// RunOnce performs a single audit pass.
func (a *ReservationAuditor) RunOnce(ctx context.Context) (AuditReport, error) {
	entries, err := a.ledger.StaleReservations(ctx, a.threshold, auditBatchSize)
	if err != nil {
		return AuditReport{}, err
	}

	report := summarize(entries)
	if report.Stale > 0 {
		fiberlog.Warnf("Found %d reservations pending longer than %s holding %d credits (oldest id=%d at %s)",
			report.Stale, a.threshold, report.HeldCredits, report.OldestID, report.OldestAt.Format(time.RFC3339))
	} else {
		fiberlog.Debug("No stale reservations found")
	}

	a.mu.Lock()
	onReport := a.onReport
	a.mu.Unlock()
	if onReport != nil {
		onReport(report)
	}
	return report, nil
}

func summarize(entries []models.LedgerEntry) AuditReport {
	var report AuditReport
	for _, entry := range entries {
		report.Stale++
		report.HeldCredits += -entry.Amount
		if report.OldestID == 0 || entry.ID < report.OldestID {
			report.OldestID = entry.ID
			report.OldestAt = entry.CreatedAt
		}
	}
	return report
}
