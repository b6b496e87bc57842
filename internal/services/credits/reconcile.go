package credits

import (
	"context"
	"time"

	"github.com/Egham-7/letterpress/internal/models"
)

// Reconcile replays the entry log and compares it with the cached balance.
func (l *Ledger) Reconcile(ctx context.Context, userID string) (*models.ReconcileReport, error) {
	balance, err := l.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	var entries []models.LedgerEntry
	if err := l.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, &models.PersistenceError{Op: "reconcile", Cause: err}
	}

	report := replay(entries)
	report.UserID = userID
	report.Remaining = balance.Remaining
	report.TotalAllocated = balance.TotalAllocated
	report.Consistent = report.BrokenChainAt == 0 &&
		report.ReplayedRemaining == balance.Remaining &&
		report.ReplayedAllocated == balance.TotalAllocated

	return &report, nil
}

func replay(entries []models.LedgerEntry) models.ReconcileReport {
	var report models.ReconcileReport
	var previousAfter int64

	for i, entry := range entries {
		report.Entries++
		report.ReplayedRemaining += entry.Amount

		if entry.Kind == models.LedgerEntryInitialize ||
			(entry.Kind == models.LedgerEntryAdd && entry.Category != models.CategoryRefund) {
			report.ReplayedAllocated += entry.Amount
		}

		if report.BrokenChainAt == 0 {
			if (i > 0 && entry.BalanceBefore != previousAfter) ||
				(i == 0 && entry.BalanceBefore != 0) ||
				entry.BalanceBefore+entry.Amount != entry.BalanceAfter {
				report.BrokenChainAt = entry.ID
			}
		}
		previousAfter = entry.BalanceAfter
	}

	return report
}

// StaleReservations lists reservations still pending after olderThan, oldest first.
func (l *Ledger) StaleReservations(ctx context.Context, olderThan time.Duration, limit int) ([]models.LedgerEntry, error) {
	cutoff := l.now().Add(-olderThan)

	query := l.db.WithContext(ctx).
		Where("kind = ? AND created_at < ?", models.LedgerEntryReserve, cutoff).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, &models.PersistenceError{Op: "stale_reservations", Cause: err}
	}
	return entries, nil
}
