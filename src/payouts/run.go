package payouts

import (
	"carepay/src/config"
	"carepay/src/models"
	"carepay/src/models/scopes"
	"carepay/src/types"
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
)

// Item is one payout a run should attempt.
type Item struct {
	RecipientID uint   `json:"recipient_id"`
	AmountCents int64  `json:"amount_cents"`
	Source      Source `json:"-"`
}

type bookingRow struct {
	BookingID   uint
	CaregiverID uint
	NetCents    int64
}

// EligibleBookingPayouts lists captured bookings whose caregiver has an
// account and whose earnings were not paid out yet.
func (e *Engine) EligibleBookingPayouts(ctx context.Context) ([]Item, error) {
	var rows []bookingRow
	err := e.db.WithContext(ctx).
		Table("payments").
		Select("payments.booking_id, bookings.caregiver_id, payments.net_cents").
		Joins("JOIN bookings ON bookings.id = payments.booking_id AND bookings.deleted_at IS NULL").
		Joins("JOIN providers ON providers.id = bookings.caregiver_id AND providers.stripe_account_id IS NOT NULL").
		Where("payments.status = ? AND bookings.payment_status = ?", types.PAYMENT_COMPLETED, types.BOOKING_PAID).
		Where("payments.deleted_at IS NULL").
		Order("payments.booking_id").
		Scan(&rows).
		Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []Item{}, nil
	}
	items := make([]Item, 0, len(rows))
	keys := make([]string, 0, len(rows))
	for _, r := range rows {
		src := BookingSource(r.BookingID, r.CaregiverID)
		items = append(items, Item{RecipientID: r.CaregiverID, AmountCents: r.NetCents, Source: src})
		keys = append(keys, src.Key)
	}
	var done []string
	err = e.db.WithContext(ctx).
		Model(&models.PayoutTransaction{}).
		Scopes(scopes.WithStatus(types.PAYOUT_COMPLETED)).
		Where("source_key IN ?", keys).
		Pluck("source_key", &done).
		Error
	if err != nil {
		return nil, err
	}
	paid := map[string]bool{}
	for _, k := range done {
		paid[k] = true
	}
	out := items[:0]
	for _, it := range items {
		if !paid[it.Source.Key] {
			out = append(out, it)
		}
	}
	return out, nil
}

// RunScheduled pays every eligible booking plus any extra items. A failing
// recipient is recorded on the run and does not stop the others.
func (e *Engine) RunScheduled(ctx context.Context, at time.Time, frequency string, extra ...Item) (*models.ScheduledPayout, error) {
	items, err := e.EligibleBookingPayouts(ctx)
	if err != nil {
		log.Printf("[Payouts] Error listing eligible payouts: %s\n", err.Error())
		return nil, err
	}
	items = append(items, extra...)

	started := e.now()
	run := models.ScheduledPayout{
		RunDate:       at.UTC().Format(config.DAY_FORMAT),
		Frequency:     frequency,
		Status:        types.RUN_PROCESSING,
		EligibleCount: len(items),
		ErrorLog:      types.JSONBArray{},
		StartedAt:     &started,
	}
	if err := e.db.WithContext(ctx).Create(&run).Error; err != nil {
		return nil, err
	}
	log.Printf("[Payouts] Run %s started with %d eligible payouts\n", run.ID, len(items))

	for _, it := range items {
		payout, err := e.payout(ctx, it.RecipientID, it.AmountCents, it.Source, &run.ID)
		if err == nil {
			run.PaidCount++
			run.TotalCents += payout.AmountCents
			continue
		}
		if errors.Is(err, types.ErrAlreadyProcessed) {
			log.Printf("[Payouts] Run %s skipping %s: already processed\n", run.ID, it.Source.Key)
			continue
		}
		run.FailedCount++
		reason := types.OutcomeFromError(err).Reason
		log.Printf("[Payouts] Run %s payout %s to %d failed: %s\n", run.ID, it.Source.Key, it.RecipientID, err.Error())
		run.ErrorLog = append(run.ErrorLog, map[string]any{
			"recipient_id": it.RecipientID,
			"source_key":   it.Source.Key,
			"reason":       reason,
		})
		e.recordFailure(ctx, run.ID, it, reason)
	}

	switch {
	case run.FailedCount == 0:
		run.Status = types.RUN_COMPLETED
	case run.PaidCount == 0:
		run.Status = types.RUN_FAILED
	default:
		run.Status = types.RUN_PARTIAL
	}
	finished := e.now()
	run.FinishedAt = &finished
	err = e.db.WithContext(ctx).Model(&models.ScheduledPayout{}).Scopes(scopes.WithID(run.ID)).Updates(map[string]any{
		"status":       run.Status,
		"paid_count":   run.PaidCount,
		"failed_count": run.FailedCount,
		"total_cents":  run.TotalCents,
		"error_log":    run.ErrorLog,
		"finished_at":  run.FinishedAt,
	}).Error
	if err != nil {
		log.Printf("[Payouts] Error saving run %s: %s\n", run.ID, err.Error())
		return &run, err
	}
	log.Printf("[Payouts] Run %s %s: paid=%d failed=%d total=%d\n", run.ID, run.Status, run.PaidCount, run.FailedCount, run.TotalCents)
	return &run, nil
}

func (e *Engine) recordFailure(ctx context.Context, runId uuid.UUID, it Item, reason string) {
	now := e.now()
	failed := models.PayoutTransaction{
		RecipientID:       it.RecipientID,
		ScheduledPayoutID: &runId,
		Category:          it.Source.Category,
		SourceKey:         it.Source.Key,
		SourceIDs:         it.Source.ids(),
		GrossCents:        it.AmountCents,
		Currency:          e.cfg.Currency,
		Status:            types.PAYOUT_FAILED,
		FailureReason:     reason,
		InitiatedAt:       now,
		FailedAt:          &now,
	}
	if err := e.db.WithContext(ctx).Create(&failed).Error; err != nil {
		log.Printf("[Payouts] Error recording failed payout %s: %s\n", it.Source.Key, err.Error())
	}
}

// Runs lists the most recent batch runs.
func (e *Engine) Runs(ctx context.Context, limit int) ([]models.ScheduledPayout, error) {
	var runs []models.ScheduledPayout
	err := e.db.WithContext(ctx).Scopes(scopes.Recent(limit)).Find(&runs).Error
	return runs, err
}
