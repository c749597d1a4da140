package models

// All is every table owned or read by the money core, in migration order.
func All() []any {
	return []any{
		&User{},
		&Provider{},
		&Booking{},
		&Payment{},
		&ScheduledPayout{},
		&PayoutTransaction{},
		&PayoutVerification{},
		&Commission{},
		&WebhookEvent{},
		&LedgerEntry{},
		&DailyBalanceSnapshot{},
	}
}
