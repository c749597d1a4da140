package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadPaymentsScheduleOverrides(t *testing.T) {
	t.Setenv("PAYOUT_RUN_HOUR_UTC", "14")
	t.Setenv("SNAPSHOT_HOUR_UTC", "1")
	t.Setenv("SNAPSHOT_MINUTE_UTC", "45")
	t.Setenv("WEBHOOK_LEASE", "2m")

	p := LoadPayments()
	assert.Equal(t, uint(14), p.PayoutRunHourUTC)
	assert.Equal(t, uint(1), p.SnapshotHourUTC)
	assert.Equal(t, uint(45), p.SnapshotMinuteUTC)
	assert.Equal(t, 2*time.Minute, p.WebhookLease)
}

func TestLoadPaymentsIgnoresOutOfRangeSchedule(t *testing.T) {
	t.Setenv("PAYOUT_RUN_HOUR_UTC", "24")
	t.Setenv("SNAPSHOT_HOUR_UTC", "-1")
	t.Setenv("SNAPSHOT_MINUTE_UTC", "sixty")

	p := LoadPayments()
	def := DefaultPayments()
	assert.Equal(t, def.PayoutRunHourUTC, p.PayoutRunHourUTC)
	assert.Equal(t, def.SnapshotHourUTC, p.SnapshotHourUTC)
	assert.Equal(t, def.SnapshotMinuteUTC, p.SnapshotMinuteUTC)
}
