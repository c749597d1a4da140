package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var API_ENV = os.Getenv("API_ENV")

func GetDSN() string {
	DATABASE_HOST := os.Getenv("DATABASE_HOST")
	DATABASE_PORT := os.Getenv("DATABASE_PORT")
	DATABASE_SSLMODE := os.Getenv("DATABASE_SSLMODE")
	DATABASE_TIMEZONE := os.Getenv("DATABASE_TIMEZONE")
	DATABASE_USER := os.Getenv("DATABASE_USER")
	DATABASE_PASSWORD := os.Getenv("DATABASE_PASSWORD")
	DATABASE_NAME := os.Getenv("DATABASE_NAME")
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s", DATABASE_HOST, DATABASE_USER, DATABASE_PASSWORD, DATABASE_NAME, DATABASE_PORT, DATABASE_SSLMODE, DATABASE_TIMEZONE)
	return dsn
}

const DAY_FORMAT = "2006-01-02"

// Payments holds every tunable of the money-movement core.
type Payments struct {
	Currency        string
	PlatformCountry string

	DomesticRate          decimal.Decimal
	DomesticFixed         decimal.Decimal
	InternationalRate     decimal.Decimal
	InternationalFixed    decimal.Decimal
	PlatformCommissionPct decimal.Decimal

	WebhookMaxRetries     int
	ProviderTimeout       time.Duration
	ProviderNetworkRetry  int64
	PayoutRunHourUTC      uint
	SnapshotHourUTC       uint
	SnapshotMinuteUTC     uint
	WebhookSweepInterval  time.Duration
	WebhookLease          time.Duration
	DashboardCacheTTL     time.Duration
	OnboardingReturnURL   string
	OnboardingRefreshURL  string
	PayloadKeySecretID    string
	SnapshotArchiveBucket string
	AlertTopicArn         string
	EventsQueue           string
}

// DefaultPayments returns the configuration used when no override is set.
func DefaultPayments() *Payments {
	return &Payments{
		Currency:              "usd",
		PlatformCountry:       "US",
		DomesticRate:          decimal.RequireFromString("0.029"),
		DomesticFixed:         decimal.RequireFromString("0.30"),
		InternationalRate:     decimal.RequireFromString("0.044"),
		InternationalFixed:    decimal.RequireFromString("0.30"),
		PlatformCommissionPct: decimal.RequireFromString("0.10"),
		WebhookMaxRetries:     5,
		ProviderTimeout:       30 * time.Second,
		ProviderNetworkRetry:  2,
		PayoutRunHourUTC:      6,
		SnapshotHourUTC:       0,
		SnapshotMinuteUTC:     15,
		WebhookSweepInterval:  10 * time.Minute,
		WebhookLease:          5 * time.Minute,
		DashboardCacheTTL:     5 * time.Minute,
		EventsQueue:           "MoneyMovementEvents",
	}
}

// LoadPayments reads overrides from the environment on top of DefaultPayments.
func LoadPayments() *Payments {
	p := DefaultPayments()
	p.Currency = getEnv("PAYMENTS_CURRENCY", p.Currency)
	p.PlatformCountry = getEnv("PAYMENTS_PLATFORM_COUNTRY", p.PlatformCountry)
	p.DomesticRate = getDecimal("FEE_DOMESTIC_RATE", p.DomesticRate)
	p.DomesticFixed = getDecimal("FEE_DOMESTIC_FIXED", p.DomesticFixed)
	p.InternationalRate = getDecimal("FEE_INTERNATIONAL_RATE", p.InternationalRate)
	p.InternationalFixed = getDecimal("FEE_INTERNATIONAL_FIXED", p.InternationalFixed)
	p.PlatformCommissionPct = getDecimal("PLATFORM_COMMISSION_PCT", p.PlatformCommissionPct)
	p.WebhookMaxRetries = getInt("WEBHOOK_MAX_RETRIES", p.WebhookMaxRetries)
	p.ProviderTimeout = getDuration("STRIPE_TIMEOUT", p.ProviderTimeout)
	p.ProviderNetworkRetry = int64(getInt("STRIPE_NETWORK_RETRIES", int(p.ProviderNetworkRetry)))
	p.WebhookSweepInterval = getDuration("WEBHOOK_SWEEP_INTERVAL", p.WebhookSweepInterval)
	p.WebhookLease = getDuration("WEBHOOK_LEASE", p.WebhookLease)
	p.PayoutRunHourUTC = getUint("PAYOUT_RUN_HOUR_UTC", p.PayoutRunHourUTC, 23)
	p.SnapshotHourUTC = getUint("SNAPSHOT_HOUR_UTC", p.SnapshotHourUTC, 23)
	p.SnapshotMinuteUTC = getUint("SNAPSHOT_MINUTE_UTC", p.SnapshotMinuteUTC, 59)
	p.DashboardCacheTTL = getDuration("DASHBOARD_CACHE_TTL", p.DashboardCacheTTL)
	p.OnboardingReturnURL = fmt.Sprint(os.Getenv("APP_HOST"), "/dashboard/payouts")
	p.OnboardingRefreshURL = fmt.Sprint(os.Getenv("APP_HOST"), "/callback/account/refresh")
	p.PayloadKeySecretID = os.Getenv("PAYLOAD_KEY_SECRET_ID")
	p.SnapshotArchiveBucket = os.Getenv("S3_SNAPSHOT_BUCKET")
	p.AlertTopicArn = os.Getenv("SNS_ALERT_TOPIC_ARN")
	p.EventsQueue = getEnv("EVENTS_QUEUE", p.EventsQueue)
	return p
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// getUint keeps def for values that do not parse or exceed limit.
func getUint(key string, def uint, limit uint) uint {
	v, err := strconv.ParseUint(os.Getenv(key), 10, 0)
	if err != nil || uint(v) > limit {
		return def
	}
	return uint(v)
}

func getDecimal(key string, def decimal.Decimal) decimal.Decimal {
	v, err := decimal.NewFromString(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

func getDuration(key string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}
