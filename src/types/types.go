package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"gorm.io/gorm"
)

type Timestamps struct {
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at,omitempty"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at,omitempty"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty,omitnil"`
}

type JSONB map[string]any
type JSONBArray []any

func scanBytes(value any) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	}
	return nil, errors.New("type assertion to []byte failed")
}

func (a JSONB) Value() (driver.Value, error) {
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONB) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*a = JSONB{}
		return nil
	}
	return json.Unmarshal(b, a)
}

func (a JSONBArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	valueString, err := json.Marshal(a)
	return string(valueString), err
}
func (a *JSONBArray) Scan(value any) error {
	b, err := scanBytes(value)
	if err != nil {
		return err
	}
	if len(b) == 0 {
		*a = JSONBArray{}
		return nil
	}
	return json.Unmarshal(b, a)
}

// Strings returns the string members of the array, skipping anything else.
func (a JSONBArray) Strings() []string {
	out := make([]string, 0, len(a))
	for _, v := range a {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

type AppEnv string

const (
	Local      AppEnv = "local"
	Test       AppEnv = "test"
	Production AppEnv = "production"
)

type PaymentStatus string

const (
	PAYMENT_PENDING        PaymentStatus = "pending"
	PAYMENT_COMPLETED      PaymentStatus = "completed"
	PAYMENT_REFUNDED       PaymentStatus = "refunded"
	PAYMENT_PARTIAL_REFUND PaymentStatus = "partial_refund"
	PAYMENT_FAILED         PaymentStatus = "failed"
)

type BookingPaymentStatus string

const (
	BOOKING_UNPAID         BookingPaymentStatus = "unpaid"
	BOOKING_PAID           BookingPaymentStatus = "paid"
	BOOKING_REFUNDED       BookingPaymentStatus = "refunded"
	BOOKING_PARTIAL_REFUND BookingPaymentStatus = "partial_refund"
)

type PayoutStatus string

const (
	PAYOUT_PENDING   PayoutStatus = "pending"
	PAYOUT_COMPLETED PayoutStatus = "completed"
	PAYOUT_FAILED    PayoutStatus = "failed"
)

type PayoutCategory string

const (
	BOOKING_EARNINGS    PayoutCategory = "booking_earnings"
	REFERRAL_COMMISSION PayoutCategory = "referral_commission"
	TRAINING_BONUS      PayoutCategory = "training_bonus"
)

func (c PayoutCategory) Valid() bool {
	switch c {
	case BOOKING_EARNINGS, REFERRAL_COMMISSION, TRAINING_BONUS:
		return true
	}
	return false
}

type RunStatus string

const (
	RUN_PENDING    RunStatus = "pending"
	RUN_PROCESSING RunStatus = "processing"
	RUN_COMPLETED  RunStatus = "completed"
	RUN_PARTIAL    RunStatus = "partial"
	RUN_FAILED     RunStatus = "failed"
)

type WebhookStatus string

const (
	WEBHOOK_RECEIVED   WebhookStatus = "received"
	WEBHOOK_PROCESSING WebhookStatus = "processing"
	WEBHOOK_PROCESSED  WebhookStatus = "processed"
	WEBHOOK_FAILED     WebhookStatus = "failed"
	WEBHOOK_SKIPPED    WebhookStatus = "skipped"
)

type AccountStatus string

const (
	ACCOUNT_NOT_STARTED AccountStatus = "not_started"
	ACCOUNT_PENDING     AccountStatus = "pending"
	ACCOUNT_INCOMPLETE  AccountStatus = "incomplete"
	ACCOUNT_ACTIVE      AccountStatus = "active"
)

type ProviderRole string

const (
	ROLE_CAREGIVER       ProviderRole = "caregiver"
	ROLE_MARKETING       ProviderRole = "marketing_partner"
	ROLE_TRAINING_CENTER ProviderRole = "training_center"
)

type Claims struct {
	Username    string   `json:"username"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}
