package testutils

import (
	"carepay/src/models"
	"carepay/src/types"
	"testing"

	"gorm.io/gorm"
)

func CreatePayer(t *testing.T, db *gorm.DB, id uint, country string) *models.User {
	t.Helper()
	u := models.User{ID: id, Name: "Payer", Email: "payer@example.com", Role: "client", Country: country}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create payer: %s", err)
	}
	return &u
}

// CreateProvider inserts a provider with an active connected account when
// accountId is not empty.
func CreateProvider(t *testing.T, db *gorm.DB, id uint, role types.ProviderRole, accountId string) *models.Provider {
	t.Helper()
	p := models.Provider{ID: id, UserID: id, Name: "Provider", Email: "provider@example.com", Role: role, AccountStatus: types.ACCOUNT_NOT_STARTED}
	if accountId != "" {
		p.StripeAccountID = &accountId
		p.AccountStatus = types.ACCOUNT_ACTIVE
		p.ChargesEnabled = true
		p.PayoutsEnabled = true
	}
	if err := db.Create(&p).Error; err != nil {
		t.Fatalf("create provider: %s", err)
	}
	return &p
}

func CreateBooking(t *testing.T, db *gorm.DB, id, payerId, caregiverId uint, totalCents int64) *models.Booking {
	t.Helper()
	b := models.Booking{ID: id, PayerID: payerId, CaregiverID: caregiverId, Status: "confirmed", TotalCents: totalCents, Currency: "usd", PaymentStatus: types.BOOKING_UNPAID}
	if err := db.Create(&b).Error; err != nil {
		t.Fatalf("create booking: %s", err)
	}
	return &b
}
