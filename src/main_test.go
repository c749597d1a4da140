package main

import (
	"carepay/src/boot"
	"carepay/src/config"
	"carepay/src/db"
	"carepay/src/lib"
	"carepay/src/models"
	"carepay/src/testutils"
	"carepay/src/types"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
	"gorm.io/gorm"
)

const (
	jwtSecret     = "secret"
	webhookSecret = "whsec_test"

	adminId     uint = 1
	payerId     uint = 7
	caregiverId uint = 11
)

type TestSuite struct {
	suite.Suite
	DB     *gorm.DB
	GW     *testutils.FakeGateway
	Router *gin.Engine
}

func (s *TestSuite) SetupSuite() {
	gin.SetMode(gin.TestMode)
	os.Setenv("JWT_SECRET", jwtSecret)
	registerValidators()
}

func (s *TestSuite) SetupTest() {
	d := testutils.NewTestDB(s.T())
	db.NewDB(d)
	s.DB = d
	s.GW = testutils.NewFakeGateway()

	key, err := lib.GenerateKey()
	require.NoError(s.T(), err)
	cipher, err := lib.NewCipherFromHex(key)
	require.NoError(s.T(), err)
	services := boot.NewServices(boot.Deps{
		DB:            d,
		Gateway:       s.GW,
		Config:        config.DefaultPayments(),
		Cipher:        cipher,
		SigningSecret: webhookSecret,
	})

	require.NoError(s.T(), d.Create(&models.User{ID: adminId, Name: "Ops", Email: "ops@example.com", Role: "admin"}).Error)
	require.NoError(s.T(), d.Create(&models.User{ID: caregiverId, Name: "Carer", Email: "carer@example.com", Role: "caregiver"}).Error)
	testutils.CreatePayer(s.T(), d, payerId, "US")
	testutils.CreateProvider(s.T(), d, caregiverId, types.ROLE_CAREGIVER, "")
	testutils.CreateBooking(s.T(), d, 42, payerId, caregiverId, 10000)
	s.GW.AddCard("pm_card", "US")

	s.Router = setupRouter()
	s.Router = maintenanceModeMiddleware(s.Router)
	registerRoutes(s.Router, services)
}

func generateJWT(userId uint) (string, error) {
	claims := types.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userId), 10),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(jwtSecret))
}

func (s *TestSuite) request(method, url string, body string, userId uint) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	var req *http.Request
	if body != "" {
		req, _ = http.NewRequest(method, url, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req, _ = http.NewRequest(method, url, nil)
	}
	if userId > 0 {
		token, err := generateJWT(userId)
		require.NoError(s.T(), err)
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", token))
	}
	s.Router.ServeHTTP(w, req)
	return w
}

func (s *TestSuite) pay() *httptest.ResponseRecorder {
	return s.request("POST", "/api/v1/bookings/42/pay", `{"payment_method_id":"pm_card"}`, payerId)
}

func (s *TestSuite) TestPingRoute() {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/", nil)
	s.Router.ServeHTTP(w, req)

	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(s.T(), "no-store", w.Header().Get("Cache-Control"))
}

func (s *TestSuite) TestMaintenanceMode() {
	s.T().Setenv("MAINTENANCE_MODE", "true")

	w := s.request("GET", "/api/v1/payment_methods", "", payerId)
	assert.Equal(s.T(), 503, w.Code)
}

func (s *TestSuite) TestWebhookSignature() {
	payload := []byte(`{"id":"evt_1","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/webhook/stripe", strings.NewReader(string(payload)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	s.Router.ServeHTTP(w, req)
	assert.Equal(s.T(), 400, w.Code)

	var count int64
	s.DB.Model(&models.WebhookEvent{}).Count(&count)
	assert.Zero(s.T(), count)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: webhookSecret})
	for i, duplicate := range []bool{false, true} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/api/v1/webhook/stripe", strings.NewReader(string(signed.Payload)))
		req.Header.Set("Stripe-Signature", signed.Header)
		s.Router.ServeHTTP(w, req)
		assert.Equal(s.T(), 200, w.Code, "delivery %d", i)
		assert.Equal(s.T(), "skipped", gjson.Get(w.Body.String(), "status").String())
		assert.Equal(s.T(), duplicate, gjson.Get(w.Body.String(), "duplicate").Bool())
	}
}

func (s *TestSuite) TestPayBooking() {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/api/v1/bookings/42/pay", strings.NewReader(`{"payment_method_id":"pm_card"}`))
	s.Router.ServeHTTP(w, req)
	assert.Equal(s.T(), 401, w.Code)

	w = s.request("POST", "/api/v1/bookings/42/pay", `{}`, payerId)
	assert.Equal(s.T(), 400, w.Code)

	w = s.pay()
	assert.Equal(s.T(), 200, w.Code, w.Body.String())
	assert.True(s.T(), gjson.Get(w.Body.String(), "success").Bool())
	assert.NotEmpty(s.T(), gjson.Get(w.Body.String(), "reference").String())

	w = s.pay()
	assert.Equal(s.T(), 409, w.Code)
	assert.Equal(s.T(), "booking already paid", gjson.Get(w.Body.String(), "reason").String())

	w = s.request("POST", "/api/v1/bookings/99/pay", `{"payment_method_id":"pm_card"}`, payerId)
	assert.Equal(s.T(), 404, w.Code)
}

func (s *TestSuite) TestPaymentMethods() {
	w := s.request("POST", "/api/v1/payment_methods", `{"payment_method_id":"pm_card"}`, payerId)
	assert.Equal(s.T(), 201, w.Code, w.Body.String())
	assert.Equal(s.T(), "4242", gjson.Get(w.Body.String(), "last4").String())

	w = s.request("GET", "/api/v1/payment_methods", "", payerId)
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), int64(1), gjson.Get(w.Body.String(), "payment_methods.#").Int())

	s.GW.AddCard("pm_other", "US")
	w = s.request("DELETE", "/api/v1/payment_methods/pm_other", "", payerId)
	assert.Equal(s.T(), 404, w.Code)

	w = s.request("DELETE", "/api/v1/payment_methods/pm_card", "", payerId)
	assert.Equal(s.T(), 204, w.Code)
}

func (s *TestSuite) TestConnectOnboarding() {
	w := s.request("POST", "/api/v1/connect/onboarding", "", caregiverId)
	assert.Equal(s.T(), 200, w.Code, w.Body.String())
	assert.Contains(s.T(), gjson.Get(w.Body.String(), "url").String(), "https://connect.example.com/setup/")

	w = s.request("GET", "/api/v1/connect/status", "", caregiverId)
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), "incomplete", gjson.Get(w.Body.String(), "status").String())
	assert.True(s.T(), gjson.Get(w.Body.String(), "has_account").Bool())

	w = s.request("GET", "/api/v1/connect/login_link", "", caregiverId)
	assert.Equal(s.T(), 200, w.Code)

	w = s.request("GET", "/api/v1/connect/status", "", payerId)
	assert.Equal(s.T(), 404, w.Code)
}

func (s *TestSuite) TestAdminRequiresRole() {
	w := s.request("GET", "/api/v1/admin/balance", "", payerId)
	assert.Equal(s.T(), 403, w.Code)

	w = s.request("GET", "/api/v1/admin/balance", "", adminId)
	assert.Equal(s.T(), 200, w.Code)
	assert.False(s.T(), gjson.Get(w.Body.String(), "partial").Bool())
	assert.True(s.T(), gjson.Get(w.Body.String(), "data.ledger").Exists())

	s.GW.BalanceErr = testutils.Transient("timeout")
	w = s.request("GET", "/api/v1/admin/balance", "", adminId)
	assert.Equal(s.T(), 200, w.Code)
	assert.True(s.T(), gjson.Get(w.Body.String(), "partial").Bool())
}

func (s *TestSuite) TestAdminRefund() {
	require.Equal(s.T(), 200, s.pay().Code)
	var p models.Payment
	require.NoError(s.T(), s.DB.First(&p).Error)

	w := s.request("POST", "/api/v1/admin/refunds", fmt.Sprintf(`{"charge_id":"%s","reason":"changed_mind"}`, p.ProviderChargeID), adminId)
	assert.Equal(s.T(), 400, w.Code)

	w = s.request("POST", "/api/v1/admin/refunds", fmt.Sprintf(`{"charge_id":"%s","amount_cents":5000,"reason":"requested_by_customer"}`, p.ProviderChargeID), adminId)
	assert.Equal(s.T(), 200, w.Code, w.Body.String())

	w = s.request("POST", "/api/v1/admin/refunds", fmt.Sprintf(`{"charge_id":"%s","amount_cents":999999}`, p.ProviderChargeID), adminId)
	assert.Equal(s.T(), 409, w.Code)
	assert.Contains(s.T(), gjson.Get(w.Body.String(), "reason").String(), "refund exceeds remaining amount")

	w = s.request("GET", "/api/v1/admin/payments/"+p.ProviderChargeID, "", adminId)
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), int64(5000), gjson.Get(w.Body.String(), "data.payment.refunded_cents").Int())
	assert.Equal(s.T(), "partial_refund", gjson.Get(w.Body.String(), "data.payment.status").String())

	w = s.request("GET", "/api/v1/admin/payments/ch_missing", "", adminId)
	assert.Equal(s.T(), 404, w.Code)
}

func (s *TestSuite) TestAdminPayoutValidation() {
	w := s.request("POST", "/api/v1/admin/payouts", `{"recipient_id":11,"amount_cents":500,"category":"referral_commission"}`, adminId)
	assert.Equal(s.T(), 400, w.Code)

	w = s.request("POST", "/api/v1/admin/payouts", `{"recipient_id":11,"amount_cents":500,"category":"referral_commission","referral_code":"CARE10","referred_user_id":7}`, adminId)
	assert.Equal(s.T(), 409, w.Code)
	assert.Equal(s.T(), types.ErrNoAccount.Error(), gjson.Get(w.Body.String(), "reason").String())
}

func (s *TestSuite) TestDashboardRange() {
	w := s.request("GET", "/api/v1/admin/dashboard?from=2026-03-10&to=2026-03-01", "", adminId)
	assert.Equal(s.T(), 400, w.Code)

	w = s.request("GET", "/api/v1/admin/dashboard?from=2026-03-01&to=bad", "", adminId)
	assert.Equal(s.T(), 400, w.Code)

	require.Equal(s.T(), 200, s.pay().Code)
	w = s.request("GET", "/api/v1/admin/dashboard", "", adminId)
	assert.Equal(s.T(), 200, w.Code)
	assert.Equal(s.T(), int64(1), gjson.Get(w.Body.String(), "data.payment_count").Int())
}

func TestRunner(t *testing.T) {
	suite.Run(t, new(TestSuite))
}
