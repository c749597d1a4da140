package boot

import (
	"carepay/src/config"
	"carepay/src/lib"
	"carepay/src/testutils"
	"carepay/src/types"
	"carepay/src/webhooks"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

func newServices(t *testing.T) *Services {
	key, err := lib.GenerateKey()
	require.NoError(t, err)
	cipher, err := lib.NewCipherFromHex(key)
	require.NoError(t, err)
	return NewServices(Deps{
		DB:            testutils.NewTestDB(t),
		Gateway:       testutils.NewFakeGateway(),
		Config:        config.DefaultPayments(),
		Cipher:        cipher,
		SigningSecret: "whsec_boot",
	})
}

func deliver(t *testing.T, s *Services, id, eventType, object string) *webhooks.Receipt {
	payload := []byte(fmt.Sprintf(`{"id":"%s","object":"event","type":"%s","data":{"object":%s}}`, id, eventType, object))
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: payload, Secret: "whsec_boot"})
	rec, err := s.Webhooks.Receive(context.Background(), sp.Payload, sp.Header)
	require.NoError(t, err)
	return rec
}

func TestNewServicesRoutesConsumedEvents(t *testing.T) {
	s := newServices(t)

	objects := map[string]string{
		"payment_intent.succeeded":      `{"id":"pi_1","object":"payment_intent"}`,
		"payment_intent.payment_failed": `{"id":"pi_2","object":"payment_intent"}`,
		"charge.refunded":               `{"id":"ch_unknown","object":"charge","amount_refunded":100}`,
		"account.updated":               `{"id":"acct_unknown","object":"account"}`,
		"transfer.reversed":             `{"id":"tr_unknown","object":"transfer"}`,
	}
	i := 0
	for eventType, object := range objects {
		i++
		rec := deliver(t, s, fmt.Sprintf("evt_%d", i), eventType, object)
		assert.NotEqual(t, types.WEBHOOK_SKIPPED, rec.Status, eventType)
	}

	rec := deliver(t, s, "evt_other", "customer.created", `{"id":"cus_1","object":"customer"}`)
	assert.Equal(t, types.WEBHOOK_SKIPPED, rec.Status)
}
