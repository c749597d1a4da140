package main

import (
	"carepay/src/boot"
	"carepay/src/webhooks"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
)

// maxWebhookBody matches the provider's largest event payload with headroom.
const maxWebhookBody = int64(65536)

func stripeWebhookRoute(g *gin.Engine, s *boot.Services) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	apiv1.POST("/webhook/stripe", func(ctx *gin.Context) {
		payload, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxWebhookBody))
		if err != nil {
			log.Printf("Error reading request body: %s\n", err.Error())
			ctx.Status(http.StatusServiceUnavailable)
			return
		}
		receipt, err := s.Webhooks.Receive(ctx.Request.Context(), payload, ctx.GetHeader("Stripe-Signature"))
		if err != nil {
			if errors.Is(err, webhooks.ErrInvalidSignature) {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
				return
			}
			log.Printf("[StripeEvent] Error receiving event: %s\n", err.Error())
			ctx.Status(http.StatusInternalServerError)
			return
		}
		log.Printf("[StripeEvent] %s %s %s\n", receipt.EventType, receipt.EventID, receipt.Status)
		ctx.JSON(http.StatusOK, receipt)
	})
	return apiv1
}
