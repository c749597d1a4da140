package main

import (
	"carepay/src/boot"
	"carepay/src/utils"
	"net/http"

	"github.com/gin-gonic/gin"
)

type PayBookingRequestBody struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

type SavePaymentMethodRequestBody struct {
	PaymentMethodID string `json:"payment_method_id" binding:"required"`
}

func paymentRoutes(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.POST("/bookings/:id/pay", func(ctx *gin.Context) {
		var params struct {
			ID uint `uri:"id" binding:"required"`
		}
		if err := ctx.ShouldBindUri(&params); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var body PayBookingRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out := s.Payments.ProcessBookingPayment(ctx.Request.Context(), utils.GetUserId(ctx), params.ID, body.PaymentMethodID, nil)
		writeOutcome(ctx, out)
	})

	methods := g.Group("/payment_methods")
	methods.
		GET("", func(ctx *gin.Context) {
			list, err := s.Payments.ListPaymentMethods(ctx.Request.Context(), utils.GetUserId(ctx))
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"payment_methods": list})
		}).
		POST("", func(ctx *gin.Context) {
			var body SavePaymentMethodRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			pm, err := s.Payments.SavePaymentMethod(ctx.Request.Context(), utils.GetUserId(ctx), body.PaymentMethodID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusCreated, pm)
		}).
		DELETE("/:pmId", func(ctx *gin.Context) {
			if err := s.Payments.RemovePaymentMethod(ctx.Request.Context(), utils.GetUserId(ctx), ctx.Param("pmId")); err != nil {
				writeError(ctx, err)
				return
			}
			ctx.Status(http.StatusNoContent)
		})
	return g
}
