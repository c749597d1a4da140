package main

import (
	"carepay/src/boot"
	"carepay/src/ledger"
	"carepay/src/payouts"
	"carepay/src/types"
	"carepay/src/utils"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type RefundRequestBody struct {
	ChargeID    string `json:"charge_id" binding:"required"`
	AmountCents int64  `json:"amount_cents" binding:"omitempty,min=1"`
	Reason      string `json:"reason" binding:"omitempty,refundreason"`
}

type PayoutRequestBody struct {
	RecipientID    uint                 `json:"recipient_id" binding:"required"`
	AmountCents    int64                `json:"amount_cents" binding:"required,min=1"`
	Category       types.PayoutCategory `json:"category" binding:"required,oneof=booking_earnings referral_commission training_bonus"`
	BookingID      uint                 `json:"booking_id" binding:"required_if=Category booking_earnings"`
	ReferralCode   string               `json:"referral_code" binding:"required_if=Category referral_commission"`
	ReferredUserID uint                 `json:"referred_user_id" binding:"required_if=Category referral_commission"`
	TrainingID     uint                 `json:"training_id" binding:"required_if=Category training_bonus"`
}

func (b *PayoutRequestBody) Source() payouts.Source {
	switch b.Category {
	case types.REFERRAL_COMMISSION:
		return payouts.ReferralSource(b.ReferralCode, b.ReferredUserID)
	case types.TRAINING_BONUS:
		return payouts.TrainingSource(b.TrainingID, b.RecipientID)
	}
	return payouts.BookingSource(b.BookingID, b.RecipientID)
}

type ReconcileRequestBody struct {
	IDs []string `json:"ids" binding:"required,min=1,dive,uuid"`
}

type DateRangeQuery struct {
	From string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To   string `form:"to" binding:"omitempty,datetime=2006-01-02,notbefore=From"`
}

func adminRoutes(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	g.POST("/refunds", func(ctx *gin.Context) {
		var body RefundRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		out := s.Admin.Refund(ctx.Request.Context(), body.ChargeID, body.AmountCents, body.Reason, ctx.GetString("email"))
		writeOutcome(ctx, out)
	})

	g.
		POST("/payouts", func(ctx *gin.Context) {
			var body PayoutRequestBody
			if err := ctx.ShouldBindJSON(&body); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			out := s.Payouts.Payout(ctx.Request.Context(), body.RecipientID, body.AmountCents, body.Source())
			writeOutcome(ctx, out)
		}).
		POST("/payouts/run", func(ctx *gin.Context) {
			run, err := s.Payouts.RunScheduled(ctx.Request.Context(), time.Now().UTC(), "manual")
			if err != nil && run == nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, run)
		}).
		GET("/payouts/runs", func(ctx *gin.Context) {
			runs, err := s.Payouts.Runs(ctx.Request.Context(), utils.QueryLimit(ctx))
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"runs": runs})
		})

	g.
		GET("/payments", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.Admin.RecentPayments(ctx.Request.Context(), utils.QueryLimit(ctx)))
		}).
		GET("/payments/:chargeId", func(ctx *gin.Context) {
			detail, err := s.Admin.PaymentByCharge(ctx.Request.Context(), ctx.Param("chargeId"))
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, detail)
		}).
		GET("/transfers", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.Admin.RecentTransfers(ctx.Request.Context(), utils.QueryLimit(ctx)))
		}).
		GET("/balance", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.Admin.Balance(ctx.Request.Context()))
		}).
		GET("/dashboard", func(ctx *gin.Context) {
			var q DateRangeQuery
			if err := ctx.ShouldBindQuery(&q); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			from, to, err := utils.DateRange(q.From, q.To)
			if err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			ctx.JSON(http.StatusOK, s.Admin.Dashboard(ctx.Request.Context(), from, to))
		})

	accounts := g.Group("/accounts")
	accounts.
		GET("", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.Admin.Accounts(ctx.Request.Context()))
		}).
		POST("/resync", func(ctx *gin.Context) {
			ctx.JSON(http.StatusOK, s.Admin.ResyncAccounts(ctx.Request.Context()))
		}).
		GET("/:id", func(ctx *gin.Context) {
			var params struct {
				ID uint `uri:"id" binding:"required"`
			}
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			state, err := s.Admin.Account(ctx.Request.Context(), params.ID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, state)
		}).
		DELETE("/:id", func(ctx *gin.Context) {
			var params struct {
				ID uint `uri:"id" binding:"required"`
			}
			if err := ctx.ShouldBindUri(&params); err != nil {
				ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			if err := s.Admin.DeleteAccount(ctx.Request.Context(), params.ID); err != nil {
				writeError(ctx, err)
				return
			}
			ctx.Status(http.StatusNoContent)
		})

	g.POST("/ledger/reconcile", func(ctx *gin.Context) {
		var body ReconcileRequestBody
		if err := ctx.ShouldBindJSON(&body); err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		n, err := s.Admin.ReconcileEntries(ctx.Request.Context(), body.IDs, ctx.GetString("email"))
		if err != nil {
			writeError(ctx, err)
			return
		}
		ctx.JSON(http.StatusOK, gin.H{"reconciled": n})
	})

	g.
		GET("/snapshots", func(ctx *gin.Context) {
			snaps, err := s.Admin.Snapshots(ctx.Request.Context(), utils.QueryLimit(ctx))
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"snapshots": snaps})
		}).
		POST("/snapshots/run", func(ctx *gin.Context) {
			snap, created, err := s.Admin.RunSnapshot(ctx.Request.Context())
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"snapshot": snap, "created": created})
		}).
		POST("/snapshots/:date/reconcile", func(ctx *gin.Context) {
			snap, err := s.Admin.ReconcileSnapshot(ctx.Request.Context(), ctx.Param("date"), ctx.GetString("email"))
			if err != nil {
				if errors.Is(err, ledger.ErrSnapshotNotFound) {
					ctx.JSON(http.StatusNotFound, gin.H{"error": types.ErrNotFound.Error()})
					return
				}
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, snap)
		})

	g.
		GET("/webhooks/failed", func(ctx *gin.Context) {
			events, err := s.Webhooks.Ledger().Exhausted(ctx.Request.Context())
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"events": events})
		}).
		POST("/webhooks/retry", func(ctx *gin.Context) {
			res, err := s.Webhooks.RetrySweep(ctx.Request.Context())
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, res)
		})
	return g
}
