package main

import (
	"carepay/src/boot"
	"carepay/src/db"
	"carepay/src/models"
	"carepay/src/utils"
	"net/http"

	"github.com/gin-gonic/gin"
)

func connectRoutes(g *gin.RouterGroup, s *boot.Services) *gin.RouterGroup {
	provider := func(ctx *gin.Context) *models.Provider {
		p, err := utils.ProviderForUser(db.GetDb().WithContext(ctx.Request.Context()), utils.GetUserId(ctx))
		if err != nil {
			writeError(ctx, err)
			return nil
		}
		return p
	}

	connect := g.Group("/connect")
	connect.
		POST("/onboarding", func(ctx *gin.Context) {
			p := provider(ctx)
			if p == nil {
				return
			}
			url, err := s.Accounts.CreateAccount(ctx.Request.Context(), p.ID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"url": url})
		}).
		GET("/status", func(ctx *gin.Context) {
			p := provider(ctx)
			if p == nil {
				return
			}
			state, err := s.Accounts.Status(ctx.Request.Context(), p.ID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, state)
		}).
		GET("/login_link", func(ctx *gin.Context) {
			p := provider(ctx)
			if p == nil {
				return
			}
			url, err := s.Accounts.LoginLink(ctx.Request.Context(), p.ID)
			if err != nil {
				writeError(ctx, err)
				return
			}
			ctx.JSON(http.StatusOK, gin.H{"url": url})
		})
	return connect
}
