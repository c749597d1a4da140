package utils

import (
	"carepay/src/config"
	"carepay/src/models"
	"carepay/src/types"
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func IsProd() bool {
	return types.AppEnv(config.API_ENV) == types.Production
}

// GetUserId returns the authenticated user id set by the auth middleware.
func GetUserId(ctx *gin.Context) uint {
	return ctx.GetUint("id")
}

// ProviderForUser finds the provider profile owned by a user.
func ProviderForUser(db *gorm.DB, userId uint) (*models.Provider, error) {
	var p models.Provider
	if err := db.Where("user_id = ?", userId).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func QueryLimit(ctx *gin.Context) int {
	limit, err := strconv.Atoi(ctx.DefaultQuery("limit", "25"))
	if err != nil || limit <= 0 {
		return 25
	}
	return min(limit, 100)
}

// DateRange parses from/to as YYYY-MM-DD, defaulting to the last 30 days.
// The range is [from, to+1 day).
func DateRange(from, to string) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	end := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	start := end.AddDate(0, 0, -30)
	if to != "" {
		t, err := time.Parse(config.DAY_FORMAT, to)
		if err != nil {
			return start, end, err
		}
		end = t.Add(24 * time.Hour)
	}
	if from != "" {
		f, err := time.Parse(config.DAY_FORMAT, from)
		if err != nil {
			return start, end, err
		}
		start = f
	}
	if !start.Before(end) {
		return start, end, errors.New("from must not be after to")
	}
	return start, end, nil
}
