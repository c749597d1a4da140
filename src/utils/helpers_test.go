package utils

import (
	"carepay/src/config"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRange(t *testing.T) {
	from, to, err := DateRange("2026-03-01", "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), to)

	from, to, err = DateRange("2026-03-05", "2026-03-05")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, to.Sub(from))

	from, to, err = DateRange("", "")
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, to.Sub(from))
	assert.True(t, to.After(time.Now()))

	_, _, err = DateRange("2026-03-10", "2026-03-01")
	assert.Error(t, err)
	_, _, err = DateRange("march", "")
	assert.Error(t, err)
}

func TestQueryLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := map[string]int{
		"":           25,
		"?limit=10":  10,
		"?limit=0":   25,
		"?limit=-3":  25,
		"?limit=x":   25,
		"?limit=500": 100,
	}
	for query, want := range cases {
		ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
		ctx.Request = httptest.NewRequest("GET", "/"+query, nil)
		assert.Equal(t, want, QueryLimit(ctx), query)
	}
}

func TestIsProd(t *testing.T) {
	prev := config.API_ENV
	t.Cleanup(func() { config.API_ENV = prev })

	config.API_ENV = "production"
	assert.True(t, IsProd())
	config.API_ENV = "local"
	assert.False(t, IsProd())
}
