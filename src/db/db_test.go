package db

import (
	"carepay/src/testutils"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDBOverridesShared(t *testing.T) {
	gormDB, _ := testutils.NewMockDB()
	NewDB(gormDB)
	defer NewDB(nil)

	assert.Same(t, gormDB, GetDb())
	assert.Equal(t, "postgres", GetDb().Name())
}
