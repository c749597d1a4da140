package scopes

import (
	"carepay/src/testutils"
	"carepay/src/types"
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"
)

type row struct {
	ID     uint
	Status types.PayoutStatus
}

func dryRun() *gorm.DB {
	db, _ := testutils.NewMockDB()
	return db.Session(&gorm.Session{DryRun: true})
}

func TestScopesBuildFilters(t *testing.T) {
	db := dryRun()

	stmt := db.Model(&row{}).Scopes(WithID(uint(4))).Find(&[]row{}).Statement
	assert.Equal(t, `SELECT * FROM "rows" WHERE id = $1`, stmt.SQL.String())

	stmt = db.Model(&row{}).Scopes(WithIDs(uint(1), uint(2))).Find(&[]row{}).Statement
	assert.Equal(t, `SELECT * FROM "rows" WHERE id IN ($1,$2)`, stmt.SQL.String())

	stmt = db.Model(&row{}).Scopes(WithStatus(types.PAYOUT_COMPLETED, types.PAYOUT_FAILED)).Find(&[]row{}).Statement
	assert.Equal(t, `SELECT * FROM "rows" WHERE status IN ($1,$2)`, stmt.SQL.String())
	assert.Equal(t, []any{types.PAYOUT_COMPLETED, types.PAYOUT_FAILED}, stmt.Vars)
}
