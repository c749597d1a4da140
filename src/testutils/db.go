package testutils

import (
	"carepay/src/models"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory sqlite database with every model
// migrated. A single connection means concurrent transactions serialize.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared&_busy_timeout=5000", name, uuid.NewString()[:8])
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("An error '%s' was not expected when opening sqlite database", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		t.Fatalf("An error '%s' was not expected when reading sql.DB", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := gormDB.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("An error '%s' was not expected when migrating", err)
	}
	t.Cleanup(func() {
		sqlDB.Close()
	})
	return gormDB
}
