package testutils

import (
	"fmt"
	"testing"

	"hyrebuy-backend/config"
	"hyrebuy-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewTestDB opens a private in-memory sqlite database with the full schema migrated and
// foreign keys enforced.
// One connection is used so every transaction is serialized, like row locks would.
func NewTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(config.Models...))
	return db
}

// CreateAccount inserts a bare account and returns its id.
func CreateAccount(t *testing.T, db *gorm.DB, email string) string {
	t.Helper()
	acct := models.Account{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         email,
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(&acct).Error)
	return acct.ID
}
