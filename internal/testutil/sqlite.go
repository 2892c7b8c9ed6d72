// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/richardliu001/wallet-ledger/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated in-memory SQLite database private to t. It has a
// single connection, so write transactions run one at a time the way
// row-locked Postgres transactions on the same wallet would.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(model.All()...))
	return db
}

// SeedReservation inserts an unpaid reservation and returns its id.
func SeedReservation(t *testing.T, db *gorm.DB, owner uint64, amount string) uint64 {
	t.Helper()
	r := &model.Reservation{PayableBase: model.PayableBase{UserID: owner, Amount: decimal.RequireFromString(amount)}}
	require.NoError(t, db.Create(r).Error)
	return r.ID
}

// SeedParcel inserts an unpaid parcel and returns its id.
func SeedParcel(t *testing.T, db *gorm.DB, owner uint64, amount string) uint64 {
	t.Helper()
	p := &model.Parcel{PayableBase: model.PayableBase{UserID: owner, Amount: decimal.RequireFromString(amount)}}
	require.NoError(t, db.Create(p).Error)
	return p.ID
}

// SeedOrder inserts an unpaid shop order and returns its id.
func SeedOrder(t *testing.T, db *gorm.DB, owner uint64, amount string) uint64 {
	t.Helper()
	o := &model.Order{PayableBase: model.PayableBase{UserID: owner, Amount: decimal.RequireFromString(amount)}}
	require.NoError(t, db.Create(o).Error)
	return o.ID
}

// Money parses a decimal literal.
func Money(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// AssertMoney compares amounts by value, so "40" equals "40.00".
func AssertMoney(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, Money(want).Equal(got), "want %s, got %s %v", want, got.String(), msgAndArgs)
}
