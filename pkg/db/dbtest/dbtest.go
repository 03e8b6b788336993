// Package dbtest opens throwaway sqlite databases migrated with the storefront models.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/stitchline/storefront-backend/pkg/db/models"
)

// Open returns a private in-memory database. A single connection keeps sqlite
// writers serialised, so callers must route every statement inside a
// transaction through the tx handle.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:storefront_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(models.All()...))
	return conn
}

// SeedVariant inserts a sellable variant priced in minor units.
func SeedVariant(t *testing.T, conn *gorm.DB, name string, priceMinor int64, available int) models.ProductVariant {
	t.Helper()
	qty := available
	variant := models.ProductVariant{
		ProductID:      uuid.New(),
		SKU:            "SKU-" + uuid.NewString()[:8],
		Name:           name,
		UnitPriceMinor: priceMinor,
		AvailableQty:   &qty,
	}
	require.NoError(t, conn.Create(&variant).Error)
	return variant
}
