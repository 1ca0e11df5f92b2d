// Package test holds helpers shared by the package tests.
package test

import (
	"path/filepath"
	"testing"
	"time"

	"budgetledger/internal/config"
	"budgetledger/internal/infrastructure/database"
	"budgetledger/internal/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
}

// TmpFile returns the path to a unique file to be used in tests
func TmpFile(t *testing.T) string {
	dir := t.TempDir()
	return filepath.Join(dir, uuid.New().String()+".db")
}

// Config returns a configuration for a fresh sqlite database with the in-process
// lock and short timeouts.
func Config(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.Server.Mode = "test"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = TmpFile(t)
	cfg.Ledger.LockBackend = config.LockBackendLocal
	cfg.Ledger.LockTimeout = 5 * time.Second
	cfg.Ledger.TxTimeout = 5 * time.Second
	cfg.Kafka.Topic.LedgerEvents = "test-ledger-events"
	return cfg
}

// OpenDB opens and migrates the database described by cfg and closes it when the
// test ends.
func OpenDB(t *testing.T, cfg *config.Config) *gorm.DB {
	db, err := database.Open(&cfg.Database)
	require.NoError(t, err, "open test database")

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// CreateAllocation stores an allocation with the given amount and status and nothing
// spent.
func CreateAllocation(t *testing.T, db *gorm.DB, tenantID string, amount string, status model.AllocationStatus) *model.BudgetAllocation {
	allocated := decimal.RequireFromString(amount)
	allocation := &model.BudgetAllocation{
		TenantID:        tenantID,
		ProgramID:       "PRG-" + uuid.NewString()[:8],
		FiscalYear:      2025,
		Source:          model.FundingSourceCentralGovernment,
		AllocatedAmount: allocated,
		SpentAmount:     decimal.Zero,
		RemainingAmount: allocated,
		Status:          status,
	}
	require.NoError(t, db.Create(allocation).Error, "create allocation")
	return allocation
}
