package db

import (
	"fmt"

	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model managed by migrations.
func AllModels() []interface{} {
	return []interface{}{
		&models.Company{},
		&models.User{},
		&models.Client{},
		&models.ConversationSession{},
		&models.ConversationMessage{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// DropAll drops every managed table. Used by `db reset`.
func DropAll(db *gorm.DB) error {
	if err := db.Migrator().DropTable(AllModels()...); err != nil {
		return fmt.Errorf("db: drop tables: %w", err)
	}
	return nil
}

// SeedCompanies upserts Company rows from configuration, keyed on id.
func SeedCompanies(db *gorm.DB, companies []config.CompanyConfig) error {
	for _, cc := range companies {
		company := models.Company{
			ID:    cc.ID,
			Name:  cc.Name,
			TaxID: cc.TaxID,
		}

		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "tax_id"}),
		}).Create(&company)
		if result.Error != nil {
			return fmt.Errorf("db: seed company %d: %w", cc.ID, result.Error)
		}
	}
	return nil
}

// ForCompany is a GORM scope restricting a query to one tenant's rows.
func ForCompany(companyID uint) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		return tx.Where("company_id = ?", companyID)
	}
}

// Scoped returns a handle pre-bound to companyID. The returned handle is a
// new session, so chaining further conditions on it never leaks between
// callers.
func Scoped(db *gorm.DB, companyID uint) *gorm.DB {
	return ForCompany(companyID)(db).Session(&gorm.Session{})
}
