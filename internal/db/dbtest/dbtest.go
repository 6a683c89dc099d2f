// Package dbtest opens migrated in-memory databases for tests.
package dbtest

import (
	"strconv"
	"testing"

	"github.com/zulandar/ledgerline/internal/config"
	"github.com/zulandar/ledgerline/internal/db"
	"github.com/zulandar/ledgerline/internal/models"
	"gorm.io/gorm"
)

// New returns a migrated in-memory SQLite database that is closed when the
// test ends.
func New(t *testing.T) *gorm.DB {
	t.Helper()

	gormDB, err := db.Connect(config.DatabaseConfig{Driver: "sqlite", Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close(gormDB)
	})

	return gormDB
}

// SeedCompany inserts a company row with the given id.
func SeedCompany(t *testing.T, gormDB *gorm.DB, id uint, name string) models.Company {
	t.Helper()
	c := models.Company{ID: id, Name: name}
	if err := gormDB.Create(&c).Error; err != nil {
		t.Fatalf("seed company %d: %v", id, err)
	}
	return c
}

// SeedUser inserts a user row. defaultCompany may be zero for none.
func SeedUser(t *testing.T, gormDB *gorm.DB, id uint, defaultCompany uint) models.User {
	t.Helper()
	u := models.User{ID: id, Email: "user" + itoa(id) + "@example.com", Name: "User " + itoa(id)}
	if defaultCompany != 0 {
		dc := defaultCompany
		u.DefaultCompanyID = &dc
	}
	if err := gormDB.Create(&u).Error; err != nil {
		t.Fatalf("seed user %d: %v", id, err)
	}
	return u
}

// SeedSession inserts an active conversation session.
func SeedSession(t *testing.T, gormDB *gorm.DB, id, companyID, ownerID uint) models.ConversationSession {
	t.Helper()
	s := models.ConversationSession{
		ID:             id,
		CompanyID:      companyID,
		OwnerID:        ownerID,
		Title:          "Session " + itoa(id),
		SourceLanguage: "ENGLISH",
		TargetLanguage: "RUSSIAN",
		Status:         models.SessionActive,
	}
	if err := gormDB.Create(&s).Error; err != nil {
		t.Fatalf("seed session %d: %v", id, err)
	}
	return s
}

func itoa(n uint) string {
	return strconv.FormatUint(uint64(n), 10)
}
