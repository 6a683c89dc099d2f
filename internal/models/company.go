package models

import "time"

// Company is a tenant. Every tenant-scoped row carries a CompanyID that
// points here.
type Company struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	TaxID     string    `gorm:"size:64" json:"taxId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is an authenticated principal. DefaultCompanyID is the company used
// when a request names none explicitly.
type User struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Email            string    `gorm:"size:255;not null;uniqueIndex" json:"email"`
	Name             string    `gorm:"size:255" json:"name"`
	DefaultCompanyID *uint     `gorm:"index" json:"defaultCompanyId,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Client is a customer record owned by one company.
type Client struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyID uint      `gorm:"not null;index" json:"companyId"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Email     string    `gorm:"size:255" json:"email,omitempty"`
	Phone     string    `gorm:"size:64" json:"phone,omitempty"`
	TaxID     string    `gorm:"size:64" json:"taxId,omitempty"`
	Address   string    `gorm:"type:text" json:"address,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
