package models

import "time"

// Store is a BigCommerce store installation. The engine only reads it.
type Store struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	StoreHash          string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"store_hash"`
	SharedSecret       string     `gorm:"type:varchar(255)" json:"-"`
	CookieDurationDays int        `gorm:"not null" json:"cookie_duration_days"`
	AttributionModel   string     `gorm:"type:varchar(20)" json:"attribution_model"`
	AutoSyncProducts   bool       `gorm:"not null" json:"auto_sync_products"`
	IsActive           bool       `gorm:"not null" json:"is_active"`
	UninstalledAt      *time.Time `json:"uninstalled_at,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Store) TableName() string {
	return "bigcommerce_stores"
}

// StoreSettings is a store's configuration with defaults applied.
type StoreSettings struct {
	StoreID          string
	SharedSecret     string
	CookieDuration   time.Duration
	Model            AttributionModel
	AutoSyncProducts bool
	Active           bool
}

// Settings resolves the store's effective configuration. Missing or invalid values fall
// back to the given defaults; an empty shared secret falls back to the app client secret.
func (s *Store) Settings(defaultCookieDays int, defaultModel AttributionModel, appSecret string) StoreSettings {
	days := s.CookieDurationDays
	if days <= 0 {
		days = defaultCookieDays
	}
	model := AttributionModel(s.AttributionModel)
	if !model.Known() {
		model = defaultModel
	}
	secret := s.SharedSecret
	if secret == "" {
		secret = appSecret
	}
	return StoreSettings{
		StoreID:          s.StoreHash,
		SharedSecret:     secret,
		CookieDuration:   time.Duration(days) * 24 * time.Hour,
		Model:            model,
		AutoSyncProducts: s.AutoSyncProducts,
		Active:           s.IsActive,
	}
}
