package models

import "time"

// ClickRecord is a persisted affiliate click. ID doubles as the insertion sequence
// used to break ties between clicks with the same timestamp.
type ClickRecord struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	StoreID          string    `gorm:"type:varchar(64);not null;index:idx_clicks_lookup,priority:1" json:"store_id"`
	VisitorKey       string    `gorm:"type:varchar(255);not null;index:idx_clicks_lookup,priority:2" json:"visitor_key"`
	ClickedAt        time.Time `gorm:"not null;index:idx_clicks_lookup,priority:3;index:idx_clicks_clicked_at" json:"clicked_at"`
	AffiliateID      string    `gorm:"type:varchar(128);not null" json:"affiliate_id"`
	LandingProductID *string   `gorm:"type:varchar(64)" json:"landing_product_id,omitempty"`
	EventID          string    `gorm:"type:varchar(128)" json:"event_id"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (ClickRecord) TableName() string {
	return "affiliate_clicks"
}

// Before orders clicks by time, then by insertion sequence.
func (c ClickRecord) Before(other ClickRecord) bool {
	if !c.ClickedAt.Equal(other.ClickedAt) {
		return c.ClickedAt.Before(other.ClickedAt)
	}
	return c.ID < other.ID
}
