package model

import "time"

// Instrument is one tradable linear perpetual discovered from the
// exchange instruments-info endpoint. Used to enumerate the symbols a
// backfill should scan.
type Instrument struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Symbol        string    `gorm:"size:32;uniqueIndex" json:"symbol"`
	BaseCurrency  string    `gorm:"size:16" json:"base_currency"`
	QuoteCurrency string    `gorm:"size:16" json:"quote_currency"`
	TickSize      float64   `json:"tick_size"`
	StepSize      float64   `json:"step_size"`
	RefreshedAt   time.Time `json:"refreshed_at"`
}

func (Instrument) TableName() string {
	return "instruments"
}
