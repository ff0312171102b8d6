package model

import "time"

// FundingEvent is a periodic funding payment or charge on an open
// position. AmountUSDT is signed the way the exchange reports it:
// positive = received, negative = paid. Rows are immutable and never
// consumed; they are attributed to positions purely by time-window
// containment. The exchange settles funding per symbol at fixed marks,
// so (account, symbol, ts) is the natural dedup key.
type FundingEvent struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	AccountID  uint    `gorm:"not null;index;uniqueIndex:uq_funding_account_symbol_ts" json:"account_id"`
	Symbol     string  `gorm:"size:32;uniqueIndex:uq_funding_account_symbol_ts" json:"symbol"`
	AmountUSDT float64 `gorm:"column:amount_usdt;default:0" json:"amount_usdt"`
	Rate       float64 `json:"rate"`

	Ts        time.Time `gorm:"not null;index;uniqueIndex:uq_funding_account_symbol_ts" json:"ts"`
	CreatedAt time.Time `json:"created_at"`
}

func (FundingEvent) TableName() string {
	return "funding_events"
}
