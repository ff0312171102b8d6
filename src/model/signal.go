package model

import "time"

// Signal is the inbound trading signal that originated an order. The
// reconciler correlates fills back to it through the order-link id
// (TradeUID) to attach risk inputs and signal-to-fill latency.
type Signal struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"not null;index" json:"account_id"`
	Symbol    string `gorm:"size:32;not null;index" json:"symbol"`

	// TradeUID is reused as the orderLinkId on outbound orders.
	TradeUID string `gorm:"size:128;uniqueIndex" json:"trade_uid"`

	Side string `gorm:"size:10" json:"side"` // long / short

	EntryPriceTrigger *float64 `json:"entry_price_trigger,omitempty"`
	RiskAmountUSDT    *float64 `gorm:"column:risk_amount_usdt" json:"risk_amount_usdt,omitempty"`
	RiskReward        *float64 `json:"risk_reward,omitempty"`

	SignalTs      *time.Time `gorm:"column:signal_ts" json:"signal_ts,omitempty"`
	BotReceivedAt time.Time  `json:"bot_received_at"`
	BotSentAt     *time.Time `json:"bot_sent_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (Signal) TableName() string {
	return "signals"
}
