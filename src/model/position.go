package model

import "time"

const (
	PositionStatusOpen   = "open"
	PositionStatusClosed = "closed"

	PositionSideLong  = "long"
	PositionSideShort = "short"
)

// Position is one reconstructed round-trip (or still-open) trade,
// rebuilt from the raw fill stream by the reconciler.
type Position struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"not null;index:idx_pos_account_symbol_status" json:"account_id"`
	Symbol    string `gorm:"size:32;not null;index:idx_pos_account_symbol_status" json:"symbol"`
	Status    string `gorm:"size:20;not null;default:open;index:idx_pos_account_symbol_status" json:"status"`
	Side      string `gorm:"size:10" json:"side"` // long / short

	// Correlation back to the originating signal and outbound order,
	// when the entry fills carried an order-link id we recognize.
	TradeUID string `gorm:"size:128;index" json:"trade_uid,omitempty"`
	SignalID *uint  `gorm:"index" json:"signal_id,omitempty"`

	Quantity float64 `json:"quantity"`

	EntryPriceVWAP float64  `gorm:"column:entry_price_vwap" json:"entry_price_vwap"`
	EntryPriceBest float64  `gorm:"column:entry_price_best" json:"entry_price_best"`
	ExitPriceVWAP  *float64 `gorm:"column:exit_price_vwap" json:"exit_price_vwap,omitempty"`
	ExitPriceBest  *float64 `gorm:"column:exit_price_best" json:"exit_price_best,omitempty"`

	FeeOpenUSDT  float64 `gorm:"column:fee_open_usdt;default:0" json:"fee_open_usdt"`
	FeeCloseUSDT float64 `gorm:"column:fee_close_usdt;default:0" json:"fee_close_usdt"`
	FundingUSDT  float64 `gorm:"column:funding_usdt;default:0" json:"funding_usdt"`

	// Realized net pnl; nil while the position is open.
	PnlUSDT *float64 `gorm:"column:pnl_usdt" json:"pnl_usdt,omitempty"`
	// Read-side overlay from the mark-price cache, never persisted.
	UnrealizedPnlUSDT *float64 `gorm:"-" json:"unrealized_pnl_usdt,omitempty"`

	SlippageEntryUSDT   *float64 `gorm:"column:slippage_entry_usdt" json:"slippage_entry_usdt,omitempty"`
	SlippageExitUSDT    *float64 `gorm:"column:slippage_exit_usdt" json:"slippage_exit_usdt,omitempty"`
	SlippageTimelagUSDT *float64 `gorm:"column:slippage_timelag_usdt" json:"slippage_timelag_usdt,omitempty"`

	TimelagSignalBotMs *float64 `gorm:"column:timelag_signal_bot_ms" json:"timelag_signal_bot_ms,omitempty"`
	TimelagBotProcMs   *float64 `gorm:"column:timelag_bot_proc_ms" json:"timelag_bot_proc_ms,omitempty"`
	TimelagBotExchMs   *float64 `gorm:"column:timelag_bot_exch_ms" json:"timelag_bot_exch_ms,omitempty"`

	// SyntheticClose marks positions force-closed by the staleness
	// fallback rather than by an exchange-confirmed exit fill.
	SyntheticClose bool `gorm:"default:false" json:"synthetic_close"`

	FirstExecAt *time.Time `json:"first_exec_at,omitempty"`
	LastExecAt  *time.Time `json:"last_exec_at,omitempty"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Position) TableName() string {
	return "positions"
}
