package model

import "time"

const (
	FillSideBuy  = "buy"
	FillSideSell = "sell"

	LiquidityMaker = "maker"
	LiquidityTaker = "taker"
)

// Fill is one exchange-reported execution (partial or full order fill).
// Rows are immutable once stored; the only mutable column is IsConsumed,
// which flips false->true exactly once when the reconciler folds the
// fill into a position.
type Fill struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	AccountID uint   `gorm:"not null;index;uniqueIndex:uq_fill_account_exec" json:"account_id"`
	Symbol    string `gorm:"size:32;not null;index" json:"symbol"`

	Side     string  `gorm:"size:10" json:"side"` // buy / sell
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`

	FeeUSDT     float64 `gorm:"column:fee_usdt;default:0" json:"fee_usdt"`
	FeeCurrency string  `gorm:"size:10;default:USDT" json:"fee_currency"`
	Liquidity   string  `gorm:"size:10" json:"liquidity"` // maker / taker
	ReduceOnly  bool    `gorm:"default:false" json:"reduce_only"`

	ExchangeExecID  string `gorm:"size:80;uniqueIndex:uq_fill_account_exec" json:"exchange_exec_id"`
	ExchangeOrderID string `gorm:"size:80;index" json:"exchange_order_id"`
	OrderLinkID     string `gorm:"size:128;index" json:"order_link_id"`

	IsConsumed bool `gorm:"not null;default:false;index" json:"is_consumed"`

	Ts        time.Time `gorm:"not null;index" json:"ts"`
	CreatedAt time.Time `json:"created_at"`
}

func (Fill) TableName() string {
	return "fills"
}
