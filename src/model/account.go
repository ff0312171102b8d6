package model

import "time"

// Account is one exchange sub-account (a "bot") whose executions we
// reconcile. API credentials are stored encrypted; see src/security.
type Account struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	UUID string `gorm:"size:64;uniqueIndex" json:"uuid"`
	Name string `gorm:"size:120;not null" json:"name"`

	Exchange string `gorm:"size:40;default:bybit" json:"exchange"`

	APIKeyHash    string `gorm:"column:api_key;type:text" json:"-"`
	APISecretHash string `gorm:"column:api_secret;type:text" json:"-"`

	IsActive  bool `gorm:"default:true" json:"is_active"`
	IsDeleted bool `gorm:"default:false" json:"is_deleted"`

	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}
