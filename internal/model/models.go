package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActionRecord 队列动作的历史记录。
// 只在动作到达终态时写入，活动中的动作由队列内存持有。
type ActionRecord struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	ActionID    string          `gorm:"type:varchar(64);not null;uniqueIndex" json:"action_id"`
	Kind        string          `gorm:"type:varchar(32);not null;index" json:"kind"` // tip, tip_shower, promotion, subscription
	Title       string          `gorm:"type:varchar(255)" json:"title"`
	Description string          `gorm:"type:text" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"amount"`
	TokenSymbol string          `gorm:"type:varchar(16)" json:"token_symbol"`
	Status      string          `gorm:"type:varchar(16);not null;index" json:"status"` // completed, failed, denied, cancelled
	Reason      string          `gorm:"type:text" json:"reason,omitempty"`
	TxHash      string          `gorm:"type:varchar(66)" json:"tx_hash,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  time.Time       `json:"resolved_at"`
}

func (ActionRecord) TableName() string {
	return "action_records"
}

// TransactionRecord 每笔广播成功的交易一条。
// Status 在后台确认协程里更新，更新失败只记日志。
type TransactionRecord struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TxHash    string          `gorm:"type:varchar(66);not null;uniqueIndex" json:"tx_hash"`
	Kind      string          `gorm:"type:varchar(16);not null" json:"kind"` // native, token, contract
	ToAddress string          `gorm:"type:varchar(42);not null" json:"to_address"`
	Amount    decimal.Decimal `gorm:"type:decimal(32,18);not null;default:0" json:"amount"`
	Token     string          `gorm:"type:varchar(16)" json:"token"`
	Nonce     uint64          `gorm:"not null" json:"nonce"`
	Status    string          `gorm:"type:varchar(16);not null;default:'broadcast';index" json:"status"` // broadcast, mined, dropped
	Block     uint64          `json:"block,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (TransactionRecord) TableName() string {
	return "transaction_records"
}
