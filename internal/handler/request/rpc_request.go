package request

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Envelope 是扩展消息通道的统一信封。
// Type 决定 Payload 的具体结构，载荷按命令延迟解析。
type Envelope struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

type CreateWalletRequest struct {
	Password string `json:"password" binding:"required,min=8"`
	Mnemonic string `json:"mnemonic"` // 留空则生成新助记词
}

type ImportWalletRequest struct {
	Password   string `json:"password" binding:"required,min=8"`
	Mnemonic   string `json:"mnemonic"`
	PrivateKey string `json:"private_key"` // hex, 与 mnemonic 二选一
}

type UnlockWalletRequest struct {
	Password string `json:"password" binding:"required"`
}

type GetBalanceRequest struct {
	TokenSymbol string `json:"token_symbol"` // 留空查原生币
}

type SendTipRequest struct {
	To          string          `json:"to" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	TokenSymbol string          `json:"token_symbol"`
	Title       string          `json:"title"`
	OriginTab   int             `json:"origin_tab"`
}

type SubscribeRequest struct {
	To          string          `json:"to" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	TokenSymbol string          `json:"token_symbol" binding:"required"`
	Title       string          `json:"title"`
	OriginTab   int             `json:"origin_tab"`
}

type TipShowerApprovalRequest struct {
	ContextID   string          `json:"context_id"` // 留空则由服务端生成
	Recipients  []string        `json:"recipients" binding:"required,min=1"`
	AmountEach  decimal.Decimal `json:"amount_each" binding:"required"`
	TokenSymbol string          `json:"token_symbol"`
	Title       string          `json:"title"`
	OriginTab   int             `json:"origin_tab"`
}

type ExecuteTipShowerRequest struct {
	ContextID string `json:"context_id" binding:"required"`
}

type CreatePromotionRequest struct {
	ContextID string          `json:"context_id"`
	CallData  string          `json:"call_data" binding:"required"` // hex 编码的合约调用数据
	Value     decimal.Decimal `json:"value"`                        // 附带的原生币金额, 可为 0
	Title     string          `json:"title"`
	OriginTab int             `json:"origin_tab"`
}

type ExecutePromotionRequest struct {
	ContextID string `json:"context_id" binding:"required"`
}

type RespondActionRequest struct {
	ActionID string `json:"action_id" binding:"required"`
	Decision string `json:"decision" binding:"required,oneof=approve deny cancel"`
	Reason   string `json:"reason"`
}

type TransactionHistoryRequest struct {
	Limit int `json:"limit"`
}
