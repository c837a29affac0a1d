package event

// Topic 常量: 通知总线上的主题
const (
	TopicActionResult   = "wallet_events_action_result"
	TopicBalanceChanged = "wallet_events_balance_changed"
)

// ActionResultEvent 队列动作到达终态时发布。
// 这是 "稍后再次应答" 协议的异步半边: 同步应答只返回 pending。
type ActionResultEvent struct {
	ActionID string `json:"action_id"`
	Kind     string `json:"kind"`   // tip, tip_shower, promotion, subscription
	Status   string `json:"status"` // completed, failed, denied, cancelled
	TxHash   string `json:"tx_hash,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// BalanceChangedEvent 交易确认后尽力而为地发布。
// 确认等待失败只记日志，不影响已返回的提交结果。
type BalanceChangedEvent struct {
	Address string `json:"address"`
	TxHash  string `json:"tx_hash"`
	Block   uint64 `json:"block"`
}
