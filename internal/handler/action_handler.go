package handler

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"wallet-ext/internal/handler/request"
	"wallet-ext/internal/handler/response"
	"wallet-ext/internal/model"
	"wallet-ext/internal/service/queue"
	"wallet-ext/internal/service/submitter"
	"wallet-ext/pkg/errno"
)

const defaultHistoryLimit = 50

// resolveToken 把可选的代币符号解析为提交器的代币描述。
// 符号为空表示原生币。
func (h *RPCHandler) resolveToken(symbol string) (*submitter.TokenDescriptor, error) {
	if symbol == "" {
		return nil, nil
	}
	t, ok := h.wallet.FindToken(symbol)
	if !ok {
		return nil, errno.ErrUnknownToken.WithMessage("未配置的代币: " + symbol)
	}
	return &submitter.TokenDescriptor{
		Contract: t.Contract,
		Symbol:   t.Symbol,
		Decimals: t.Decimals,
	}, nil
}

// sendTip 入队一笔打赏。校验在入队前完成，签名和广播等用户批准后串行执行。
func (h *RPCHandler) sendTip(c *gin.Context, payload json.RawMessage) {
	var req request.SendTipRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}
	h.enqueueTransfer(c, "tip", req.Title, req.To, req.Amount, req.TokenSymbol, req.OriginTab)
}

// subscribe 订阅支付与打赏走同一条提交路径，仅动作类别不同。
func (h *RPCHandler) subscribe(c *gin.Context, payload json.RawMessage) {
	var req request.SubscribeRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}
	h.enqueueTransfer(c, "subscription", req.Title, req.To, req.Amount, req.TokenSymbol, req.OriginTab)
}

func (h *RPCHandler) enqueueTransfer(c *gin.Context, kind, title, to string,
	amount decimal.Decimal, tokenSymbol string, originTab int) {

	if !common.IsHexAddress(to) {
		response.Error(c, errno.ErrInvalidRecipient)
		return
	}
	if !amount.IsPositive() {
		response.Error(c, errno.ErrInvalidAmount)
		return
	}
	token, err := h.resolveToken(tokenSymbol)
	if err != nil {
		response.Error(c, err)
		return
	}

	intent := submitter.TxIntent{To: to, Amount: amount, Token: token}
	actionID, err := h.queue.Enqueue(queue.Descriptor{
		Kind:        kind,
		Title:       title,
		Description: "转账至 " + to,
		Amount:      amount,
		TokenSymbol: tokenSymbol,
		OriginTab:   originTab,
	}, true, func(ctx context.Context) (string, error) {
		res, err := h.submitter.Submit(ctx, intent)
		if err != nil {
			return "", err
		}
		return res.TxHash, nil
	}, nil)
	if err != nil {
		response.Error(c, err)
		return
	}

	// 同步只应答入队结果，终态经由动作结果通知送达
	response.Success(c, gin.H{"action_id": actionID, "status": queue.StatusPending})
}

// requestTipShower 两阶段批量打赏的第一阶段: 注册审批上下文并入队。
// 批准动作本身不移动资金，只把上下文标记为可执行。
func (h *RPCHandler) requestTipShower(c *gin.Context, payload json.RawMessage) {
	var req request.TipShowerApprovalRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	for _, to := range req.Recipients {
		if !common.IsHexAddress(to) {
			response.Error(c, errno.ErrInvalidRecipient.WithMessage("收款地址非法: "+to))
			return
		}
	}
	if !req.AmountEach.IsPositive() {
		response.Error(c, errno.ErrInvalidAmount)
		return
	}
	if _, err := h.resolveToken(req.TokenSymbol); err != nil {
		response.Error(c, err)
		return
	}

	body, _ := json.Marshal(req)
	apc, err := h.contexts.Create(req.ContextID, "tip_shower", body)
	if err != nil {
		response.Error(c, err)
		return
	}

	total := req.AmountEach.Mul(decimal.NewFromInt(int64(len(req.Recipients))))
	actionID, err := h.enqueueContextApproval(queue.Descriptor{
		Kind:        "tip_shower",
		Title:       req.Title,
		Description: "批量打赏: " + strings.Join(req.Recipients, ", "),
		Amount:      total,
		TokenSymbol: req.TokenSymbol,
		OriginTab:   req.OriginTab,
	}, apc.ID)
	if err != nil {
		h.contexts.Remove(apc.ID)
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"action_id":  actionID,
		"context_id": apc.ID,
		"status":     queue.StatusPending,
	})
}

// enqueueContextApproval 入队一个只做审批的动作:
// 批准 → 上下文可执行；拒绝/取消 → 上下文清除。
func (h *RPCHandler) enqueueContextApproval(desc queue.Descriptor, contextID string) (string, error) {
	return h.queue.Enqueue(desc, false, func(ctx context.Context) (string, error) {
		if !h.contexts.MarkApproved(contextID) {
			return "", errno.ErrApprovalExpired
		}
		return "", nil
	}, func(r queue.Result) {
		if r.Status != queue.StatusCompleted {
			h.contexts.Remove(contextID)
		}
	})
}

// executeTipShower 第二阶段: 凭上下文 id 兑现已批准的批量打赏。
// 上下文在独占槽内取走，独占冲突不消耗批准。
func (h *RPCHandler) executeTipShower(c *gin.Context, payload json.RawMessage) {
	var req request.ExecuteTipShowerRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	type shotResult struct {
		To     string `json:"to"`
		TxHash string `json:"tx_hash,omitempty"`
		Error  string `json:"error,omitempty"`
	}
	var results []shotResult

	err := h.queue.RunExclusive(c.Request.Context(), "tip_shower", func(ctx context.Context) error {
		apc, err := h.contexts.TakeApproved(req.ContextID)
		if err != nil {
			return err
		}

		var spec request.TipShowerApprovalRequest
		if err := json.Unmarshal(apc.Payload, &spec); err != nil {
			return errno.ErrApprovalExpired
		}
		token, err := h.resolveToken(spec.TokenSymbol)
		if err != nil {
			return err
		}

		// 逐笔提交，单笔失败不中断其余收款人
		for _, to := range spec.Recipients {
			res, err := h.submitter.Submit(ctx, submitter.TxIntent{
				To:     to,
				Amount: spec.AmountEach,
				Token:  token,
			})
			if err != nil {
				results = append(results, shotResult{To: to, Error: err.Error()})
				continue
			}
			results = append(results, shotResult{To: to, TxHash: res.TxHash})
		}
		return nil
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"context_id": req.ContextID, "results": results})
}

// createPromotion 两阶段推广活动的第一阶段。
// 调用数据对钱包是不透明的，只校验格式并原样携带到执行阶段。
func (h *RPCHandler) createPromotion(c *gin.Context, payload json.RawMessage) {
	var req request.CreatePromotionRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	if !common.IsHexAddress(h.wallet.PromotionContract) {
		response.Error(c, errno.ErrInvalidRecipient.WithMessage("未配置推广合约地址"))
		return
	}
	if _, err := hex.DecodeString(strings.TrimPrefix(req.CallData, "0x")); err != nil {
		response.Error(c, errno.ErrBind.WithMessage("call_data 不是合法的 hex"))
		return
	}
	if req.Value.IsNegative() {
		response.Error(c, errno.ErrInvalidAmount)
		return
	}

	body, _ := json.Marshal(req)
	apc, err := h.contexts.Create(req.ContextID, "promotion", body)
	if err != nil {
		response.Error(c, err)
		return
	}

	actionID, err := h.enqueueContextApproval(queue.Descriptor{
		Kind:        "promotion",
		Title:       req.Title,
		Description: "推广合约调用: " + h.wallet.PromotionContract,
		Amount:      req.Value,
		OriginTab:   req.OriginTab,
	}, apc.ID)
	if err != nil {
		h.contexts.Remove(apc.ID)
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{
		"action_id":  actionID,
		"context_id": apc.ID,
		"status":     queue.StatusPending,
	})
}

func (h *RPCHandler) executePromotion(c *gin.Context, payload json.RawMessage) {
	var req request.ExecutePromotionRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	var txHash string
	err := h.queue.RunExclusive(c.Request.Context(), "promotion", func(ctx context.Context) error {
		apc, err := h.contexts.TakeApproved(req.ContextID)
		if err != nil {
			return err
		}

		var spec request.CreatePromotionRequest
		if err := json.Unmarshal(apc.Payload, &spec); err != nil {
			return errno.ErrApprovalExpired
		}
		data, err := hex.DecodeString(strings.TrimPrefix(spec.CallData, "0x"))
		if err != nil {
			return errno.ErrApprovalExpired
		}

		res, err := h.submitter.Submit(ctx, submitter.TxIntent{
			To:     h.wallet.PromotionContract,
			Amount: spec.Value,
			Data:   data,
		})
		if err != nil {
			return err
		}
		txHash = res.TxHash
		return nil
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"context_id": req.ContextID, "tx_hash": txHash})
}

func (h *RPCHandler) actionQueue(c *gin.Context) {
	response.Success(c, gin.H{"actions": h.queue.Summary()})
}

func (h *RPCHandler) respondAction(c *gin.Context, payload json.RawMessage) {
	var req request.RespondActionRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	var err error
	switch req.Decision {
	case "approve":
		err = h.queue.Approve(req.ActionID)
	case "deny":
		err = h.queue.Deny(req.ActionID, req.Reason)
	case "cancel":
		err = h.queue.Cancel(req.ActionID, req.Reason)
	default:
		err = errno.ErrBind.WithMessage("未知决定: " + req.Decision)
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"action_id": req.ActionID, "decision": req.Decision})
}

func (h *RPCHandler) txHistory(c *gin.Context, payload json.RawMessage) {
	var req request.TransactionHistoryRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}
	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = defaultHistoryLimit
	}

	if h.db == nil {
		response.Success(c, gin.H{"transactions": []model.TransactionRecord{}, "actions": []model.ActionRecord{}})
		return
	}

	var txs []model.TransactionRecord
	if err := h.db.Order("id DESC").Limit(limit).Find(&txs).Error; err != nil {
		response.Error(c, errno.ErrDatabase)
		return
	}
	var acts []model.ActionRecord
	if err := h.db.Order("id DESC").Limit(limit).Find(&acts).Error; err != nil {
		response.Error(c, errno.ErrDatabase)
		return
	}
	response.Success(c, gin.H{"transactions": txs, "actions": acts})
}
