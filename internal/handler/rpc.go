package handler

import (
	"encoding/json"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"gorm.io/gorm"

	"wallet-ext/internal/handler/request"
	"wallet-ext/internal/handler/response"
	"wallet-ext/internal/service/queue"
	"wallet-ext/internal/service/session"
	"wallet-ext/internal/service/submitter"
	"wallet-ext/pkg/config"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/validator"

	"go.uber.org/zap"
)

// 扩展消息通道的命令集
const (
	CmdCreateWallet      = "CREATE_WALLET"
	CmdImportWallet      = "IMPORT_WALLET"
	CmdUnlockWallet      = "UNLOCK_WALLET"
	CmdLockWallet        = "LOCK_WALLET"
	CmdGetWalletState    = "GET_WALLET_STATE"
	CmdGetBalance        = "GET_BALANCE"
	CmdSendTip           = "SEND_TIP"
	CmdSubscribeToToken  = "SUBSCRIBE_TO_TOKEN"
	CmdTipShowerApproval = "REQUEST_TIP_SHOWER_APPROVAL"
	CmdExecuteTipShower  = "EXECUTE_TIP_SHOWER"
	CmdCreatePromotion   = "CREATE_PROMOTION"
	CmdExecutePromotion  = "EXECUTE_PROMOTION"
	CmdGetActionQueue    = "GET_WALLET_ACTION_QUEUE"
	CmdRespondAction     = "RESPOND_WALLET_ACTION"
	CmdGetTxHistory      = "GET_TRANSACTION_HISTORY"
)

// fundMoving 标记会移动资金或注册资金操作的命令。
// 这些命令只接受可信来源 (中间件判定)，其余命令任何页面都可调用。
var fundMoving = map[string]bool{
	CmdSendTip:           true,
	CmdSubscribeToToken:  true,
	CmdTipShowerApproval: true,
	CmdExecuteTipShower:  true,
	CmdCreatePromotion:   true,
	CmdExecutePromotion:  true,
}

// SenderTrustedKey 由来源校验中间件写入 gin context
const SenderTrustedKey = "sender_trusted"

// RPCHandler 是扩展消息通道的单一入口。
// 所有命令共用一个 POST 端点，按信封里的 Type 分发。
type RPCHandler struct {
	session   *session.Service
	submitter *submitter.Service
	queue     *queue.Queue
	contexts  *queue.ContextRegistry
	wallet    config.WalletConfig
	db        *gorm.DB
}

func NewRPCHandler(sess *session.Service, sub *submitter.Service, q *queue.Queue,
	contexts *queue.ContextRegistry, wallet config.WalletConfig, db *gorm.DB) *RPCHandler {
	return &RPCHandler{
		session:   sess,
		submitter: sub,
		queue:     q,
		contexts:  contexts,
		wallet:    wallet,
		db:        db,
	}
}

// Dispatch 解析信封并路由到具体命令
// @Summary 钱包 RPC 入口
// @Description 扩展消息通道的统一入口，按 type 分发命令
// @Tags Wallet
// @Accept json
// @Produce json
// @Param request body request.Envelope true "RPC Envelope"
// @Success 200 {object} response.Response
// @Router /api/v1/rpc [post]
func (h *RPCHandler) Dispatch(c *gin.Context) {
	var env request.Envelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.Error(c, errno.ErrBind)
		return
	}

	if fundMoving[env.Type] && !c.GetBool(SenderTrustedKey) {
		logger.Warn("拒绝不可信来源的资金命令",
			zap.String("type", env.Type),
			zap.String("origin", c.GetHeader("Origin")))
		response.Error(c, errno.ErrUnauthorizedSender)
		return
	}

	switch env.Type {
	case CmdCreateWallet:
		h.createWallet(c, env.Payload)
	case CmdImportWallet:
		h.importWallet(c, env.Payload)
	case CmdUnlockWallet:
		h.unlockWallet(c, env.Payload)
	case CmdLockWallet:
		h.lockWallet(c)
	case CmdGetWalletState:
		h.walletState(c)
	case CmdGetBalance:
		h.getBalance(c, env.Payload)
	case CmdSendTip:
		h.sendTip(c, env.Payload)
	case CmdSubscribeToToken:
		h.subscribe(c, env.Payload)
	case CmdTipShowerApproval:
		h.requestTipShower(c, env.Payload)
	case CmdExecuteTipShower:
		h.executeTipShower(c, env.Payload)
	case CmdCreatePromotion:
		h.createPromotion(c, env.Payload)
	case CmdExecutePromotion:
		h.executePromotion(c, env.Payload)
	case CmdGetActionQueue:
		h.actionQueue(c)
	case CmdRespondAction:
		h.respondAction(c, env.Payload)
	case CmdGetTxHistory:
		h.txHistory(c, env.Payload)
	default:
		response.Error(c, errno.ErrUnknownCommand.WithMessage("未知命令: "+env.Type))
	}
}

// bindPayload 把信封载荷绑定到命令结构并跑校验标签
func bindPayload(payload json.RawMessage, out interface{}) error {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errno.ErrBind
	}
	if err := binding.Validator.ValidateStruct(out); err != nil {
		return errno.ErrBind.WithMessage(validator.GetErrorMsg(err))
	}
	return nil
}
