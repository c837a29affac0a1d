package submitter

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wallet-ext/internal/event"
	"wallet-ext/internal/model"
	"wallet-ext/internal/service/chain"
	"wallet-ext/internal/service/mq"
	"wallet-ext/internal/service/nonce"
	"wallet-ext/internal/service/session"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/monitor"

	"go.uber.org/zap"
)

const nativeDecimals = 18

// TokenDescriptor 区分代币转账与原生币转账
type TokenDescriptor struct {
	Contract string
	Symbol   string
	Decimals int32
}

// TxIntent 是一次提交请求。
// Token == nil 且 Data 为空: 原生币转账。
// Token != nil: ERC-20 transfer。
// Data 非空: 合约调用 (推广活动等)，To 为合约地址，Amount 为附带的原生币值。
type TxIntent struct {
	To       string
	Amount   decimal.Decimal
	Token    *TokenDescriptor
	Data     []byte
	GasLimit uint64 // 0 = 按类别取默认值
}

type Result struct {
	TxHash string
	Nonce  uint64
}

// Service 构建、签名并广播交易。
// 自己不持有任何 nonce 状态，全部经由会话的 tracker；
// 私钥只在单次 Submit 调用内借用。
type Service struct {
	session  *session.Service
	db       *gorm.DB
	producer mq.Producer

	gasNative uint64
	gasToken  uint64

	// confirmInterval 确认轮询间隔，测试中调小
	confirmInterval time.Duration
}

func New(sess *session.Service, db *gorm.DB, producer mq.Producer, gasNative, gasToken uint64) *Service {
	if producer == nil {
		producer = mq.NopProducer{}
	}
	return &Service{
		session:         sess,
		db:              db,
		producer:        producer,
		gasNative:       gasNative,
		gasToken:        gasToken,
		confirmInterval: 3 * time.Second,
	}
}

// Submit 校验意图、保留 nonce、本地签名并广播。
// 广播成功即返回；确认在后台等待，只影响一条尽力而为的余额变更通知。
func (s *Service) Submit(ctx context.Context, intent TxIntent) (*Result, error) {
	if !common.IsHexAddress(intent.To) {
		return nil, errno.ErrInvalidRecipient
	}
	if intent.Amount.IsNegative() {
		return nil, errno.ErrInvalidAmount
	}
	// 纯合约调用允许 0 值，转账金额必须为正
	if len(intent.Data) == 0 && !intent.Amount.IsPositive() {
		return nil, errno.ErrInvalidAmount
	}

	priv, from, chainID, tracker, backend, err := s.session.SigningContext()
	if err != nil {
		return nil, err
	}

	gasPrice, err := backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, errno.ErrLedgerRejected.WithMessage(err.Error())
	}

	to := common.HexToAddress(intent.To)
	kind := "native"
	value := big.NewInt(0)
	data := intent.Data
	gasLimit := intent.GasLimit

	switch {
	case intent.Token != nil:
		kind = "token"
		if !common.IsHexAddress(intent.Token.Contract) {
			return nil, errno.ErrUnknownToken.WithMessage("代币合约地址非法: " + intent.Token.Contract)
		}
		tokenAmt, err := toBaseUnits(intent.Amount, intent.Token.Decimals)
		if err != nil {
			return nil, err
		}
		data, err = packTransfer(to, tokenAmt)
		if err != nil {
			return nil, err
		}
		contract := common.HexToAddress(intent.Token.Contract)
		if err := s.checkTokenSufficiency(ctx, backend, contract, from, tokenAmt, gasPrice, s.pickGas(gasLimit, s.gasToken)); err != nil {
			return nil, err
		}
		to = contract
		gasLimit = s.pickGas(gasLimit, s.gasToken)

	case len(intent.Data) > 0:
		kind = "contract"
		wei, err := toBaseUnits(intent.Amount, nativeDecimals)
		if err != nil {
			return nil, err
		}
		value = wei
		gasLimit = s.pickGas(gasLimit, s.gasToken)
		if err := s.checkNativeSufficiency(ctx, backend, from, value, gasPrice, gasLimit); err != nil {
			return nil, err
		}

	default:
		wei, err := toBaseUnits(intent.Amount, nativeDecimals)
		if err != nil {
			return nil, err
		}
		value = wei
		gasLimit = s.pickGas(gasLimit, s.gasNative)
		// 原生转账必须为网络费预留余量
		if err := s.checkNativeSufficiency(ctx, backend, from, value, gasPrice, gasLimit); err != nil {
			return nil, err
		}
	}

	if err := tracker.EnsureSynced(ctx); err != nil {
		return nil, errno.ErrNonceNotSynced.WithMessage(err.Error())
	}

	hash, usedNonce, err := s.signAndSend(ctx, backend, priv, chainID, tracker, to, value, data, gasPrice, gasLimit)
	if err != nil {
		if !nonce.IsConflict(err) {
			return nil, errno.ErrLedgerRejected.WithMessage(err.Error())
		}

		// nonce 冲突: 自动重同步后重试一次，再冲突则原样上报
		logger.Warn("广播遇到 nonce 冲突，重新同步后重试", zap.Error(err))
		if _, rerr := tracker.Resync(ctx); rerr != nil {
			return nil, errno.ErrNonceConflict.WithMessage(rerr.Error())
		}
		hash, usedNonce, err = s.signAndSend(ctx, backend, priv, chainID, tracker, to, value, data, gasPrice, gasLimit)
		if err != nil {
			if nonce.IsConflict(err) {
				return nil, errno.ErrNonceConflict.WithMessage(err.Error())
			}
			return nil, errno.ErrLedgerRejected.WithMessage(err.Error())
		}
	}

	s.recordBroadcast(intent, kind, hash, usedNonce)
	if monitor.Business != nil {
		monitor.Business.TxSubmittedTotal.WithLabelValues(kind).Inc()
	}
	logger.Info("交易已广播",
		zap.String("hash", hash.Hex()),
		zap.String("kind", kind),
		zap.Uint64("nonce", usedNonce))

	// 确认不阻塞调用方，也没有硬超时
	go s.awaitConfirmation(backend, from, hash)

	return &Result{TxHash: hash.Hex(), Nonce: usedNonce}, nil
}

// signAndSend 保留一个 nonce，构建、签名并广播交易。
// 返回的 nonce 恰好被这笔广播使用一次。
func (s *Service) signAndSend(ctx context.Context, backend chain.Backend, priv *ecdsa.PrivateKey,
	chainID *big.Int, tracker *nonce.Tracker, to common.Address,
	value *big.Int, data []byte, gasPrice *big.Int, gasLimit uint64) (common.Hash, uint64, error) {

	n, err := tracker.Reserve()
	if err != nil {
		return common.Hash{}, 0, err
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    n,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
	if err != nil {
		return common.Hash{}, 0, err
	}

	if err := backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, n, err
	}
	return signed.Hash(), n, nil
}

func (s *Service) pickGas(requested, fallback uint64) uint64 {
	if requested > 0 {
		return requested
	}
	return fallback
}

func (s *Service) checkNativeSufficiency(ctx context.Context, backend chain.Backend,
	from common.Address, value, gasPrice *big.Int, gasLimit uint64) error {

	balance, err := backend.BalanceAt(ctx, from, nil)
	if err != nil {
		return errno.ErrLedgerRejected.WithMessage(err.Error())
	}

	fee := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	need := new(big.Int).Add(value, fee)
	if balance.Cmp(need) < 0 {
		return errno.ErrInsufficientBalance
	}
	return nil
}

func (s *Service) checkTokenSufficiency(ctx context.Context, backend chain.Backend,
	contract, from common.Address, tokenAmt, gasPrice *big.Int, gasLimit uint64) error {

	bal, err := tokenBalance(ctx, backend, contract, from)
	if err != nil {
		return errno.ErrLedgerRejected.WithMessage(err.Error())
	}
	if bal.Cmp(tokenAmt) < 0 {
		return errno.ErrInsufficientBalance
	}
	// 代币转账仍然要用原生币付 gas
	return s.checkNativeSufficiency(ctx, backend, from, big.NewInt(0), gasPrice, gasLimit)
}

// awaitConfirmation 轮询回执直到交易上链。
// 结果只用于发布一条余额变更通知并更新历史记录；
// 失败只记日志，绝不回头影响已经返回的提交结果。
func (s *Service) awaitConfirmation(backend chain.Backend, from common.Address, hash common.Hash) {
	ctx := context.Background()
	consecutiveErrs := 0

	ticker := time.NewTicker(s.confirmInterval)
	defer ticker.Stop()

	for range ticker.C {
		receipt, err := backend.TransactionReceipt(ctx, hash)
		if err == ethereum.NotFound {
			consecutiveErrs = 0
			continue
		}
		if err != nil {
			// 连接可能已随锁定关闭; 持续失败就放弃这条通知
			consecutiveErrs++
			if consecutiveErrs >= 20 {
				logger.Warn("确认等待放弃", zap.String("hash", hash.Hex()), zap.Error(err))
				return
			}
			continue
		}

		block := receipt.BlockNumber.Uint64()
		s.recordMined(hash, block)
		if monitor.Business != nil {
			monitor.Business.TxConfirmedTotal.Inc()
		}

		payload, _ := json.Marshal(event.BalanceChangedEvent{
			Address: from.Hex(),
			TxHash:  hash.Hex(),
			Block:   block,
		})
		if err := s.producer.Publish(ctx, event.TopicBalanceChanged, from.Hex(), payload); err != nil {
			logger.Warn("余额变更通知发布失败", zap.Error(err))
		}
		return
	}
}

func (s *Service) recordBroadcast(intent TxIntent, kind string, hash common.Hash, n uint64) {
	if s.db == nil {
		return
	}
	rec := model.TransactionRecord{
		TxHash:    hash.Hex(),
		Kind:      kind,
		ToAddress: intent.To,
		Amount:    intent.Amount,
		Nonce:     n,
		Status:    "broadcast",
	}
	if intent.Token != nil {
		rec.Token = intent.Token.Symbol
	}
	if err := s.db.Create(&rec).Error; err != nil {
		logger.Warn("写入交易历史失败", zap.Error(err))
	}
}

func (s *Service) recordMined(hash common.Hash, block uint64) {
	if s.db == nil {
		return
	}
	err := s.db.Model(&model.TransactionRecord{}).
		Where("tx_hash = ?", hash.Hex()).
		Updates(map[string]interface{}{"status": "mined", "block": block}).Error
	if err != nil {
		logger.Warn("更新交易历史失败", zap.Error(err))
	}
}

// toBaseUnits 把十进制金额换算为链上最小单位。
// 精度超过代币小数位 → ErrInvalidAmount。
func toBaseUnits(amount decimal.Decimal, decimals int32) (*big.Int, error) {
	scaled := amount.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, errno.ErrInvalidAmount.WithMessage("金额精度超过代币小数位")
	}
	return scaled.BigInt(), nil
}

// NativeBalance 查询原生币余额 (展示单位)
func (s *Service) NativeBalance(ctx context.Context) (decimal.Decimal, error) {
	backend, addr, err := s.session.Backend()
	if err != nil {
		return decimal.Zero, err
	}
	wei, err := backend.BalanceAt(ctx, addr, nil)
	if err != nil {
		return decimal.Zero, errno.ErrLedgerRejected.WithMessage(err.Error())
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals), nil
}

// TokenBalance 查询 ERC-20 代币余额 (展示单位)
func (s *Service) TokenBalance(ctx context.Context, token TokenDescriptor) (decimal.Decimal, error) {
	backend, addr, err := s.session.Backend()
	if err != nil {
		return decimal.Zero, err
	}
	if !common.IsHexAddress(token.Contract) {
		return decimal.Zero, errno.ErrUnknownToken
	}
	bal, err := tokenBalance(ctx, backend, common.HexToAddress(token.Contract), addr)
	if err != nil {
		return decimal.Zero, errno.ErrLedgerRejected.WithMessage(err.Error())
	}
	return decimal.NewFromBigInt(bal, -token.Decimals), nil
}
