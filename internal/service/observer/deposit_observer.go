package observer

import (
	"context"
	"encoding/json"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wallet-ext/internal/event"
	"wallet-ext/internal/model"
	"wallet-ext/internal/service/mq"
	"wallet-ext/internal/service/session"
	"wallet-ext/pkg/logger"

	"go.uber.org/zap"
)

const nativeDecimals = 18

// DepositObserver 监视账本上发给本钱包地址的入账转账。
// 核心设计:
// 1. fetcher (生产者): 单协程，按顺序拉取新区块
// 2. worker pool (消费者): 多协程，并行检查区块内的交易
// 钱包锁定期间静默暂停，解锁后从当时的链头继续 (不回补锁定期间的区块)。
type DepositObserver struct {
	session  *session.Service
	db       *gorm.DB
	producer mq.Producer

	pollInterval time.Duration
	workerCount  int

	lastSeen uint64
	wg       sync.WaitGroup

	// fetcher -> blocksChan -> workers
	blocksChan chan *types.Block
}

func NewDepositObserver(sess *session.Service, db *gorm.DB, producer mq.Producer, workerCount int) *DepositObserver {
	if producer == nil {
		producer = mq.NopProducer{}
	}
	if workerCount <= 0 {
		workerCount = 2
	}
	return &DepositObserver{
		session:      sess,
		db:           db,
		producer:     producer,
		pollInterval: 5 * time.Second,
		workerCount:  workerCount,
		blocksChan:   make(chan *types.Block, workerCount*2),
	}
}

// Start 启动扫描协程。ctx 取消后全部退出。
func (o *DepositObserver) Start(ctx context.Context) {
	logger.Info("启动入账扫描器", zap.Int("workers", o.workerCount))

	for i := 0; i < o.workerCount; i++ {
		o.wg.Add(1)
		go o.worker(ctx, i)
	}

	o.wg.Add(1)
	go o.fetcher(ctx)
}

// Wait 阻塞直到所有协程退出
func (o *DepositObserver) Wait() {
	o.wg.Wait()
}

// fetcher (生产者): 轮询链头，把新区块推给 workers。
// workers 处理不过来时在这里阻塞，形成背压。
func (o *DepositObserver) fetcher(ctx context.Context) {
	defer o.wg.Done()
	defer close(o.blocksChan)

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		backend, _, err := o.session.Backend()
		if err != nil {
			// 钱包锁定中，无连接可用
			o.lastSeen = 0
			continue
		}

		head, err := backend.BlockNumber(ctx)
		if err != nil {
			logger.Warn("读取链头失败", zap.Error(err))
			continue
		}

		if o.lastSeen == 0 {
			// 刚解锁: 从当前链头开始，不回扫历史
			o.lastSeen = head
			continue
		}

		for n := o.lastSeen + 1; n <= head; n++ {
			block, err := backend.BlockByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				logger.Warn("拉取区块失败", zap.Uint64("number", n), zap.Error(err))
				break
			}
			select {
			case o.blocksChan <- block:
				o.lastSeen = n
			case <-ctx.Done():
				return
			}
		}
	}
}

// worker (消费者): 检查区块中发给本钱包地址的原生币转账
func (o *DepositObserver) worker(ctx context.Context, id int) {
	defer o.wg.Done()

	for block := range o.blocksChan {
		_, addr, err := o.session.Backend()
		if err != nil {
			continue // 锁定瞬间残留的区块，直接丢弃
		}

		for _, tx := range block.Transactions() {
			to := tx.To()
			if to == nil || !strings.EqualFold(to.Hex(), addr.Hex()) {
				continue
			}
			if tx.Value().Sign() <= 0 {
				continue
			}
			o.recordDeposit(ctx, tx, block.NumberU64(), addr.Hex())
		}

		logger.Debug("区块扫描完成",
			zap.Int("worker", id),
			zap.Uint64("number", block.NumberU64()))
	}
}

// recordDeposit 落历史并发余额变更通知。
// TxHash 唯一索引保证重复扫描不产生重复记录。
func (o *DepositObserver) recordDeposit(ctx context.Context, tx *types.Transaction, blockNum uint64, addr string) {
	amount := decimal.NewFromBigInt(tx.Value(), -nativeDecimals)
	logger.Info("发现入账转账",
		zap.String("hash", tx.Hash().Hex()),
		zap.String("amount", amount.String()),
		zap.Uint64("block", blockNum))

	if o.db != nil {
		rec := model.TransactionRecord{
			TxHash:    tx.Hash().Hex(),
			Kind:      "deposit",
			ToAddress: addr,
			Amount:    amount,
			Nonce:     tx.Nonce(),
			Status:    "mined",
			Block:     blockNum,
		}
		if err := o.db.Create(&rec).Error; err != nil {
			logger.Warn("写入入账记录失败", zap.Error(err))
		}
	}

	payload, _ := json.Marshal(event.BalanceChangedEvent{
		Address: addr,
		TxHash:  tx.Hash().Hex(),
		Block:   blockNum,
	})
	if err := o.producer.Publish(ctx, event.TopicBalanceChanged, addr, payload); err != nil {
		logger.Warn("余额变更通知发布失败", zap.Error(err))
	}
}
