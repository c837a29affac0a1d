package nonce

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"

	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/monitor"

	"go.uber.org/zap"
)

// PendingStateReader 读取账户在账本上的下一个 pending nonce
type PendingStateReader interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Tracker 是活动账户 nonce 的唯一事实来源。
// nonce 在网络确认交易之前就被乐观地保留，这样可以背靠背提交而不用
// 等待确认；代价是失败后必须 Resync。
//
// 互斥锁横跨 Resync 的网络读取全程持有: Resync 进行中的 Reserve 会阻塞，
// 二者绝不交错，否则可能发出过期或重复的 nonce。
type Tracker struct {
	mu      sync.Mutex
	reader  PendingStateReader
	account common.Address
	next    uint64
	synced  bool
}

func NewTracker(reader PendingStateReader, account common.Address) *Tracker {
	return &Tracker{
		reader:  reader,
		account: account,
	}
}

// Init 从账本读取下一个 pending nonce 并缓存。
// 每次解锁/恢复会话后、任何提交之前必须执行一次。
func (t *Tracker) Init(ctx context.Context) (uint64, error) {
	return t.Resync(ctx)
}

// EnsureSynced 在尚未同步时执行一次 Init。
// 允许解锁时网络抖动导致的 Init 失败延迟到首次提交前补救。
func (t *Tracker) EnsureSynced(ctx context.Context) error {
	t.mu.Lock()
	synced := t.synced
	t.mu.Unlock()
	if synced {
		return nil
	}
	_, err := t.Init(ctx)
	return err
}

// Reserve 原子地返回当前缓存值并加一。
// 调用方必须恰好使用一次返回的 nonce。
func (t *Tracker) Reserve() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.synced {
		return 0, errno.ErrNonceNotSynced
	}
	n := t.next
	t.next++
	return n, nil
}

// Resync 重新读取账本的 pending nonce 并覆盖缓存。
// 只在检测到 nonce 冲突类失败后调用。持锁跨网络读取，
// 并发的 Reserve 会排队等待。
func (t *Tracker) Resync(ctx context.Context) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, err := t.reader.PendingNonceAt(ctx, t.account)
	if err != nil {
		return 0, err
	}

	if t.synced && n != t.next {
		logger.Warn("nonce 重新同步发现偏移",
			zap.Uint64("cached", t.next), zap.Uint64("ledger", n))
	}

	t.next = n
	t.synced = true
	if monitor.Business != nil {
		monitor.Business.NonceResyncTotal.Inc()
	}
	return n, nil
}

// conflictMarkers 取自 go-ethereum 的规范错误定义，而不是手写子串，
// 避免节点客户端措辞变化导致漏判。RPC 边界会把错误打平成字符串，
// 所以除 errors.Is 外还按规范文案匹配。
var conflictMarkers = []string{
	core.ErrNonceTooLow.Error(),
	txpool.ErrReplaceUnderpriced.Error(),
	txpool.ErrAlreadyKnown.Error(),
}

// IsConflict 判断广播错误是否属于 nonce 冲突类
// (过期 / 重复 / 替换价格不足)，这类错误应触发 Resync。
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, core.ErrNonceTooLow) ||
		errors.Is(err, txpool.ErrReplaceUnderpriced) ||
		errors.Is(err, txpool.ErrAlreadyKnown) {
		return true
	}
	msg := err.Error()
	for _, marker := range conflictMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
