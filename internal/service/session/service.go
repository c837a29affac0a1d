package session

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"wallet-ext/internal/service/chain"
	"wallet-ext/internal/service/nonce"
	"wallet-ext/pkg/cache"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/monitor"
	"wallet-ext/pkg/vault"

	"go.uber.org/zap"
)

const mirrorKey = "wallet:session"

// State 是对外可见的会话状态。私钥材料绝不出现在这里。
type State struct {
	IsUnlocked bool   `json:"is_unlocked"`
	Address    string `json:"address,omitempty"`
}

// mirrorRecord 会话镜像: 进程重启后恢复已解锁会话用的短期副本。
// 只存在于会话级缓存 (memory/redis + TTL)，从不落入持久存储，
// 锁定或浏览器关闭时清除。
type mirrorRecord struct {
	Address string `json:"address"`
	KeyHex  string `json:"key_hex"`
}

// Service 独占持有解锁会话: 解密后的私钥、账本连接和 nonce tracker。
// 其他组件不得保留私钥副本超过单次签名调用。
type Service struct {
	mu sync.Mutex

	walletPath    string
	rpcURL        string
	dial          chain.Dialer
	mirror        cache.Cache
	mirrorTTL     time.Duration
	unlockTimeout time.Duration

	unlocked bool
	address  common.Address
	priv     *ecdsa.PrivateKey
	backend  chain.Backend
	chainID  *big.Int
	tracker  *nonce.Tracker

	idleTimer *time.Timer
}

type Options struct {
	WalletPath    string
	RpcURL        string
	Dial          chain.Dialer // nil 时使用 chain.Dial
	Mirror        cache.Cache  // nil 时不启用会话镜像
	MirrorTTL     time.Duration
	UnlockTimeout time.Duration // 0 = 不自动锁定
}

func New(opts Options) *Service {
	dial := opts.Dial
	if dial == nil {
		dial = chain.Dial
	}
	return &Service{
		walletPath:    opts.WalletPath,
		rpcURL:        opts.RpcURL,
		dial:          dial,
		mirror:        opts.Mirror,
		mirrorTTL:     opts.MirrorTTL,
		unlockTimeout: opts.UnlockTimeout,
	}
}

// Unlock 读取持久化的加密记录，解密私钥，建立账本连接并缓存会话。
// 记录不存在 → ErrNoWalletFound；解密失败 (密码错/记录损坏) → ErrInvalidPassword。
// 解锁失败不产生任何持久化写入。
func (s *Service) Unlock(ctx context.Context, password string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unlocked {
		return s.stateLocked(), nil
	}

	record, err := vault.LoadFromFile(s.walletPath)
	if err != nil {
		return State{}, err
	}

	keyBytes, err := vault.Decrypt(record, password)
	if err != nil {
		if monitor.Business != nil {
			monitor.Business.UnlockFailedTotal.Inc()
		}
		return State{}, err
	}

	if err := s.adopt(ctx, keyBytes, record.Address); err != nil {
		return State{}, err
	}

	logger.Info("钱包已解锁", zap.String("address", s.address.Hex()))
	return s.stateLocked(), nil
}

// Restore 尝试从会话镜像恢复解锁状态 (进程重启场景)。
// 没有可用镜像时静默返回 false，不是错误。
func (s *Service) Restore(ctx context.Context) (bool, error) {
	if s.mirror == nil {
		return false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unlocked {
		return true, nil
	}

	var rec mirrorRecord
	if err := s.mirror.Get(ctx, mirrorKey, &rec); err != nil {
		if err == cache.ErrMiss {
			return false, nil
		}
		return false, err
	}

	keyBytes, err := hex.DecodeString(rec.KeyHex)
	if err != nil {
		// 镜像损坏: 丢弃，要求用户重新解锁
		_ = s.mirror.Delete(ctx, mirrorKey)
		return false, nil
	}

	if err := s.adopt(ctx, keyBytes, rec.Address); err != nil {
		return false, err
	}

	logger.Info("会话已从镜像恢复", zap.String("address", s.address.Hex()))
	return true, nil
}

// adopt 以解密后的私钥字节建立会话。调用方持有 s.mu。
// keyBytes 用完即清零。
func (s *Service) adopt(ctx context.Context, keyBytes []byte, recordAddr string) error {
	defer vault.Zero(keyBytes)

	priv, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		// 解密成功但不是合法的 secp256k1 私钥 → 记录损坏，同密码错误信号
		return errno.ErrInvalidPassword
	}

	addr := crypto.PubkeyToAddress(priv.PublicKey)
	if recordAddr != "" && !strings.EqualFold(addr.Hex(), recordAddr) {
		return errno.ErrInvalidPassword
	}

	backend, err := s.dial(ctx, s.rpcURL)
	if err != nil {
		return err
	}

	chainID, err := backend.ChainID(ctx)
	if err != nil {
		backend.Close()
		return err
	}

	s.priv = priv
	s.address = addr
	s.backend = backend
	s.chainID = chainID
	s.tracker = nonce.NewTracker(backend, addr)
	s.unlocked = true

	// nonce 初始同步。失败不阻塞解锁: 首次提交前 EnsureSynced 会补救。
	if _, err := s.tracker.Init(ctx); err != nil {
		logger.Warn("nonce 初始同步失败，将在首次提交前重试", zap.Error(err))
	}

	s.writeMirror(ctx)
	s.resetIdleTimerLocked()
	return nil
}

// Lock 同步清除所有缓存的密钥材料与连接状态。幂等。
func (s *Service) Lock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return
	}

	// 尽力清除私钥标量。ecdsa 内部是 big.Int，无法保证内存无残留，
	// 但至少让活对象不再携带可用密钥。
	if s.priv != nil {
		s.priv.D.SetInt64(0)
		s.priv = nil
	}
	if s.backend != nil {
		s.backend.Close()
		s.backend = nil
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
		s.idleTimer = nil
	}
	s.tracker = nil
	s.chainID = nil
	s.address = common.Address{}
	s.unlocked = false

	if s.mirror != nil {
		_ = s.mirror.Delete(context.Background(), mirrorKey)
	}
	logger.Info("钱包已锁定")
}

// State 返回对外安全的会话状态快照。
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Service) stateLocked() State {
	st := State{IsUnlocked: s.unlocked}
	if s.unlocked {
		st.Address = s.address.Hex()
	}
	return st
}

// SigningContext 把签名所需的材料借给提交器: 私钥指针、地址、链 ID、
// tracker 和账本连接。借用以单次 Submit 调用为界，调用方不得留存。
// 未解锁 → ErrWalletLocked。
func (s *Service) SigningContext() (*ecdsa.PrivateKey, common.Address, *big.Int, *nonce.Tracker, chain.Backend, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return nil, common.Address{}, nil, nil, nil, errno.ErrWalletLocked
	}
	s.resetIdleTimerLocked()
	return s.priv, s.address, s.chainID, s.tracker, s.backend, nil
}

// Backend 返回账本连接 (只读查询用)。未解锁 → ErrWalletLocked。
func (s *Service) Backend() (chain.Backend, common.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		return nil, common.Address{}, errno.ErrWalletLocked
	}
	return s.backend, s.address, nil
}

func (s *Service) writeMirror(ctx context.Context) {
	if s.mirror == nil {
		return
	}
	rec := mirrorRecord{
		Address: s.address.Hex(),
		KeyHex:  hex.EncodeToString(crypto.FromECDSA(s.priv)),
	}
	if err := s.mirror.Set(ctx, mirrorKey, rec, s.mirrorTTL); err != nil {
		logger.Warn("写入会话镜像失败", zap.Error(err))
	}
}

// resetIdleTimerLocked 重置空闲自动锁定计时器。调用方持有 s.mu。
func (s *Service) resetIdleTimerLocked() {
	if s.unlockTimeout <= 0 {
		return
	}
	if s.idleTimer != nil {
		s.idleTimer.Stop()
	}
	s.idleTimer = time.AfterFunc(s.unlockTimeout, func() {
		logger.Info("会话空闲超时，自动锁定")
		s.Lock()
	})
}
