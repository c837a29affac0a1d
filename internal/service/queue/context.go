package queue

import (
	"sync"
	"time"

	"wallet-ext/pkg/crypto_util"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/safe_random"
)

// ApprovalContext 两阶段命令 (打赏雨、推广) 的审批上下文。
// 第一阶段注册载荷并入队审批；第二阶段凭 contextId 取回已批准的载荷执行。
type ApprovalContext struct {
	ID          string
	Kind        string
	Payload     []byte
	Fingerprint string // 载荷的 blake3 摘要，用于拒绝重复注册
	Approved    bool
	CreatedAt   time.Time
}

// ContextRegistry 持有存活的审批上下文。
// 上下文一经取走即删除: 同一次批准最多兑现一次执行。
type ContextRegistry struct {
	mu       sync.Mutex
	contexts map[string]*ApprovalContext
	byPrint  map[string]string // fingerprint → contextId
}

func NewContextRegistry() *ContextRegistry {
	return &ContextRegistry{
		contexts: make(map[string]*ApprovalContext),
		byPrint:  make(map[string]string),
	}
}

// Create 注册新的审批上下文。调用方指定 id 时沿用 (重复 → ErrDuplicateContext)，
// 否则生成随机 id。相同载荷重复注册同样拒绝。
func (r *ContextRegistry) Create(id, kind string, payload []byte) (*ApprovalContext, error) {
	print := crypto_util.CalculateBlake3(payload)

	r.mu.Lock()
	defer r.mu.Unlock()

	if id != "" {
		if _, exists := r.contexts[id]; exists {
			return nil, errno.ErrDuplicateContext
		}
	} else {
		var err error
		id, err = safe_random.GenerateRandomHexString(16)
		if err != nil {
			return nil, err
		}
	}
	if _, exists := r.byPrint[print]; exists {
		return nil, errno.ErrDuplicateContext
	}

	c := &ApprovalContext{
		ID:          id,
		Kind:        kind,
		Payload:     payload,
		Fingerprint: print,
		CreatedAt:   time.Now(),
	}
	r.contexts[id] = c
	r.byPrint[print] = id
	return c, nil
}

// MarkApproved 在用户批准对应动作后标记上下文可执行。
// 上下文已被拒绝/清除时返回 false。
func (r *ContextRegistry) MarkApproved(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return false
	}
	c.Approved = true
	return true
}

// TakeApproved 取走一个已批准的上下文并从注册表删除。
// 不存在、未批准、或已被上一次执行取走 → ErrApprovalExpired。
func (r *ContextRegistry) TakeApproved(id string) (*ApprovalContext, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.contexts[id]
	if !ok || !c.Approved {
		return nil, errno.ErrApprovalExpired
	}
	delete(r.contexts, id)
	delete(r.byPrint, c.Fingerprint)
	return c, nil
}

// Remove 清除上下文 (审批被拒绝或取消时)。幂等。
func (r *ContextRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contexts[id]
	if !ok {
		return
	}
	delete(r.contexts, id)
	delete(r.byPrint, c.Fingerprint)
}
