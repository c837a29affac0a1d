package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"wallet-ext/internal/event"
	"wallet-ext/internal/model"
	"wallet-ext/internal/service/mq"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/monitor"
	"wallet-ext/pkg/safe_random"

	"go.uber.org/zap"
)

// Status 队列动作状态机:
// pending → {approved → completed|failed, denied, cancelled}
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDenied    Status = "denied"
	StatusCancelled Status = "cancelled"
)

// Descriptor 是动作的展示信息，进入 Summary，不含闭包和密钥材料
type Descriptor struct {
	Kind        string          `json:"kind"` // tip, tip_shower, promotion, subscription
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	TokenSymbol string          `json:"token_symbol,omitempty"`
	OriginTab   int             `json:"origin_tab,omitempty"`
}

// Result 在动作到达终态时交给结果回调
type Result struct {
	ActionID string
	Kind     string
	Status   Status
	TxHash   string
	Reason   string
}

// Executor 执行已批准的动作，返回产生的交易哈希 (没有则为空)
type Executor func(ctx context.Context) (txHash string, err error)

// ResultCallback 动作终态通知。对需要审批的命令来说，
// 这是 "稍后再次应答" 的异步半边。
type ResultCallback func(Result)

// Summary 是 Summary() 返回的只读快照条目
type Summary struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	Title      string          `json:"title"`
	Desc       string          `json:"description"`
	Amount     decimal.Decimal `json:"amount"`
	Token      string          `json:"token_symbol,omitempty"`
	Status     Status          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
	IsRunning  bool            `json:"is_running"`
	IsExclusiv bool            `json:"is_exclusive"`
}

type action struct {
	id        string
	desc      Descriptor
	status    Status
	exclusive bool
	running   bool
	createdAt time.Time
	execute   Executor
	notify    ResultCallback
}

// Queue 把所有需要用户批准签名的请求串行化为单一有序待办列表。
// 已批准的独占类动作严格按入队顺序、一次一个地执行 ——
// 这是防止并发批准的动作在提交器里产生 nonce 竞争的唯一机制，
// 不再使用按操作分散的 in-flight 布尔标志。
type Queue struct {
	mu      sync.Mutex
	actions map[string]*action
	order   []string // 存活动作的入队顺序

	// slot 独占槽 (容量 1)。runner 阻塞占用；
	// RunExclusive 尝试占用，失败即 ErrExclusivityViolation。
	slot chan struct{}
	wake chan struct{}

	db       *gorm.DB
	producer mq.Producer
}

func New(db *gorm.DB, producer mq.Producer) *Queue {
	if producer == nil {
		producer = mq.NopProducer{}
	}
	return &Queue{
		actions:  make(map[string]*action),
		slot:     make(chan struct{}, 1),
		wake:     make(chan struct{}, 1),
		db:       db,
		producer: producer,
	}
}

// Start 启动执行协程。ctx 取消后不再执行新动作。
func (q *Queue) Start(ctx context.Context) {
	go q.runner(ctx)
}

// Enqueue 追加一个待批准动作并立即返回其 id。
func (q *Queue) Enqueue(desc Descriptor, exclusive bool, exec Executor, cb ResultCallback) (string, error) {
	id, err := safe_random.GenerateRandomHexString(16)
	if err != nil {
		return "", err
	}

	a := &action{
		id:        id,
		desc:      desc,
		status:    StatusPending,
		exclusive: exclusive,
		createdAt: time.Now(),
		execute:   exec,
		notify:    cb,
	}

	q.mu.Lock()
	q.actions[id] = a
	q.order = append(q.order, id)
	depth := len(q.order)
	q.mu.Unlock()

	if monitor.Business != nil {
		monitor.Business.ActionsEnqueuedTotal.WithLabelValues(desc.Kind).Inc()
		monitor.Business.QueueDepth.Set(float64(depth))
	}
	logger.Info("动作入队", zap.String("id", id), zap.String("kind", desc.Kind))
	return id, nil
}

// Approve 把动作从 pending 转为 approved。
// 执行交给 runner: 独占类动作按入队顺序排队，前一个未终态时后一个不会开始。
// 对同一动作的第二次 Approve → ErrActionNotPending。
func (q *Queue) Approve(id string) error {
	q.mu.Lock()
	a, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return errno.ErrActionNotFound
	}
	if a.status != StatusPending {
		q.mu.Unlock()
		return errno.ErrActionNotPending
	}
	a.status = StatusApproved
	exclusive := a.exclusive
	q.mu.Unlock()

	if exclusive {
		q.signal()
	} else {
		// 非独占动作 (例如只标记审批上下文) 不占独占槽，立即执行
		go q.run(context.Background(), a)
	}
	return nil
}

// Deny 拒绝一个待批准动作。永不调用 executor。
func (q *Queue) Deny(id, reason string) error {
	return q.resolvePending(id, StatusDenied, reason)
}

// Cancel 取消一个待批准动作。
// 已批准/执行中的动作不可取消 (广播无法撤回) → ErrActionNotCancellable。
func (q *Queue) Cancel(id, reason string) error {
	return q.resolvePending(id, StatusCancelled, reason)
}

func (q *Queue) resolvePending(id string, terminal Status, reason string) error {
	q.mu.Lock()
	a, ok := q.actions[id]
	if !ok {
		q.mu.Unlock()
		return errno.ErrActionNotFound
	}
	if a.status != StatusPending {
		q.mu.Unlock()
		if terminal == StatusCancelled {
			return errno.ErrActionNotCancellable
		}
		return errno.ErrActionNotPending
	}
	// 状态检查与落终态必须在同一临界区: 并发的 Approve 不得插入间隙
	depth := q.detachLocked(a, terminal)
	q.mu.Unlock()

	q.settle(a, terminal, "", reason, depth)
	return nil
}

// Summary 返回所有未终态动作的只读快照
func (q *Queue) Summary() []Summary {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Summary, 0, len(q.order))
	for _, id := range q.order {
		a, ok := q.actions[id]
		if !ok {
			continue
		}
		out = append(out, Summary{
			ID:         a.id,
			Kind:       a.desc.Kind,
			Title:      a.desc.Title,
			Desc:       a.desc.Description,
			Amount:     a.desc.Amount,
			Token:      a.desc.TokenSymbol,
			Status:     a.status,
			CreatedAt:  a.createdAt,
			IsRunning:  a.running,
			IsExclusiv: a.exclusive,
		})
	}
	return out
}

// RunExclusive 占用独占槽执行 fn (两阶段上下文的最终执行走这里)。
// 有独占动作在飞行中 → ErrExclusivityViolation，绝不交错。
func (q *Queue) RunExclusive(ctx context.Context, label string, fn func(ctx context.Context) error) error {
	select {
	case q.slot <- struct{}{}:
	default:
		return errno.ErrExclusivityViolation
	}
	defer func() { <-q.slot }()

	logger.Info("独占执行开始", zap.String("label", label))
	return fn(ctx)
}

// runner 串行执行已批准的独占动作，严格按入队顺序。
func (q *Queue) runner(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		}

		for {
			a := q.nextApproved()
			if a == nil {
				break
			}

			// 占槽可能等待 RunExclusive 释放
			select {
			case q.slot <- struct{}{}:
			case <-ctx.Done():
				return
			}
			q.run(ctx, a)
			<-q.slot
		}
	}
}

// nextApproved 取入队顺序最靠前的 approved 且未开始的独占动作
func (q *Queue) nextApproved() *action {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, id := range q.order {
		a, ok := q.actions[id]
		if !ok {
			continue
		}
		if a.exclusive && a.status == StatusApproved && !a.running {
			a.running = true
			return a
		}
	}
	return nil
}

// run 执行一个已批准的动作并落终态
func (q *Queue) run(ctx context.Context, a *action) {
	q.mu.Lock()
	a.running = true
	q.mu.Unlock()

	txHash, err := a.execute(ctx)
	if err != nil {
		q.finalize(a, StatusFailed, txHash, err.Error())
		return
	}
	q.finalize(a, StatusCompleted, txHash, "")
}

// finalize 落终态: 从存活列表移除、写历史、发事件、调结果回调。
// 回调在锁外调用。
func (q *Queue) finalize(a *action, terminal Status, txHash, reason string) {
	q.mu.Lock()
	depth := q.detachLocked(a, terminal)
	q.mu.Unlock()

	q.settle(a, terminal, txHash, reason, depth)
}

// detachLocked 落终态并把动作从存活列表移除。调用方持有 q.mu。
// 动作一经移除，Approve/Deny/Cancel 都只能看到 ErrActionNotFound。
func (q *Queue) detachLocked(a *action, terminal Status) int {
	a.status = terminal
	a.running = false
	delete(q.actions, a.id)
	for i, id := range q.order {
		if id == a.id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return len(q.order)
}

// settle 终态的锁外副作用: 指标、写历史、发事件、调结果回调
func (q *Queue) settle(a *action, terminal Status, txHash, reason string, depth int) {
	if monitor.Business != nil {
		monitor.Business.ActionsResolvedTotal.WithLabelValues(string(terminal)).Inc()
		monitor.Business.QueueDepth.Set(float64(depth))
	}

	q.persist(a, terminal, txHash, reason)
	q.publish(a, terminal, txHash, reason)

	if a.notify != nil {
		a.notify(Result{
			ActionID: a.id,
			Kind:     a.desc.Kind,
			Status:   terminal,
			TxHash:   txHash,
			Reason:   reason,
		})
	}

	logger.Info("动作终态",
		zap.String("id", a.id),
		zap.String("status", string(terminal)),
		zap.String("reason", reason))
}

func (q *Queue) persist(a *action, terminal Status, txHash, reason string) {
	if q.db == nil {
		return
	}
	rec := model.ActionRecord{
		ActionID:    a.id,
		Kind:        a.desc.Kind,
		Title:       a.desc.Title,
		Description: a.desc.Description,
		Amount:      a.desc.Amount,
		TokenSymbol: a.desc.TokenSymbol,
		Status:      string(terminal),
		Reason:      reason,
		TxHash:      txHash,
		CreatedAt:   a.createdAt,
		ResolvedAt:  time.Now(),
	}
	if err := q.db.Create(&rec).Error; err != nil {
		logger.Warn("写入动作历史失败", zap.Error(err))
	}
}

func (q *Queue) publish(a *action, terminal Status, txHash, reason string) {
	payload, _ := json.Marshal(event.ActionResultEvent{
		ActionID: a.id,
		Kind:     a.desc.Kind,
		Status:   string(terminal),
		TxHash:   txHash,
		Reason:   reason,
	})
	if err := q.producer.Publish(context.Background(), event.TopicActionResult, a.id, payload); err != nil {
		logger.Warn("动作结果通知发布失败", zap.Error(err))
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
