package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"wallet-ext/pkg/errno"
)

func testDescriptor(kind string) Descriptor {
	return Descriptor{
		Kind:   kind,
		Title:  "test",
		Amount: decimal.NewFromInt(1),
	}
}

func waitResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("Timed out waiting for action result")
		return Result{}
	}
}

func TestApproveRunsExecutor(t *testing.T) {
	q := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan Result, 1)
	id, err := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		return "0xabc", nil
	}, func(r Result) { done <- r })
	if err != nil {
		t.Fatal(err)
	}

	if err := q.Approve(id); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.Status != StatusCompleted {
		t.Errorf("Expected completed, got %s", r.Status)
	}
	if r.TxHash != "0xabc" {
		t.Errorf("Expected tx hash 0xabc, got %s", r.TxHash)
	}

	// 终态动作从存活列表移除
	if len(q.Summary()) != 0 {
		t.Error("Terminal action still in summary")
	}
}

// 两个已批准的独占动作必须按入队顺序执行，前一个未终态时后一个不开始
func TestExclusiveActionsRunInEnqueueOrder(t *testing.T) {
	q := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var order []string
	aStarted := make(chan struct{})
	aRelease := make(chan struct{})
	doneA := make(chan Result, 1)
	doneB := make(chan Result, 1)

	idA, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		mu.Lock()
		order = append(order, "A")
		mu.Unlock()
		close(aStarted)
		<-aRelease // A 挂住，B 此时绝不能开始
		return "0xa", nil
	}, func(r Result) { doneA <- r })

	idB, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		mu.Lock()
		order = append(order, "B")
		mu.Unlock()
		return "0xb", nil
	}, func(r Result) { doneB <- r })

	// 先批准 B 再批准 A，然后才启动 runner:
	// 两个都已批准时，执行顺序必须按入队顺序而不是批准顺序
	if err := q.Approve(idB); err != nil {
		t.Fatal(err)
	}
	if err := q.Approve(idA); err != nil {
		t.Fatal(err)
	}
	q.Start(ctx)

	<-aStarted
	// A 执行中, B 必须还没开始
	mu.Lock()
	if len(order) != 1 || order[0] != "A" {
		t.Fatalf("Unexpected execution order while A running: %v", order)
	}
	mu.Unlock()

	close(aRelease)
	waitResult(t, doneA)
	waitResult(t, doneB)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "A" || order[1] != "B" {
		t.Fatalf("Expected order [A B], got %v", order)
	}
}

func TestDenyNeverRunsExecutor(t *testing.T) {
	q := New(nil, nil)

	executed := false
	done := make(chan Result, 1)
	id, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		executed = true
		return "", nil
	}, func(r Result) { done <- r })

	if err := q.Deny(id, "用户拒绝"); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.Status != StatusDenied {
		t.Errorf("Expected denied, got %s", r.Status)
	}
	if r.Reason != "用户拒绝" {
		t.Errorf("Expected reason carried, got %q", r.Reason)
	}
	if executed {
		t.Error("Executor ran for a denied action")
	}

	// 终态之后的再次操作
	if err := q.Approve(id); !errors.Is(err, errno.ErrActionNotFound) {
		t.Errorf("Expected ErrActionNotFound after deny, got %v", err)
	}
}

func TestCancelSemantics(t *testing.T) {
	q := New(nil, nil)

	// pending 可取消
	done := make(chan Result, 1)
	id, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		return "", nil
	}, func(r Result) { done <- r })

	if err := q.Cancel(id, ""); err != nil {
		t.Fatal(err)
	}
	if r := waitResult(t, done); r.Status != StatusCancelled {
		t.Errorf("Expected cancelled, got %s", r.Status)
	}

	// approved 不可取消 (没有 runner, 动作停在 approved)
	id2, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		return "", nil
	}, nil)
	if err := q.Approve(id2); err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(id2, ""); !errors.Is(err, errno.ErrActionNotCancellable) {
		t.Errorf("Expected ErrActionNotCancellable, got %v", err)
	}
}

// 并发的 Cancel 与 Approve 恰好一个成功。
// 取消成功的动作绝不执行 executor，终态回调只发一次。
func TestConcurrentCancelApprove(t *testing.T) {
	q := New(nil, nil)

	for i := 0; i < 200; i++ {
		var runs int32
		results := make(chan Result, 4)
		id, err := q.Enqueue(testDescriptor("tip"), false, func(ctx context.Context) (string, error) {
			atomic.AddInt32(&runs, 1)
			return "", nil
		}, func(r Result) { results <- r })
		if err != nil {
			t.Fatal(err)
		}

		start := make(chan struct{})
		var wg sync.WaitGroup
		var cancelErr, approveErr error
		wg.Add(2)
		go func() { defer wg.Done(); <-start; cancelErr = q.Cancel(id, "用户反悔") }()
		go func() { defer wg.Done(); <-start; approveErr = q.Approve(id) }()
		close(start)
		wg.Wait()

		if cancelErr == nil && approveErr == nil {
			t.Fatalf("第 %d 轮: Cancel 与 Approve 同时成功", i)
		}
		if cancelErr != nil && approveErr != nil {
			t.Fatalf("第 %d 轮: 两者都失败: cancel=%v approve=%v", i, cancelErr, approveErr)
		}

		r := waitResult(t, results)
		if cancelErr == nil {
			if r.Status != StatusCancelled {
				t.Fatalf("第 %d 轮: 取消成功但终态为 %s", i, r.Status)
			}
			// 输掉竞争的 Approve 如果错误地启动了 executor，这里必须能观测到
			time.Sleep(2 * time.Millisecond)
			if n := atomic.LoadInt32(&runs); n != 0 {
				t.Fatalf("第 %d 轮: 取消成功后 executor 被执行 %d 次", i, n)
			}
		} else if r.Status != StatusCompleted {
			t.Fatalf("第 %d 轮: 批准成功但终态为 %s", i, r.Status)
		}

		// 终态回调不得重复
		select {
		case r2 := <-results:
			t.Fatalf("第 %d 轮: 重复的结果回调: %+v", i, r2)
		default:
		}
	}
}

func TestDoubleApprove(t *testing.T) {
	q := New(nil, nil)

	id, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		return "", nil
	}, nil)

	if err := q.Approve(id); err != nil {
		t.Fatal(err)
	}
	if err := q.Approve(id); !errors.Is(err, errno.ErrActionNotPending) {
		t.Errorf("Expected ErrActionNotPending, got %v", err)
	}
}

func TestApproveUnknownAction(t *testing.T) {
	q := New(nil, nil)
	if err := q.Approve("missing"); !errors.Is(err, errno.ErrActionNotFound) {
		t.Errorf("Expected ErrActionNotFound, got %v", err)
	}
}

func TestFailedExecutorReportsReason(t *testing.T) {
	q := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	done := make(chan Result, 1)
	id, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		return "", errno.ErrInsufficientBalance
	}, func(r Result) { done <- r })

	if err := q.Approve(id); err != nil {
		t.Fatal(err)
	}

	r := waitResult(t, done)
	if r.Status != StatusFailed {
		t.Errorf("Expected failed, got %s", r.Status)
	}
	if r.Reason != errno.ErrInsufficientBalance.Message {
		t.Errorf("Expected balance reason, got %q", r.Reason)
	}
}

// 独占动作执行期间，RunExclusive 必须立即失败而不是排队
func TestRunExclusiveConflictsWithRunningAction(t *testing.T) {
	q := New(nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q.Start(ctx)

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan Result, 1)

	id, _ := q.Enqueue(testDescriptor("tip"), true, func(ctx context.Context) (string, error) {
		close(started)
		<-release
		return "", nil
	}, func(r Result) { done <- r })
	if err := q.Approve(id); err != nil {
		t.Fatal(err)
	}
	<-started

	err := q.RunExclusive(context.Background(), "batch", func(ctx context.Context) error {
		t.Error("fn ran despite exclusive action in flight")
		return nil
	})
	if !errors.Is(err, errno.ErrExclusivityViolation) {
		t.Errorf("Expected ErrExclusivityViolation, got %v", err)
	}

	close(release)
	waitResult(t, done)

	// 槽释放后可以独占执行。runner 释放槽与结果回调之间有微小间隔，轮询等待。
	ran := false
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := q.RunExclusive(context.Background(), "batch", func(ctx context.Context) error {
			ran = true
			return nil
		})
		if err == nil {
			break
		}
		if !errors.Is(err, errno.ErrExclusivityViolation) || time.Now().After(deadline) {
			t.Fatalf("RunExclusive after release: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !ran {
		t.Error("fn did not run after slot release")
	}
}

func TestSummarySnapshot(t *testing.T) {
	q := New(nil, nil)

	idA, _ := q.Enqueue(testDescriptor("tip"), true, nil, nil)
	idB, _ := q.Enqueue(testDescriptor("promotion"), false, nil, nil)

	s := q.Summary()
	if len(s) != 2 {
		t.Fatalf("Expected 2 actions, got %d", len(s))
	}
	// 快照保持入队顺序
	if s[0].ID != idA || s[1].ID != idB {
		t.Error("Summary not in enqueue order")
	}
	if s[0].Status != StatusPending {
		t.Errorf("Expected pending, got %s", s[0].Status)
	}
}
