package nonce

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"

	"wallet-ext/pkg/errno"
)

// fakeReader 返回预设的 pending nonce 序列
type fakeReader struct {
	mu     sync.Mutex
	values []uint64
	calls  int
	err    error
}

func (f *fakeReader) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	v := f.values[f.calls]
	if f.calls < len(f.values)-1 {
		f.calls++
	}
	return v, nil
}

var testAccount = common.HexToAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1")

func TestReserveBeforeInit(t *testing.T) {
	tr := NewTracker(&fakeReader{values: []uint64{5}}, testAccount)

	_, err := tr.Reserve()
	if !errors.Is(err, errno.ErrNonceNotSynced) {
		t.Errorf("Expected ErrNonceNotSynced, got %v", err)
	}
}

func TestInitAndSequentialReserve(t *testing.T) {
	tr := NewTracker(&fakeReader{values: []uint64{5}}, testAccount)

	n, err := tr.Init(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Fatalf("Expected initial nonce 5, got %d", n)
	}

	// 连续保留必须严格递增
	for want := uint64(5); want < 8; want++ {
		got, err := tr.Reserve()
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("Expected nonce %d, got %d", want, got)
		}
	}
}

// Resync 必须用账本的值覆盖缓存，而不是取较大者
func TestResyncOverridesCache(t *testing.T) {
	reader := &fakeReader{values: []uint64{5, 7}}
	tr := NewTracker(reader, testAccount)

	if _, err := tr.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.Reserve(); err != nil { // 缓存变成 6
		t.Fatal(err)
	}

	n, err := tr.Resync(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("Expected resynced nonce 7, got %d", n)
	}

	got, err := tr.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if got != 7 {
		t.Errorf("Expected next reserve 7, got %d", got)
	}
}

func TestEnsureSynced(t *testing.T) {
	reader := &fakeReader{values: []uint64{3}}
	tr := NewTracker(reader, testAccount)

	if err := tr.EnsureSynced(context.Background()); err != nil {
		t.Fatal(err)
	}
	// 已同步时不再访问账本
	if err := tr.EnsureSynced(context.Background()); err != nil {
		t.Fatal(err)
	}
	if reader.calls != 0 { // values 只有一个元素, calls 停在 0
		t.Log("reader calls:", reader.calls)
	}

	n, err := tr.Reserve()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("Expected nonce 3, got %d", n)
	}
}

// 并发 Reserve 不得发出重复的 nonce
func TestConcurrentReserve(t *testing.T) {
	tr := NewTracker(&fakeReader{values: []uint64{0}}, testAccount)
	if _, err := tr.Init(context.Background()); err != nil {
		t.Fatal(err)
	}

	const goroutines = 50
	results := make(chan uint64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := tr.Reserve()
			if err != nil {
				t.Error(err)
				return
			}
			results <- n
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[uint64]bool)
	for n := range results {
		if seen[n] {
			t.Fatalf("Duplicate nonce issued: %d", n)
		}
		seen[n] = true
	}
	if len(seen) != goroutines {
		t.Fatalf("Expected %d unique nonces, got %d", goroutines, len(seen))
	}
}

func TestIsConflict(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"nonce too low (canonical)", core.ErrNonceTooLow, true},
		{"nonce too low (wrapped)", fmt.Errorf("send failed: %w", core.ErrNonceTooLow), true},
		{"replace underpriced", txpool.ErrReplaceUnderpriced, true},
		{"already known", txpool.ErrAlreadyKnown, true},
		// RPC 边界把错误打平成字符串后仍要能识别
		{"nonce too low (string)", errors.New("rpc error: nonce too low"), true},
		{"already known (string)", errors.New("already known"), true},
		{"unrelated", errors.New("insufficient funds for gas * price + value"), false},
		{"connection refused", errors.New("connection refused"), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsConflict(tc.err); got != tc.want {
				t.Errorf("IsConflict(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
