package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"wallet-ext/internal/service/queue"
	"wallet-ext/internal/service/session"
	"wallet-ext/pkg/config"
	"wallet-ext/pkg/errno"
)

func newTestRouter(trusted bool) (*gin.Engine, *RPCHandler) {
	gin.SetMode(gin.TestMode)

	sess := session.New(session.Options{WalletPath: "/nonexistent", RpcURL: "fake://"})
	q := queue.New(nil, nil)
	h := NewRPCHandler(sess, nil, q, queue.NewContextRegistry(), config.WalletConfig{
		Tokens: []config.TokenConfig{
			{Symbol: "TIP", Contract: "0x2222222222222222222222222222222222222222", Decimals: 6},
		},
	}, nil)

	r := gin.New()
	r.POST("/rpc", func(c *gin.Context) {
		c.Set(SenderTrustedKey, trusted)
		c.Next()
	}, h.Dispatch)
	return r, h
}

type rpcResp struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func postRPC(t *testing.T, r *gin.Engine, cmdType string, payload interface{}) rpcResp {
	t.Helper()

	body := map[string]interface{}{"type": cmdType}
	if payload != nil {
		body["payload"] = payload
	}
	raw, _ := json.Marshal(body)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Unexpected HTTP status %d", w.Code)
	}
	var resp rpcResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Bad response body: %v", err)
	}
	return resp
}

// 资金类命令必须拒绝不可信来源, 错误码先于一切业务校验
func TestFundMovingRequiresTrustedSender(t *testing.T) {
	r, _ := newTestRouter(false)

	fundCmds := []string{
		CmdSendTip, CmdSubscribeToToken, CmdTipShowerApproval,
		CmdExecuteTipShower, CmdCreatePromotion, CmdExecutePromotion,
	}
	for _, cmd := range fundCmds {
		resp := postRPC(t, r, cmd, map[string]interface{}{})
		if resp.Code != errno.ErrUnauthorizedSender.Code {
			t.Errorf("%s: expected code %d, got %d", cmd, errno.ErrUnauthorizedSender.Code, resp.Code)
		}
	}

	// 非资金命令不受限制
	resp := postRPC(t, r, CmdGetWalletState, nil)
	if resp.Code != errno.OK.Code {
		t.Errorf("GET_WALLET_STATE blocked for untrusted sender: %d", resp.Code)
	}
}

func TestUnknownCommand(t *testing.T) {
	r, _ := newTestRouter(true)
	resp := postRPC(t, r, "MAKE_COFFEE", nil)
	if resp.Code != errno.ErrUnknownCommand.Code {
		t.Errorf("Expected code %d, got %d", errno.ErrUnknownCommand.Code, resp.Code)
	}
}

func TestGetWalletStateLocked(t *testing.T) {
	r, _ := newTestRouter(true)
	resp := postRPC(t, r, CmdGetWalletState, nil)
	if resp.Code != errno.OK.Code {
		t.Fatalf("Unexpected code %d", resp.Code)
	}

	var state struct {
		IsUnlocked bool `json:"is_unlocked"`
	}
	if err := json.Unmarshal(resp.Data, &state); err != nil {
		t.Fatal(err)
	}
	if state.IsUnlocked {
		t.Error("Fresh session reported unlocked")
	}
}

func TestSendTipValidation(t *testing.T) {
	r, _ := newTestRouter(true)

	cases := []struct {
		name    string
		payload map[string]interface{}
		want    int
	}{
		{"非法地址", map[string]interface{}{"to": "not-an-address", "amount": "1"}, errno.ErrInvalidRecipient.Code},
		{"零金额", map[string]interface{}{"to": "0x1111111111111111111111111111111111111111", "amount": "0"}, errno.ErrInvalidAmount.Code},
		{"未知代币", map[string]interface{}{"to": "0x1111111111111111111111111111111111111111", "amount": "1", "token_symbol": "WAT"}, errno.ErrUnknownToken.Code},
		{"缺少字段", map[string]interface{}{}, errno.ErrBind.Code},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postRPC(t, r, CmdSendTip, tc.payload)
			if resp.Code != tc.want {
				t.Errorf("Expected code %d, got %d (%s)", tc.want, resp.Code, resp.Msg)
			}
		})
	}
}

// 合法打赏同步应答入队结果, 动作出现在队列快照里
func TestSendTipEnqueues(t *testing.T) {
	r, h := newTestRouter(true)

	resp := postRPC(t, r, CmdSendTip, map[string]interface{}{
		"to":           "0x1111111111111111111111111111111111111111",
		"amount":       "2.5",
		"token_symbol": "TIP",
		"title":        "给主播打赏",
	})
	if resp.Code != errno.OK.Code {
		t.Fatalf("Unexpected code %d (%s)", resp.Code, resp.Msg)
	}

	var data struct {
		ActionID string `json:"action_id"`
		Status   string `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data.ActionID == "" || data.Status != string(queue.StatusPending) {
		t.Errorf("Unexpected enqueue response: %+v", data)
	}

	summary := h.queue.Summary()
	if len(summary) != 1 || summary[0].ID != data.ActionID {
		t.Error("Action not present in queue summary")
	}

	// 队列快照经由 RPC 同样可见
	qresp := postRPC(t, r, CmdGetActionQueue, nil)
	var qdata struct {
		Actions []queue.Summary `json:"actions"`
	}
	if err := json.Unmarshal(qresp.Data, &qdata); err != nil {
		t.Fatal(err)
	}
	if len(qdata.Actions) != 1 || qdata.Actions[0].Kind != "tip" {
		t.Errorf("Unexpected queue snapshot: %+v", qdata.Actions)
	}
}

func TestRespondActionErrors(t *testing.T) {
	r, _ := newTestRouter(true)

	resp := postRPC(t, r, CmdRespondAction, map[string]interface{}{
		"action_id": "missing",
		"decision":  "approve",
	})
	if resp.Code != errno.ErrActionNotFound.Code {
		t.Errorf("Expected code %d, got %d", errno.ErrActionNotFound.Code, resp.Code)
	}

	resp = postRPC(t, r, CmdRespondAction, map[string]interface{}{
		"action_id": "x",
		"decision":  "maybe",
	})
	if resp.Code != errno.ErrBind.Code {
		t.Errorf("Expected bind error for bad decision, got %d", resp.Code)
	}
}

// 过期/未注册的上下文在第二阶段统一返回审批失效
func TestExecuteTipShowerExpiredContext(t *testing.T) {
	r, _ := newTestRouter(true)

	resp := postRPC(t, r, CmdExecuteTipShower, map[string]interface{}{
		"context_id": "never-registered",
	})
	if resp.Code != errno.ErrApprovalExpired.Code {
		t.Errorf("Expected code %d, got %d", errno.ErrApprovalExpired.Code, resp.Code)
	}
}

func TestTipShowerDuplicateContext(t *testing.T) {
	r, _ := newTestRouter(true)

	payload := map[string]interface{}{
		"context_id":  "shower-1",
		"recipients":  []string{"0x1111111111111111111111111111111111111111"},
		"amount_each": "0.1",
	}
	if resp := postRPC(t, r, CmdTipShowerApproval, payload); resp.Code != errno.OK.Code {
		t.Fatalf("First registration failed: %d (%s)", resp.Code, resp.Msg)
	}
	if resp := postRPC(t, r, CmdTipShowerApproval, payload); resp.Code != errno.ErrDuplicateContext.Code {
		t.Errorf("Expected code %d, got %d", errno.ErrDuplicateContext.Code, resp.Code)
	}
}

func TestEnvelopeBindError(t *testing.T) {
	r, _ := newTestRouter(true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader([]byte(`{"payload":{}}`)))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	var resp rpcResp
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Code != errno.ErrBind.Code {
		t.Errorf("Expected bind error for missing type, got %d", resp.Code)
	}
}
