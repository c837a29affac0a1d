package handler

import (
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"

	"wallet-ext/internal/handler/request"
	"wallet-ext/internal/handler/response"
	"wallet-ext/internal/service/submitter"
	"wallet-ext/pkg/errno"
	"wallet-ext/pkg/hdwallet"
	"wallet-ext/pkg/logger"
	"wallet-ext/pkg/mnemonic"
	"wallet-ext/pkg/vault"

	"go.uber.org/zap"
)

// createWallet 生成新钱包: 助记词 → 派生私钥 → 加密落盘。
// 已有 walletData 时拒绝，防止误覆盖。
func (h *RPCHandler) createWallet(c *gin.Context, payload json.RawMessage) {
	var req request.CreateWalletRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	if vault.Exists(h.wallet.WalletPath) {
		response.Error(c, errno.ErrWalletExists)
		return
	}

	m := req.Mnemonic
	if m == "" {
		var err error
		m, err = mnemonic.Generate(128)
		if err != nil {
			response.Error(c, errno.InternalServerError)
			return
		}
	} else if !mnemonic.Validate(m) {
		response.Error(c, errno.ErrInvalidMnemonic)
		return
	}

	addr, err := h.encryptAndSave(m, "", req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	logger.Info("钱包已创建", zap.String("address", addr))
	response.Success(c, gin.H{
		"address":  addr,
		"mnemonic": m, // 只在创建时回传一次，调用方负责提示用户备份
	})
}

// importWallet 导入钱包 (助记词或裸私钥)，加密后整体替换已有记录。
func (h *RPCHandler) importWallet(c *gin.Context, payload json.RawMessage) {
	var req request.ImportWalletRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	if req.Mnemonic == "" && req.PrivateKey == "" {
		response.Error(c, errno.ErrBind.WithMessage("助记词和私钥必须提供其一"))
		return
	}

	// 导入会替换旧记录，先锁定清掉旧会话
	h.session.Lock()

	addr, err := h.encryptAndSave(req.Mnemonic, req.PrivateKey, req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}

	logger.Info("钱包已导入", zap.String("address", addr))
	response.Success(c, gin.H{"address": addr})
}

// encryptAndSave 从助记词或私钥 hex 得到私钥，加密并写入 walletData。
// 返回派生地址。
func (h *RPCHandler) encryptAndSave(m, keyHex, password string) (string, error) {
	var keyBytes []byte

	switch {
	case m != "":
		if !mnemonic.Validate(m) {
			return "", errno.ErrInvalidMnemonic
		}
		seed := mnemonic.ToSeed(m, "")
		priv, err := hdwallet.DeriveECDSA(seed, hdwallet.ETHPath)
		if err != nil {
			return "", errno.ErrInvalidMnemonic.WithMessage(err.Error())
		}
		keyBytes = crypto.FromECDSA(priv)

	default:
		var err error
		keyBytes, err = hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
		if err != nil {
			return "", errno.ErrInvalidKey
		}
	}
	defer vault.Zero(keyBytes)

	priv, err := crypto.ToECDSA(keyBytes)
	if err != nil {
		return "", errno.ErrInvalidKey
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

	record, err := vault.Encrypt(keyBytes, addr, password)
	if err != nil {
		return "", err
	}
	if err := record.SaveToFile(h.wallet.WalletPath); err != nil {
		return "", err
	}
	return addr, nil
}

func (h *RPCHandler) unlockWallet(c *gin.Context, payload json.RawMessage) {
	var req request.UnlockWalletRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	state, err := h.session.Unlock(c.Request.Context(), req.Password)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, state)
}

func (h *RPCHandler) lockWallet(c *gin.Context) {
	h.session.Lock()
	response.Success(c, h.session.State())
}

func (h *RPCHandler) walletState(c *gin.Context) {
	response.Success(c, h.session.State())
}

func (h *RPCHandler) getBalance(c *gin.Context, payload json.RawMessage) {
	var req request.GetBalanceRequest
	if err := bindPayload(payload, &req); err != nil {
		response.Error(c, err)
		return
	}

	if req.TokenSymbol == "" {
		bal, err := h.submitter.NativeBalance(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			return
		}
		response.Success(c, gin.H{"symbol": "ETH", "balance": bal})
		return
	}

	token, ok := h.wallet.FindToken(req.TokenSymbol)
	if !ok {
		response.Error(c, errno.ErrUnknownToken.WithMessage("未配置的代币: "+req.TokenSymbol))
		return
	}
	bal, err := h.submitter.TokenBalance(c.Request.Context(), submitter.TokenDescriptor{
		Contract: token.Contract,
		Symbol:   token.Symbol,
		Decimals: token.Decimals,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"symbol": token.Symbol, "balance": bal})
}
