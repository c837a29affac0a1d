package submitter

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"wallet-ext/internal/service/chain"
)

// 只需要 transfer 和 balanceOf 两个入口，不引入完整的合约绑定。
const erc20ABIJSON = `[
  {"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// packTransfer 构造 ERC-20 transfer(to, value) 的 calldata
func packTransfer(to common.Address, value *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, value)
}

// tokenBalance 通过 eth_call 读取 owner 在代币合约上的余额
func tokenBalance(ctx context.Context, backend chain.Backend, token, owner common.Address) (*big.Int, error) {
	input, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}

	out, err := backend.CallContract(ctx, ethereum.CallMsg{
		To:   &token,
		Data: input,
	}, nil)
	if err != nil {
		return nil, err
	}

	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil {
		return nil, err
	}
	return abi.ConvertType(results[0], new(big.Int)).(*big.Int), nil
}
