package hdwallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// ETHPath 是本钱包唯一使用的派生路径 (BIP-44, 以太坊账户 0)。
// 单账户钱包，不做账户发现。
const ETHPath = "m/44'/60'/0'/0/0"

var ErrInvalidSeed = errors.New("无效的种子长度")

// DeriveECDSA 从 BIP-39 种子沿给定路径派生 secp256k1 私钥。
func DeriveECDSA(seed []byte, path string) (*ecdsa.PrivateKey, error) {
	if len(seed) < 16 || len(seed) > 64 {
		return nil, ErrInvalidSeed
	}

	// 网络参数只影响扩展密钥的序列化前缀，对 ETH 密钥本身无意义
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("生成主密钥失败: %w", err)
	}

	for _, index := range mustParsePath(path) {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("派生子密钥失败: %w", err)
		}
	}

	btcecPriv, err := key.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return btcecPriv.ToECDSA(), nil
}

// mustParsePath 解析 "m/44'/60'/0'/0/0" 形式的路径。
// 支持 ' 和 h 两种硬化后缀。路径非法时 panic —
// 本包只接受编译期常量路径。
func mustParsePath(path string) []uint32 {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "m/")

	var indexes []uint32
	for _, segment := range strings.Split(path, "/") {
		hardened := false
		if strings.HasSuffix(segment, "'") || strings.HasSuffix(segment, "h") {
			hardened = true
			segment = segment[:len(segment)-1]
		}

		val, err := strconv.ParseUint(segment, 10, 32)
		if err != nil {
			panic(fmt.Sprintf("无效的派生路径段 %q: %v", segment, err))
		}

		index := uint32(val)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}
	return indexes
}
