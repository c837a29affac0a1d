package hdwallet

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	"wallet-ext/pkg/mnemonic"
)

// 标准测试向量: abandon...about 在 m/44'/60'/0'/0/0 上的以太坊地址
func TestDeriveECDSAKnownVector(t *testing.T) {
	m := "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	seed := mnemonic.ToSeed(m, "")

	priv, err := DeriveECDSA(seed, ETHPath)
	if err != nil {
		t.Fatalf("派生失败: %v", err)
	}

	addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()
	want := "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	if addr != want {
		t.Errorf("派生地址不符: got %s, want %s", addr, want)
	}
}

func TestDeriveECDSADeterministic(t *testing.T) {
	seed := mnemonic.ToSeed("legal winner thank year wave sausage worth useful legal winner thank yellow", "")

	p1, err := DeriveECDSA(seed, ETHPath)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := DeriveECDSA(seed, ETHPath)
	if err != nil {
		t.Fatal(err)
	}
	if p1.D.Cmp(p2.D) != 0 {
		t.Error("同一种子同一路径必须派生相同私钥")
	}

	// 不同路径派生不同密钥
	p3, err := DeriveECDSA(seed, "m/44'/60'/0'/0/1")
	if err != nil {
		t.Fatal(err)
	}
	if p1.D.Cmp(p3.D) == 0 {
		t.Error("不同路径不应派生相同私钥")
	}
}

func TestDeriveECDSABadSeed(t *testing.T) {
	if _, err := DeriveECDSA([]byte{1, 2, 3}, ETHPath); err == nil {
		t.Error("过短的种子应当报错")
	}
}
