package mnemonic

import (
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// Generate 生成一个新的随机助记词 (BIP-39)。
// bitSize: 熵的位数，128 (12个单词) 或 256 (24个单词)。
func Generate(bitSize int) (string, error) {
	entropy, err := bip39.NewEntropy(bitSize)
	if err != nil {
		return "", fmt.Errorf("生成熵失败: %w", err)
	}

	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("生成助记词失败: %w", err)
	}
	return m, nil
}

// Validate 验证助记词是否有效。
func Validate(m string) bool {
	return bip39.IsMnemonicValid(m)
}

// ToSeed 将助记词转换为种子 (BIP-39 Seed)。
// passphrase 可选，不需要时传空字符串。
func ToSeed(m string, passphrase string) []byte {
	return bip39.NewSeed(m, passphrase)
}
