package cmd

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"wallet-ext/pkg/hdwallet"
	"wallet-ext/pkg/mnemonic"
	"wallet-ext/pkg/vault"
)

// importCmd 代表 import 命令
var importCmd = &cobra.Command{
	Use:   "import",
	Short: "导入已有钱包",
	Long:  `从助记词或裸私钥导入钱包，加密后整体替换 walletData 记录。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readPassword(cmd)
		if err != nil {
			return err
		}
		m, _ := cmd.Flags().GetString("mnemonic")
		keyHex, _ := cmd.Flags().GetString("key")

		var keyBytes []byte
		switch {
		case m != "":
			if !mnemonic.Validate(m) {
				return fmt.Errorf("助记词无效")
			}
			seed := mnemonic.ToSeed(m, "")
			priv, err := hdwallet.DeriveECDSA(seed, hdwallet.ETHPath)
			if err != nil {
				return fmt.Errorf("派生密钥失败: %w", err)
			}
			keyBytes = crypto.FromECDSA(priv)

		case keyHex != "":
			keyBytes, err = hex.DecodeString(strings.TrimPrefix(keyHex, "0x"))
			if err != nil {
				return fmt.Errorf("私钥不是合法的 hex")
			}

		default:
			return fmt.Errorf("必须提供 --mnemonic 或 --key 其一")
		}
		defer vault.Zero(keyBytes)

		priv, err := crypto.ToECDSA(keyBytes)
		if err != nil {
			return fmt.Errorf("不是合法的 secp256k1 私钥")
		}
		addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

		record, err := vault.Encrypt(keyBytes, addr, password)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := record.SaveToFile(walletPath); err != nil {
			return fmt.Errorf("写入失败: %w", err)
		}

		fmt.Printf("Ethereum Address: %s\n", addr)
		fmt.Printf("已加密写入: %s\n", walletPath)
		return nil
	},
}

func init() {
	importCmd.Flags().String("password", "", "加密密码")
	importCmd.Flags().String("mnemonic", "", "BIP-39 助记词")
	importCmd.Flags().String("key", "", "私钥 (hex)")
	rootCmd.AddCommand(importCmd)
}
