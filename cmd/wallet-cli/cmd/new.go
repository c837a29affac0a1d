package cmd

import (
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"wallet-ext/pkg/hdwallet"
	"wallet-ext/pkg/mnemonic"
	"wallet-ext/pkg/vault"
)

// newCmd 代表 new 命令
var newCmd = &cobra.Command{
	Use:   "new",
	Short: "创建一个新的钱包",
	Long:  `生成一个新的随机 BIP-39 助记词，派生以太坊账户并加密写入 walletData。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if vault.Exists(walletPath) {
			return fmt.Errorf("钱包已存在: %s (先删除旧文件或换路径)", walletPath)
		}

		password, err := readPassword(cmd)
		if err != nil {
			return err
		}

		fmt.Println("正在生成新钱包...")
		fmt.Println("---------------------------------------------------")

		m, err := mnemonic.Generate(128)
		if err != nil {
			return fmt.Errorf("生成助记词失败: %w", err)
		}
		fmt.Printf("助记词 (Mnemonic): \n%s\n", m)
		fmt.Println("---------------------------------------------------")

		seed := mnemonic.ToSeed(m, "")
		priv, err := hdwallet.DeriveECDSA(seed, hdwallet.ETHPath)
		if err != nil {
			return fmt.Errorf("派生密钥失败: %w", err)
		}

		keyBytes := crypto.FromECDSA(priv)
		defer vault.Zero(keyBytes)
		addr := crypto.PubkeyToAddress(priv.PublicKey).Hex()

		record, err := vault.Encrypt(keyBytes, addr, password)
		if err != nil {
			return fmt.Errorf("加密失败: %w", err)
		}
		if err := record.SaveToFile(walletPath); err != nil {
			return fmt.Errorf("写入失败: %w", err)
		}

		fmt.Printf("Ethereum Address [%s]: %s\n", hdwallet.ETHPath, addr)
		fmt.Printf("已加密写入: %s\n", walletPath)
		fmt.Println("---------------------------------------------------")
		fmt.Println("请妥善保管您的助记词！任何拥有助记词的人都可以控制该钱包的所有资产。")
		return nil
	},
}

func init() {
	newCmd.Flags().String("password", "", "加密密码")
	rootCmd.AddCommand(newCmd)
}
