package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"wallet-ext/pkg/vault"
)

// statusCmd 代表 status 命令
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看 walletData 记录状态",
	Long:  `在不解锁的前提下展示加密记录的元信息 (地址、KDF 参数)。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !vault.Exists(walletPath) {
			fmt.Printf("未找到钱包记录: %s\n", walletPath)
			return nil
		}

		record, err := vault.LoadFromFile(walletPath)
		if err != nil {
			return fmt.Errorf("读取失败: %w", err)
		}

		fmt.Printf("钱包记录: %s\n", walletPath)
		fmt.Printf("  地址:    %s\n", record.Address)
		fmt.Printf("  版本:    %d\n", record.Version)
		fmt.Printf("  加密:    %s\n", record.Crypto.Cipher)
		fmt.Printf("  KDF:     %s (N=%d, r=%d, p=%d)\n",
			record.Crypto.KDF,
			record.Crypto.KDFParams.N,
			record.Crypto.KDFParams.R,
			record.Crypto.KDFParams.P)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
