package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var walletPath string

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "wallet-cli",
	Short: "扩展钱包命令行工具",
	Long: `扩展钱包的本地管理工具。
支持生成/导入钱包 (BIP-39 助记词或裸私钥)，加密后写入 walletData 记录。`,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&walletPath, "wallet", "walletData.json", "walletData 加密记录的文件路径")
}

// readPassword 从环境变量或标志读取密码。
// TODO: 换成 term.ReadPassword 的交互输入，避免密码进入 shell 历史
func readPassword(cmd *cobra.Command) (string, error) {
	if p, _ := cmd.Flags().GetString("password"); p != "" {
		return p, nil
	}
	if p := os.Getenv("WALLET_PASSWORD"); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("未提供密码 (使用 --password 或环境变量 WALLET_PASSWORD)")
}
