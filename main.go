// 命令行入口：
// - harvest：按时间范围抓取 HiBot 会话记录并导出 CSV
// - token：查看当前令牌的签发方与过期时间
// - runs：查看采集台账
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"hibot-harvest/internal/config"
	"hibot-harvest/internal/logx"
)

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "hibot-harvest",
		Short:         "Harvest HiBot conversation reports into CSV",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "settings.yaml", "path to settings.yaml")

	// 各子命令共用：加载 .env 与配置，并初始化日志
	load := func() (*config.Config, string, error) {
		config.LoadDotEnv()
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, "", err
		}
		logx.Init(cfg.LogLevel, cfg.LogFormat, cfg.LogLocale, cfg.LogColor)
		return cfg, filepath.Dir(configPath), nil
	}

	root.AddCommand(newHarvestCmd(load), newTokenCmd(load), newRunsCmd(load))
	return root
}

// loader 返回配置及其所在目录。
type loader func() (*config.Config, string, error)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
