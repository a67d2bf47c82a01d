package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// main 是 openmcp-evm 命令行的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "openmcp-evm: %v\n", err)
		stop()
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "openmcp-evm",
		Short:         "EVM agent runtime with the airdrop action",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "配置文件路径，默认读取 OPENMCP_CONFIG 或 configs/openmcp.json")

	cmd.AddCommand(newServeCommand(opts), newRunCommand(opts))
	return cmd
}
