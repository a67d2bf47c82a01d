package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"OpenMCP-EVM/internal/agent"
	"OpenMCP-EVM/internal/task"
)

type runOptions struct {
	userID string
	action string
}

func newRunCommand(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <message>",
		Short: "同步分发一条消息并打印动作回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(root.configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			msg := agent.Message{
				ID:        uuid.NewString(),
				UserID:    opts.userID,
				Text:      strings.Join(args, " "),
				Action:    opts.action,
				CreatedAt: time.Now(),
			}
			return runMessage(cmd.Context(), a.agent, msg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&opts.userID, "user", "cli", "消息的发送者")
	cmd.Flags().StringVar(&opts.action, "action", "", "显式指定动作名称或别名")
	return cmd
}

// runMessage 分发消息，每条回调回复以一行 JSON 写入 out。
func runMessage(ctx context.Context, d task.Dispatcher, msg agent.Message, out io.Writer) error {
	enc := json.NewEncoder(out)
	outcome, err := d.Dispatch(ctx, msg, func(_ context.Context, resp agent.Response) error {
		return enc.Encode(resp)
	})
	if err != nil {
		return err
	}
	if !outcome.Success {
		return fmt.Errorf("动作 %s 执行失败: %s", outcome.Action, outcome.LastResponse().Text)
	}
	return nil
}
