package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mist54/GenTemplate/internal/config"
	"github.com/Mist54/GenTemplate/internal/pipeline"
)

const pingTimeout = 60 * time.Second

// newPingCmd: 发送连通性问题并打印回答；失败时打印行内错误文本。
func newPingCmd(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Send a connectivity prompt to the configured provider and print the reply",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(g, config.Config{})
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			defer logger.Close()

			comp, set, err := config.Assemble(cfg)
			if err != nil {
				return asConfigError(err)
			}
			orch, err := pipeline.New(comp, set, logger, nil)
			if err != nil {
				return asConfigError(err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), pingTimeout)
			defer cancel()
			t := logger.Start("llm_client", "ping")
			reply := orch.Ping(ctx)
			t.Finish("ping", int64(len(reply)))
			_, err = fmt.Fprintln(stdout, reply)
			return err
		},
	}
}
