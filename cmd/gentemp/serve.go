package main

import (
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Mist54/GenTemplate/internal/config"
	"github.com/Mist54/GenTemplate/internal/diag"
	"github.com/Mist54/GenTemplate/internal/pipeline"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/internal/session"
	"github.com/Mist54/GenTemplate/internal/web"
)

const janitorEvery = 10 * time.Minute

type serveOpts struct {
	addr string
}

func newServeCmd(g *globalFlags, stderr io.Writer) *cobra.Command {
	so := &serveOpts{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the web UI",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error { return runServe(cmd, g, so, stderr) },
	}
	cmd.Flags().StringVar(&so.addr, "addr", "", "监听地址（覆盖配置）")
	return cmd
}

func runServe(cmd *cobra.Command, g *globalFlags, so *serveOpts, stderr io.Writer) error {
	var cli config.Config
	cli.Server.Addr = so.addr
	cfg, err := loadConfig(g, cli)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	defer logger.Close()

	if err := preflightOutputDir(cfg); err != nil {
		diag.Record(logger, "writer", "preflight failed", err, "", "")
		return asConfigError(err)
	}
	comp, set, err := config.Assemble(cfg)
	if err != nil {
		diag.Record(logger, "config", "assemble failed", err, "", "")
		return asConfigError(err)
	}
	logger.DebugStart("config", "effective", "", "", effectiveKV(cfg))
	if !comp.Gen.Ready() {
		logger.Warn("llm_client", "credential missing; every request returns the initialization notice", "", "", nil)
	}

	term := diag.NewTerminal(stderr, g.status)
	diag.SetTerminal(term)
	defer diag.SetTerminal(nil)

	hub := web.NewHub()
	orch, err := pipeline.New(comp, set, logger, hub)
	if err != nil {
		return asConfigError(err)
	}
	store := session.NewStore(time.Duration(cfg.Server.SessionIdleHours)*time.Hour, nil)
	gate, _ := set.Gate.(rate.Snapshoter)
	api := web.NewWebAPI(*logger.Zerolog(), web.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownSeconds) * time.Second,
		Dependencies: web.Dependencies{
			Orchestrator: orch,
			Sessions:     store,
			Hub:          hub,
			Gate:         gate,
			GateKey:      set.GateKey,
		},
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	term.ServeStart(cfg.Server.Addr, cfg.LLM)
	t := logger.Start("server", "serve")
	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return api.Start(gctx) })
	eg.Go(func() error { return store.Janitor(gctx, janitorEvery) })
	if err := eg.Wait(); err != nil {
		diag.Record(logger, "server", "serve failed", err, "", "")
		return err
	}
	t.Finish("serve", 0)
	return nil
}
