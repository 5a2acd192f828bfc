package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/Mist54/GenTemplate/internal/config"
	"github.com/Mist54/GenTemplate/internal/diag"
)

// 退出码。
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 3
)

// configError 标记配置/装配阶段的失败（退出码 3）。
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

func asConfigError(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}

type globalFlags struct {
	config   string
	envFile  string
	llm      string
	logLevel string
	status   bool
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "错误: %v\n", err)
		var ce *configError
		if errors.As(err, &ce) {
			return exitConfig
		}
		return exitRuntime
	}
	return exitOK
}

// newRootCmd: 不带子命令时等价于 serve。
func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	g := &globalFlags{}
	so := &serveOpts{}
	root := &cobra.Command{
		Use:           "gentemp",
		Short:         "Generate section-by-section reports from a CSV and a template",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return loadDotEnv(g.envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error { return runServe(cmd, g, so, stderr) },
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&g.config, "config", "c", "", "配置文件（JSON 或 YAML）；缺省读取 GENTEMP_CONFIG_FILE 或 ./config.{json,yaml,yml}")
	pf.StringVar(&g.envFile, "env-file", ".env", "启动时加载的 .env（不覆盖已有环境变量）")
	pf.StringVar(&g.llm, "llm", "", "provider 名称（覆盖配置）")
	pf.StringVar(&g.logLevel, "log-level", "", "日志等级 debug|info|warn|error（覆盖配置）")
	pf.BoolVar(&g.status, "status", true, "终端状态提示（stderr）。TTY 动态刷新；非 TTY 打点输出")
	root.Flags().StringVar(&so.addr, "addr", "", "监听地址（覆盖配置）")

	root.AddCommand(
		newServeCmd(g, stderr),
		newPingCmd(g, stdout),
		newInitConfigCmd(stdout, stderr),
	)
	return root
}

// loadDotEnv 加载 .env；文件不存在时忽略。
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return asConfigError(fmt.Errorf("load %s: %w", path, err))
	}
	return nil
}

// loadConfig 按 defaults < 配置文件 < ENV < CLI 合并并校验。
func loadConfig(g *globalFlags, cli config.Config) (config.Config, error) {
	cfg := config.Defaults()

	path := g.config
	if path == "" {
		path = os.Getenv("GENTEMP_CONFIG_FILE")
	}
	if path == "" {
		for _, p := range []string{"config.json", "config.yaml", "config.yml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path != "" {
		base, err := config.LoadFile(path)
		if err != nil {
			return cfg, asConfigError(fmt.Errorf("配置解析失败: %w", err))
		}
		cfg = config.Merge(cfg, base)
	}

	overEnv, err := config.EnvOverlay(os.Environ())
	if err != nil {
		return cfg, asConfigError(fmt.Errorf("环境变量解析失败: %w", err))
	}
	cfg = config.Merge(cfg, overEnv)

	cli.LLM = g.llm
	cli.Logging.Level = g.logLevel
	cfg = config.Merge(cfg, cli)

	if err := config.Validate(cfg); err != nil {
		return cfg, asConfigError(fmt.Errorf("配置校验失败: %w", err))
	}
	return cfg, nil
}

func newLogger(cfg config.Config) *diag.Logger {
	return diag.NewLogger(cfg.Logging.Dir, uuid.NewString(), cfg.Logging.Level, cfg.Logging.Console)
}

// effectiveKV 为 debug 日志准备脱敏后的有效配置。
func effectiveKV(cfg config.Config) map[string]string {
	kv := map[string]string{
		"addr":             cfg.Server.Addr,
		"llm":              cfg.LLM,
		"default_csv":      cfg.Inputs.DefaultCSV,
		"default_template": cfg.Inputs.DefaultTemplate,
		"reader":           cfg.Components.Reader,
		"decoder":          cfg.Components.Decoder,
		"splitter":         cfg.Components.Splitter,
		"prompt_builder":   cfg.Components.PromptBuilder,
		"assembler":        cfg.Components.Assembler,
		"writer":           cfg.Components.Writer,
	}
	if p, ok := cfg.Provider[cfg.LLM]; ok {
		kv["provider_client"] = p.Client
		var s struct {
			BaseURL string `json:"base_url"`
			Model   string `json:"model"`
		}
		_ = json.Unmarshal(p.Options, &s)
		if s.BaseURL != "" {
			kv["base_url"] = s.BaseURL
		}
		if s.Model != "" {
			kv["model"] = s.Model
		}
	}
	return kv
}

// preflightOutputDir: fs writer 时在启动前检查输出目录可写；其他 writer 跳过。
func preflightOutputDir(cfg config.Config) error {
	if cfg.Components.Writer != "" && cfg.Components.Writer != "fs" {
		return nil
	}
	var wopts struct {
		OutputDir string `json:"output_dir"`
	}
	_ = json.Unmarshal(cfg.Options.Writer, &wopts)
	dir := strings.TrimSpace(wopts.OutputDir)
	if dir == "" {
		return nil
	}
	st, err := os.Stat(dir)
	switch {
	case err == nil && !st.IsDir():
		return fmt.Errorf("路径存在但不是目录: %s", dir)
	case err == nil:
		f, err := os.CreateTemp(dir, ".wcheck-*")
		if err != nil {
			return err
		}
		name := f.Name()
		_ = f.Close()
		return os.Remove(name)
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	// 目录不存在：由 writer 首次写入时创建，这里检查父目录
	parent := filepath.Dir(filepath.Clean(dir))
	tmpd, err := os.MkdirTemp(parent, ".wcheck-*")
	if err != nil {
		return err
	}
	return os.RemoveAll(tmpd)
}
