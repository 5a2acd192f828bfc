package flaky

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options 定义可选项。
type Options struct {
	Prefix string `json:"prefix"`
	// Script: 逐次调用的结果序列，耗尽后一律成功。
	// 取值：ok | rate_limited | unsupported_option | invalid_input | empty | upstream_503
	Script []string `json:"script"`
	// RejectOptionsAlways: 任何非零 GenOptions 均被拒（在 Script 之前判定）。
	RejectOptionsAlways bool `json:"reject_options_always,omitempty"`
	// LogPath: 调试用日志文件，记录每次调用结果（可选）。
	LogPath string `json:"log_path,omitempty"`
}

// Client 是带状态的 LLM 实现，按脚本依次返回故障，用于验证上层策略。
type Client struct {
	prefix  string
	logPath string
	reject  bool

	mu     sync.Mutex
	script []string
	calls  []contract.GenOptions
}

// New 构造 Client。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	for _, s := range o.Script {
		switch s {
		case "ok", "rate_limited", "unsupported_option", "invalid_input", "empty", "upstream_503":
		default:
			return nil, fmt.Errorf("flaky: %w: unknown script step %q", contract.ErrInvalidInput, s)
		}
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath, reject: o.RejectOptionsAlways, script: append([]string(nil), o.Script...)}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	// 追加写入，忽略错误。
	_ = appendFile(c.logPath, s+"\n")
}

// appendFile 以追加方式写入。
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(s)
	return err
}

// Calls 返回迄今每次调用收到的参数（副本）。
func (c *Client) Calls() []contract.GenOptions {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contract.GenOptions(nil), c.calls...)
}

type upstream503 struct{}

func (upstream503) Error() string           { return "flaky upstream 503: unavailable" }
func (upstream503) Timeout() bool           { return false }
func (upstream503) Temporary() bool         { return true }
func (upstream503) UpstreamStatus() int     { return 503 }
func (upstream503) UpstreamMessage() string { return "unavailable" }

// Invoke 实现 contract.LLMClient。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt, o contract.GenOptions) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	c.mu.Lock()
	c.calls = append(c.calls, o)
	step := "ok"
	if c.reject && !o.IsZero() {
		step = "unsupported_option"
	} else if len(c.script) > 0 {
		step = c.script[0]
		c.script = c.script[1:]
	}
	c.mu.Unlock()

	c.log(step)
	switch step {
	case "rate_limited":
		return contract.Raw{}, contract.ErrRateLimited
	case "unsupported_option":
		return contract.Raw{}, fmt.Errorf("flaky: temperature: %w", contract.ErrUnsupportedOption)
	case "invalid_input":
		return contract.Raw{}, fmt.Errorf("flaky: %w", contract.ErrInvalidInput)
	case "empty":
		return contract.Raw{}, contract.ErrResponseInvalid
	case "upstream_503":
		return contract.Raw{}, upstream503{}
	}
	return contract.Raw{Text: c.prefix + ": " + contract.PromptText(p)}, nil
}

var _ contract.LLMClient = (*Client)(nil)
