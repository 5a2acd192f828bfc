package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: 最小调试配置（可选）。
type Options struct {
	Prefix string `json:"prefix"` // 输出前缀，默认 "MOCK"
	// APIKey: 仅用于限流分组（调试用），默认使用内置常量，不参与任何网络请求。
	APIKey string `json:"api_key"`
	// ResponseMode: 可选的响应模式（用于集成测试与无网络联调）。
	//  - "": 留空或未知值时，默认使用 "report_echo"。
	//  - "report_echo": 填充提示词 → 回显段落并把每个 {占位} 替换为 [PREFIX:占位]；
	//    改写提示词 → 回显当前段落并追加 [PREFIX: 指令]；其他 → PREFIX: 原文。
	//  - "echo": 原样回显提示词文本。
	ResponseMode string `json:"response_mode,omitempty"`
	// RejectOptions: 任何非零 GenOptions 均返回 ErrUnsupportedOption（模拟不接受参数的模型）。
	RejectOptions bool `json:"reject_options,omitempty"`
	// DelayMS: 每次调用的人为延迟（毫秒），便于观察进度推送。
	DelayMS int `json:"delay_ms,omitempty"`
}

type Client struct {
	prefix string
	mode   string
	reject bool
	delay  time.Duration
}

func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = "report_echo"
	}
	return &Client{prefix: o.Prefix, mode: mode, reject: o.RejectOptions, delay: time.Duration(o.DelayMS) * time.Millisecond}, nil
}

const (
	fillHead     = "CURRENT SECTION TO FILL:\n"
	fillTail     = "\n\nFull Data (raw rows, unchanged):"
	refineInstr  = "--- USER INSTRUCTION ---\n"
	refineSecHdr = "\n--- CURRENT SECTION ---\n"
)

var placeholderRe = regexp.MustCompile(`\{([^{}]*)\}`)

func (c *Client) Invoke(ctx context.Context, p contract.Prompt, o contract.GenOptions) (contract.Raw, error) {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if c.reject && !o.IsZero() {
		return contract.Raw{}, fmt.Errorf("mock: %w", contract.ErrUnsupportedOption)
	}
	text := contract.PromptText(p)
	if c.mode == "echo" {
		return contract.Raw{Text: text}, nil
	}
	if sec, ok := between(text, fillHead, fillTail); ok {
		filled := placeholderRe.ReplaceAllStringFunc(sec, func(m string) string {
			return "[" + c.prefix + ":" + strings.TrimSpace(m[1:len(m)-1]) + "]"
		})
		return contract.Raw{Text: filled}, nil
	}
	if instr, ok := between(text, refineInstr, refineSecHdr); ok {
		i := strings.Index(text, refineSecHdr)
		cur := strings.TrimRight(text[i+len(refineSecHdr):], "\n")
		return contract.Raw{Text: cur + "\n[" + c.prefix + ": " + instr + "]"}, nil
	}
	return contract.Raw{Text: fmt.Sprintf("%s: %s", c.prefix, text)}, nil
}

// between 返回 head 与 tail 之间的文本。
func between(s, head, tail string) (string, bool) {
	i := strings.Index(s, head)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(head):]
	j := strings.Index(rest, tail)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

var _ contract.LLMClient = (*Client)(nil)
