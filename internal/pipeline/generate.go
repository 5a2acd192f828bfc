package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Mist54/GenTemplate/internal/diag"
	"github.com/Mist54/GenTemplate/pkg/contract"
)

// CredentialMissingText 为凭据缺失时每次调用返回的固定文本。
const CredentialMissingText = "Initialization failed: missing or invalid API key."

// DefaultLabel 为行内错误文本中的提供方名称。
const DefaultLabel = "Gemini"

// PingPrompt 为连通性检查发送的问题。
const PingPrompt = "What are the three most popular pet names?"

// DefaultOptions 返回首选生成参数：temperature 0.7，最多 1000 输出 token。
func DefaultOptions() contract.GenOptions {
	t := float32(0.7)
	return contract.GenOptions{Temperature: &t, MaxOutputTokens: 1000}
}

// credentialError 的文本即固定提示，同时可被 errors.Is 识别为 ErrCredentialMissing。
type credentialError struct{ cause error }

func (e credentialError) Error() string { return CredentialMissingText }
func (e credentialError) Unwrap() []error {
	if e.cause == nil {
		return []error{contract.ErrCredentialMissing}
	}
	return []error{contract.ErrCredentialMissing, e.cause}
}

// Generator 包装一个 LLMClient，提供两步尝试策略与“永不失败”的调用形态。
// 凭据在构造时一次性确定：credErr 非空时不会发出任何远端请求。
type Generator struct {
	llm     contract.LLMClient
	credErr error
	label   string
	opts    contract.GenOptions
	log     *diag.Logger
}

// NewGenerator 构造 Generator。label 为空取 DefaultLabel。
func NewGenerator(llm contract.LLMClient, credErr error, label string, opts contract.GenOptions) *Generator {
	if strings.TrimSpace(label) == "" {
		label = DefaultLabel
	}
	if llm == nil && credErr == nil {
		credErr = contract.ErrCredentialMissing
	}
	if credErr != nil {
		credErr = credentialError{cause: credErr}
	}
	return &Generator{llm: llm, credErr: credErr, label: label, opts: opts}
}

// WithLogger 设置降级重试的日志器。
func (g *Generator) WithLogger(l *diag.Logger) *Generator {
	g.log = l
	return g
}

// Label 返回提供方名称。
func (g *Generator) Label() string { return g.label }

// Options 返回首选生成参数。
func (g *Generator) Options() contract.GenOptions { return g.opts }

// Ready 报告凭据是否可用。
func (g *Generator) Ready() bool { return g.credErr == nil }

// Attempt 执行两步尝试：先用首选参数；仅当服务端在结构上拒绝参数
// （ErrUnsupportedOption）时，以零参数再试一次。其他错误原样返回。
// 成功文本去首尾空白；空文本视为 ErrResponseInvalid。
func (g *Generator) Attempt(ctx context.Context, p contract.Prompt) (string, error) {
	if g.credErr != nil {
		return "", g.credErr
	}
	raw, err := g.llm.Invoke(ctx, p, g.opts)
	if err != nil && errors.Is(err, contract.ErrUnsupportedOption) && !g.opts.IsZero() {
		g.log.Warn("llm_client", "generation options rejected, retrying without options", "", "", map[string]string{
			"cause": err.Error(),
		})
		diag.IncOp("llm_client", "fallback", "success")
		raw, err = g.llm.Invoke(ctx, p, contract.GenOptions{})
	}
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return "", fmt.Errorf("%s: empty reply: %w", strings.ToLower(g.label), contract.ErrResponseInvalid)
	}
	return text, nil
}

// Inline 把 Attempt 的失败转为行内文本。
func (g *Generator) Inline(err error) string {
	if g.credErr != nil {
		return CredentialMissingText
	}
	return fmt.Sprintf("%s API Error: %v", g.label, err)
}

// Generate 永不返回错误：失败时返回行内错误文本。
func (g *Generator) Generate(ctx context.Context, p contract.Prompt) string {
	text, err := g.Attempt(ctx, p)
	if err != nil {
		return g.Inline(err)
	}
	return text
}
