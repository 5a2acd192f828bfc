package contract

import (
	"context"
	"errors"
)

// Raw: LLM 客户端返回的原始文本载荷。
// 约束：原样返回，不做清洗/截断/归一化；去空白由调用方负责。
type Raw struct {
	Text string
}

// GenOptions: 生成参数。零值表示“不传任何参数”，由服务端使用默认值。
type GenOptions struct {
	Temperature     *float32
	MaxOutputTokens int
}

// IsZero 报告是否为最小调用（无任何生成参数）。
func (o GenOptions) IsZero() bool { return o.Temperature == nil && o.MaxOutputTokens <= 0 }

// LLMClient: 单次同步调用，返回原始文本。
// 应尊重 ctx 取消/超时；失败须归类为下方哨兵错误之一（或实现 net.Error/UpstreamError）。
type LLMClient interface {
	Invoke(ctx context.Context, p Prompt, o GenOptions) (Raw, error)
}

// 最小错误分类（用于上层策略判定）。
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
	ErrSeqInvalid      = errors.New("sequence invalid")
	// ErrUnsupportedOption: 服务端在结构上拒绝了某个生成参数（字段未知/取值不被该模型接受）。
	// 仅此类错误触发“去参数重试”。
	ErrUnsupportedOption = errors.New("generation option unsupported")
	// ErrCredentialMissing: 未配置或无效的凭据。
	ErrCredentialMissing = errors.New("credential missing or invalid")
)
