package prompt

import "github.com/Mist54/GenTemplate/pkg/contract"

// MakeEstimator 返回近似 token 估算器：tokens ≈ ceil(len(utf8_bytes)/bytesPerToken)。
// bytesPerToken<=0 时取 4。
func MakeEstimator(bytesPerToken int) contract.TokenEstimator {
	bpt := bytesPerToken
	if bpt <= 0 {
		bpt = 4
	}
	return func(s string) int {
		n := len(s)
		if n == 0 {
			return 0
		}
		return (n + bpt - 1) / bpt
	}
}

// EstimatePrompt 估算整条提示词（含段落与数据）的输入 token 数。
func EstimatePrompt(p contract.Prompt, bytesPerToken int) int {
	return MakeEstimator(bytesPerToken)(contract.PromptText(p))
}

// Ask 返回限流申请的 token 数：输入估算 + 预期输出上限。
func Ask(p contract.Prompt, bytesPerToken int, o contract.GenOptions) int {
	n := EstimatePrompt(p, bytesPerToken)
	if o.MaxOutputTokens > 0 {
		n += o.MaxOutputTokens
	}
	return n
}

// Overhead 计算固定规则部分的 token 数，并返回每段可用于段落+数据的剩余预算。
// 返回 (remaining, overhead)。perRequest<=0 表示不限，返回 (0, overhead)。
func Overhead(pb contract.PromptBuilder, bytesPerToken, perRequest int) (int, int) {
	overhead := pb.EstimateOverheadTokens(MakeEstimator(bytesPerToken))
	if perRequest <= 0 {
		return 0, overhead
	}
	return perRequest - overhead, overhead
}
