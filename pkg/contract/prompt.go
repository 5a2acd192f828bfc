package contract

// Prompt: 不透明载荷，由具体 PromptBuilder/LLMClient 配对解释。
type Prompt any

// Message: 最小会话消息形状（可用于 ChatPrompt 与会话历史）。
type Message struct {
	Role    string
	Content string
}

// TextPrompt: 文本型提示词载荷。
type TextPrompt string

// ChatPrompt: 会话型提示词载荷（最小集合）。
type ChatPrompt []Message

// PromptBuilder: 构造报告填充/改写/对话三类提示词。
// 约束：
//   - 纯计算，调用时不做 I/O；
//   - 段落与数据原样嵌入，不做清洗；
//   - 失败快速返回错误。
type PromptBuilder interface {
	// Fill: 段落 + 全量数据 → 填充占位符的提示词。
	Fill(sec Section, data Dataset) (Prompt, error)
	// Refine: 当前段落文本 + 用户指令 → 仅改写该段的提示词。
	Refine(current, instruction string) (Prompt, error)
	// Chat: 自由问答（不带历史，仅最新一条）。
	Chat(message string) (Prompt, error)
	// EstimateOverheadTokens: 固定规则部分的近似 token 数，不含段落与数据。
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: 文本→token 的近似估算函数。
// 典型实现：ceil(len(utf8_bytes)/BytesPerToken)。
type TokenEstimator func(s string) int

// PromptText 将 Prompt 展平为纯文本（ChatPrompt 按行拼接内容），用于估算与日志。
func PromptText(p Prompt) string {
	switch v := p.(type) {
	case TextPrompt:
		return string(v)
	case string:
		return v
	case ChatPrompt:
		n := 0
		for _, m := range v {
			n += len(m.Content) + 1
		}
		b := make([]byte, 0, n)
		for i, m := range v {
			if i > 0 {
				b = append(b, '\n')
			}
			b = append(b, m.Content...)
		}
		return string(b)
	default:
		return ""
	}
}
