package contract

import "context"

// ReportSeparator: 段落之间的固定分隔符。
const ReportSeparator = "\n\n"

// Assembler: 按 Ordinal 升序把各段文本拼为整份报告。
// 约束：
//  1. 结果与 map 插入顺序无关；
//  2. 分隔符固定为 ReportSeparator；
//  3. 不修改段落内容；
//  4. Ordinal 非正时返回 ErrSeqInvalid。
type Assembler interface {
	Assemble(ctx context.Context, sections map[int]string) (string, error)
}
