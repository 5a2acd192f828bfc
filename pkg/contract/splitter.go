package contract

import (
	"context"
	"io"
)

// Splitter: 将模板文本拆分为有序 Section 序列。
// 约束：
// 1) 在每个整词标记出现处之前切分；
// 2) 段落去首尾空白，纯空白段丢弃；
// 3) Ordinal 自 1 连续；
// 4) 一个段落都没有时返回 ErrNoSections，不 panic；
// 5) 无内部并发、幂等。
type Splitter interface {
	Split(ctx context.Context, r io.Reader) ([]Section, error)
}
