package contract

import (
	"context"
	"io"
)

// Writer: 将快照以流式方式持久化到目标介质（文件系统/对象存储等）。
// 约束：
//  1. 只增不改：目标已存在时返回包裹 ErrExists 的错误，绝不覆盖；
//  2. 流式写入，按字节透传，不修改内容；
//  3. ctx 取消/超时需尽快返回；
//  4. 错误直接上抛（不做重试/回退）。
type Writer interface {
	Write(ctx context.Context, name string, r io.Reader) error
}
