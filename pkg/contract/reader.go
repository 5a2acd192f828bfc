package contract

import (
	"context"
	"io"
)

// Reader: 输入源抽象（本地默认文件/对象存储等）。
// 约束：
// 1) 只提供字节流，不做解码；
// 2) 源不存在时返回包裹 ErrSourceMissing 的错误；
// 3) 调用方负责 Close。
type Reader interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// DatasetDecoder: 将表格字节流解码为 Dataset（缺失值归一为空串）。
type DatasetDecoder interface {
	Decode(ctx context.Context, r io.Reader) (Dataset, error)
}
