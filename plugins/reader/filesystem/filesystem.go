package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options 为 FileSystem Reader 的可选配置（最小必要）。
type Options struct {
	// BaseDir: 相对路径的解析基准目录；空表示当前工作目录。
	BaseDir string `json:"base_dir"`
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// MaxBytes: 单个源文件最大字节数。0 表示不限制。
	MaxBytes int64 `json:"max_bytes"`
}

// FileSystem 从本地磁盘打开默认输入（CSV/模板）。
type FileSystem struct {
	base     string
	bufSize  int
	maxBytes int64
}

// New 创建 FileSystem Reader。
func New(opts *Options) *FileSystem {
	const defaultBuf = 64 * 1024
	r := &FileSystem{bufSize: defaultBuf}
	if opts != nil {
		r.base = opts.BaseDir
		if opts.BufSize > 0 {
			r.bufSize = opts.BufSize
		}
		if opts.MaxBytes > 0 {
			r.maxBytes = opts.MaxBytes
		}
	}
	return r
}

// Resolve 返回 name 在 BaseDir 下的实际路径。
func (r *FileSystem) Resolve(name string) string {
	if r.base == "" || filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(r.base, name)
}

// Open 打开常规文件（允许指向常规文件的符号链接）。
// 不存在时返回包裹 contract.ErrSourceMissing 的错误；目录与设备文件视为无效输入。
func (r *FileSystem) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty path", contract.ErrSourceMissing)
	}
	p := r.Resolve(name)
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %w", contract.ErrSourceMissing, err)
		}
		return nil, err
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", contract.ErrInvalidInput, p)
	}
	if r.maxBytes > 0 && info.Size() > r.maxBytes {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", contract.ErrInvalidInput, p, r.maxBytes)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	return newBufferedCloser(f, r.bufSize), nil
}

// Exists 报告默认源是否存在（供界面提示使用）。
func (r *FileSystem) Exists(name string) bool {
	info, err := os.Stat(r.Resolve(name))
	return err == nil && info.Mode().IsRegular()
}

// bufferedCloser 将 bufio.Reader 与底层 Closer 组合为 ReadCloser。
type bufferedCloser struct {
	*bufio.Reader
	c io.Closer
}

func newBufferedCloser(c io.ReadCloser, bufSize int) *bufferedCloser {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	return &bufferedCloser{Reader: bufio.NewReaderSize(c, bufSize), c: c}
}

func (b *bufferedCloser) Close() error { return b.c.Close() }
