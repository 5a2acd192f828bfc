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
	"strings"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: 最小必要选项。
type Options struct {
	// OutputDir: 输出根目录（必需，不存在时自动创建）。
	OutputDir string `json:"output_dir"`
	// Atomic: 是否先写同目录临时文件再发布。
	// 默认值：true。未提供该字段时采用原子写；显式 false 时直接以 O_EXCL 创建。
	Atomic *bool `json:"atomic,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用实现/平台默认。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
	// BufSize: 写缓冲区大小；<=0 使用实现默认。
	BufSize int `json:"buf_size,omitempty"`
}

// FS 为只增不改的快照目录。
type FS struct {
	root    string
	atomic  bool
	permF   os.FileMode
	permD   os.FileMode
	bufSize int
}

// New 创建文件系统 Writer 实现。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.OutputDir) == "" {
		return nil, fmt.Errorf("fs writer: %w: output_dir required", contract.ErrInvalidInput)
	}
	bsz := opts.BufSize
	if bsz <= 0 {
		bsz = 64 * 1024
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: opts.OutputDir, atomic: atomic, permF: pf, permD: pd, bufSize: bsz}, nil
}

var _ contract.Writer = (*FS)(nil)

// Root 返回输出目录。
func (w *FS) Root() string { return w.root }

// Write 将 r 的全部字节写入 OutputDir/name；目标已存在时返回包裹 ErrExists 的错误。
func (w *FS) Write(ctx context.Context, name string, r io.Reader) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	dest, err := w.mapPath(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(w.root, w.permD); err != nil {
		return err
	}
	if w.atomic {
		err = w.writeAtomic(ctx, dest, r)
	} else {
		err = w.writeExclusive(ctx, dest, r)
	}
	if errors.Is(err, fs.ErrExist) {
		return fmt.Errorf("%s: %w", name, contract.ErrExists)
	}
	return err
}

// mapPath: 快照均落在 OutputDir 下一层，拒绝任何目录成分。
func (w *FS) mapPath(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", contract.ErrPathInvalid
	}
	if strings.ContainsAny(name, `/\`) || filepath.VolumeName(name) != "" || filepath.Base(name) != name {
		return "", contract.ErrPathInvalid
	}
	if strings.HasPrefix(name, ".tmp-") {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, name), nil
}

func (w *FS) writeExclusive(ctx context.Context, dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_EXCL, w.permF)
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(f, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(dest)
		return err
	}
	return f.Close()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	// 提前失败，免得白写一份临时文件
	if _, err := os.Lstat(dest); err == nil {
		return fs.ErrExist
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriterSize(tmp, w.bufSize)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		_ = bw.Flush()
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := bw.Flush(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	// 平台特定的不覆盖发布
	if err := osPublish(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	select {
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	default:
	}
	return cr.r.Read(p)
}
