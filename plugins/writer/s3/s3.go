package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// DefaultRegion 在配置与环境均未给出区域时使用。
const DefaultRegion = "us-east-1"

// Options: 对象存储快照目标。
type Options struct {
	Bucket string `json:"bucket"`
	// Prefix: 键前缀，例如 "reports/"；空表示桶根。
	Prefix  string `json:"prefix"`
	Region  string `json:"region"`
	Profile string `json:"profile"`
	// Endpoint/UsePathStyle: 兼容 MinIO 等 S3 协议服务。
	Endpoint     string `json:"endpoint"`
	UsePathStyle bool   `json:"use_path_style"`
	// MaxBytes: 单个快照上限，默认 16MiB。
	MaxBytes int64 `json:"max_bytes"`
}

// ObjectAPI 为 Writer 用到的最小 S3 操作集合（便于替换为测试桩）。
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Writer 把快照写为 S3 对象；同名对象已存在时拒绝写入。
type Writer struct {
	api    ObjectAPI
	bucket string
	prefix string
	max    int64
}

// New 按默认凭据链加载 AWS 配置并创建 Writer。
func New(ctx context.Context, opts *Options) (*Writer, error) {
	if opts == nil || strings.TrimSpace(opts.Bucket) == "" {
		return nil, fmt.Errorf("s3 writer: %w: bucket required", contract.ErrInvalidInput)
	}
	loaders := []func(*awsconfig.LoadOptions) error{awsconfig.WithDefaultRegion(DefaultRegion)}
	if opts.Region != "" {
		loaders = append(loaders, awsconfig.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loaders = append(loaders, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.UsePathStyle
	})
	return NewWithAPI(client, opts), nil
}

// NewWithAPI 使用给定的 ObjectAPI 创建 Writer。
func NewWithAPI(api ObjectAPI, opts *Options) *Writer {
	w := &Writer{api: api, max: 16 << 20}
	if opts != nil {
		w.bucket = opts.Bucket
		w.prefix = strings.TrimLeft(opts.Prefix, "/")
		if opts.MaxBytes > 0 {
			w.max = opts.MaxBytes
		}
	}
	return w
}

// Key 返回快照对应的对象键。
func (w *Writer) Key(name string) string {
	if w.prefix == "" {
		return name
	}
	return path.Join(w.prefix, name)
}

// Write 先 HeadObject 判重再 PutObject。
// 两步之间仍有并发窗口；同一会话内快照串行产生，名字带时间戳，冲突只来自外部写者。
func (w *Writer) Write(ctx context.Context, name string, r io.Reader) error {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return contract.ErrPathInvalid
	}
	key := w.Key(name)
	_, err := w.api.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(w.bucket), Key: aws.String(key)})
	if err == nil {
		return fmt.Errorf("s3://%s/%s: %w", w.bucket, key, contract.ErrExists)
	}
	var nf *types.NotFound
	var nsk *types.NoSuchKey
	if !errors.As(err, &nf) && !errors.As(err, &nsk) {
		return fmt.Errorf("s3 head %s: %w", key, err)
	}

	// PutObject 需要可重放的 Body 以计算长度与校验
	buf, err := io.ReadAll(io.LimitReader(r, w.max+1))
	if err != nil {
		return err
	}
	if int64(len(buf)) > w.max {
		return fmt.Errorf("%w: snapshot exceeds %d bytes", contract.ErrBudgetExceeded, w.max)
	}
	_, err = w.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf),
		ContentType: aws.String("text/plain; charset=utf-8"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

var _ contract.Writer = (*Writer)(nil)
