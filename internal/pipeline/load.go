package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Inputs 为一次生成的输入。字段非 nil 表示用户上传了该文件（即便为空），
// 优先于磁盘上的默认路径。
type Inputs struct {
	CSV      []byte
	Template []byte
}

// UserError 携带面向用户的提示文本，同时保留底层错误供分类与日志。
type UserError struct {
	Msg string
	Err error
}

func (e *UserError) Error() string { return e.Msg }
func (e *UserError) Unwrap() error { return e.Err }

// UserMessage 返回 err 面向用户的文本。
func UserMessage(err error) string {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue.Msg
	}
	return err.Error()
}

func userErr(err error, format string, args ...any) error {
	return &UserError{Msg: fmt.Sprintf(format, args...), Err: err}
}

// loadDataset: 上传优先；否则读取默认 CSV。
func (o *Orchestrator) loadDataset(ctx context.Context, in Inputs) (contract.Dataset, error) {
	if in.CSV != nil {
		ds, err := o.comp.Decoder.Decode(ctx, bytes.NewReader(in.CSV))
		if err != nil {
			return contract.Dataset{}, userErr(err, "Failed to read uploaded CSV: %v", err)
		}
		return ds, nil
	}
	path := o.set.DefaultCSV
	rc, err := o.comp.Reader.Open(ctx, path)
	if err != nil {
		if errors.Is(err, contract.ErrSourceMissing) {
			return contract.Dataset{}, userErr(err, "CSV data not found. Upload a CSV or place one at %s", path)
		}
		return contract.Dataset{}, userErr(err, "Failed to read CSV at %s: %v", path, err)
	}
	defer rc.Close()
	ds, err := o.comp.Decoder.Decode(ctx, rc)
	if err != nil {
		return contract.Dataset{}, userErr(err, "Failed to read CSV at %s: %v", path, err)
	}
	return ds, nil
}

// loadSections: 上传优先；否则读取默认模板；随后拆分并校验。
func (o *Orchestrator) loadSections(ctx context.Context, in Inputs) ([]contract.Section, error) {
	var (
		r      io.Reader
		failed func(error) error
	)
	if in.Template != nil {
		r = bytes.NewReader(in.Template)
		failed = func(err error) error { return userErr(err, "Failed to read uploaded template: %v", err) }
	} else {
		path := o.set.DefaultTemplate
		rc, err := o.comp.Reader.Open(ctx, path)
		if err != nil {
			if errors.Is(err, contract.ErrSourceMissing) {
				return nil, userErr(err, "Template not found. Upload a .txt template or place one at %s", path)
			}
			return nil, userErr(err, "Failed to read template at %s: %v", path, err)
		}
		defer rc.Close()
		r = rc
		failed = func(err error) error { return userErr(err, "Failed to read template at %s: %v", path, err) }
	}

	secs, err := o.comp.Splitter.Split(ctx, r)
	if err == nil {
		err = contract.ValidateSections(secs)
	}
	switch {
	case err == nil:
		return secs, nil
	case errors.Is(err, contract.ErrNoSections):
		return nil, userErr(err, "No sections found in template. Ensure your template uses '%s' headers.", o.set.markerName())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, err
	default:
		return nil, failed(err)
	}
}
