package ordinal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: 装配选项。
type Options struct {
	// Separator: 段落分隔符，默认 contract.ReportSeparator。
	Separator *string `json:"separator,omitempty"`
	// RequireDense: 要求 Ordinal 恰为 1..k（缺号即报错）。
	RequireDense bool `json:"require_dense,omitempty"`
}

type assembler struct {
	sep   string
	dense bool
}

// New 从原样 JSON Options 创建序号装配器。
func New(raw json.RawMessage) (contract.Assembler, error) {
	var o Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&o); err != nil {
			return nil, fmt.Errorf("ordinal options: %w", err)
		}
	}
	a := &assembler{sep: contract.ReportSeparator, dense: o.RequireDense}
	if o.Separator != nil {
		a.sep = *o.Separator
	}
	return a, nil
}

// Assemble 按 Ordinal 升序拼接；结果与 map 迭代顺序无关。
// Ordinal 非正，或开启 RequireDense 时出现缺号，返回 ErrSeqInvalid。
func (a *assembler) Assemble(ctx context.Context, sections map[int]string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if len(sections) == 0 {
		return "", nil
	}
	keys := make([]int, 0, len(sections))
	size := 0
	for k, v := range sections {
		if k <= 0 {
			return "", fmt.Errorf("ordinal %d: %w", k, contract.ErrSeqInvalid)
		}
		keys = append(keys, k)
		size += len(v) + len(a.sep)
	}
	sort.Ints(keys)
	if a.dense && keys[len(keys)-1] != len(keys) {
		return "", fmt.Errorf("ordinals not dense (max %d, count %d): %w", keys[len(keys)-1], len(keys), contract.ErrSeqInvalid)
	}
	var sb strings.Builder
	sb.Grow(size)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(a.sep)
		}
		sb.WriteString(sections[k])
	}
	return sb.String(), nil
}

var _ contract.Assembler = (*assembler)(nil)
