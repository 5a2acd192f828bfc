package csvrows

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: CSV 解码选项。
type Options struct {
	// Delimiter: 单字符分隔符，默认 ","。
	Delimiter string `json:"delimiter"`
	// LazyQuotes: 容忍不规范引号。
	LazyQuotes bool `json:"lazy_quotes"`
	// MaxRows: 最大数据行数（不含表头）。0 表示不限制。
	MaxRows int `json:"max_rows"`
}

type decoder struct {
	comma rune
	lazy  bool
	max   int
}

// New 从原样 JSON Options 创建解码器。
func New(raw json.RawMessage) (contract.DatasetDecoder, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("csvrows options: %w", err)
		}
	}
	return NewWithOptions(opts)
}

// NewWithOptions 以结构化选项创建解码器。
func NewWithOptions(opts Options) (contract.DatasetDecoder, error) {
	d := &decoder{comma: ',', lazy: opts.LazyQuotes, max: opts.MaxRows}
	if opts.Delimiter != "" {
		r, n := utf8.DecodeRuneInString(opts.Delimiter)
		if n != len(opts.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			return nil, fmt.Errorf("csvrows: invalid delimiter %q", opts.Delimiter)
		}
		d.comma = r
	}
	return d, nil
}

var bom = []byte("\xef\xbb\xbf")

// Decode 读取表头与数据行：
// - 去除 UTF-8 BOM；
// - 缺失值拼写归一为空串，短行补空；
// - 长于表头的行视为无效输入；
// - 重复列名追加 .1/.2 后缀，空列名记为 "Unnamed: i"。
func (d *decoder) Decode(ctx context.Context, r io.Reader) (contract.Dataset, error) {
	select {
	case <-ctx.Done():
		return contract.Dataset{}, ctx.Err()
	default:
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return contract.Dataset{}, err
	}
	b = bytes.TrimPrefix(b, bom)
	if !utf8.Valid(b) {
		return contract.Dataset{}, fmt.Errorf("%w: csv is not valid UTF-8", contract.ErrInvalidInput)
	}

	cr := csv.NewReader(bytes.NewReader(b))
	cr.Comma = d.comma
	cr.LazyQuotes = d.lazy
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return contract.Dataset{}, fmt.Errorf("%w: no columns to parse", contract.ErrInvalidInput)
	}
	if err != nil {
		return contract.Dataset{}, fmt.Errorf("%w: %w", contract.ErrInvalidInput, err)
	}
	ds := contract.Dataset{Columns: columnNames(header)}

	for n := 1; ; n++ {
		if n%1024 == 0 {
			select {
			case <-ctx.Done():
				return contract.Dataset{}, ctx.Err()
			default:
			}
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return contract.Dataset{}, fmt.Errorf("%w: %w", contract.ErrInvalidInput, err)
		}
		if len(rec) > len(ds.Columns) {
			// 引号内换行使记录跨多行，按物理行号报告
			line, _ := cr.FieldPos(0)
			return contract.Dataset{}, fmt.Errorf("%w: line %d has %d fields, expected %d", contract.ErrInvalidInput, line, len(rec), len(ds.Columns))
		}
		if d.max > 0 && len(ds.Rows) >= d.max {
			return contract.Dataset{}, fmt.Errorf("%w: more than %d rows", contract.ErrInvalidInput, d.max)
		}
		row := make(contract.Row, len(ds.Columns))
		for i := range row {
			if i < len(rec) {
				row[i] = contract.NormalizeCell(rec[i])
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, nil
}

func columnNames(header []string) []string {
	out := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		name := h
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if n, dup := seen[name]; dup {
			base := name
			for {
				n++
				name = base + "." + strconv.Itoa(n)
				if _, taken := seen[name]; !taken {
					break
				}
			}
			seen[base] = n
		}
		seen[name] = 0
		out[i] = name
	}
	return out
}
