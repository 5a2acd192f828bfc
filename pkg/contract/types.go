package contract

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Row: 一行数据，按 Columns 顺序排列的单元格文本（缺失值已归一为空串）。
type Row []string

// Dataset: 整份表格数据。一次生成内只读，按原始行序与列序保存。
// 约束：
// - len(Row) == len(Columns)（短行由解码器补空串）；
// - 数值计算一律交给远端模型，本地只做序列化。
type Dataset struct {
	Columns []string
	Rows    []Row
}

// Len 返回行数。
func (d Dataset) Len() int { return len(d.Rows) }

// naTokens: 与常见表格工具一致的缺失值拼写，统一视为空串。
var naTokens = map[string]struct{}{
	"": {}, "NA": {}, "N/A": {}, "n/a": {}, "NaN": {}, "nan": {}, "-NaN": {}, "-nan": {},
	"NULL": {}, "null": {}, "None": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {},
	"-1.#IND": {}, "1.#IND": {}, "-1.#QNAN": {}, "1.#QNAN": {}, "<NA>": {},
}

// NormalizeCell 将缺失值拼写归一为空串，其余原样返回。
func NormalizeCell(s string) string {
	if _, ok := naTokens[strings.TrimSpace(s)]; ok {
		return ""
	}
	return s
}

type cellKind int

const (
	kindString cellKind = iota
	kindInt
	kindFloat
)

// columnKinds 逐列推断类型：整列非空单元均为整数则按整数输出，
// 均为有限浮点则按浮点输出，否则保持字符串。全空列按字符串。
func (d Dataset) columnKinds() []cellKind {
	kinds := make([]cellKind, len(d.Columns))
	for c := range d.Columns {
		seen, allInt, allFloat := false, true, true
		for _, r := range d.Rows {
			if c >= len(r) || r[c] == "" {
				continue
			}
			seen = true
			v := strings.TrimSpace(r[c])
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
				allFloat = false
			}
			if !allInt && !allFloat {
				break
			}
		}
		switch {
		case !seen:
			kinds[c] = kindString
		case allInt:
			kinds[c] = kindInt
		case allFloat:
			kinds[c] = kindFloat
		default:
			kinds[c] = kindString
		}
	}
	return kinds
}

// MarshalJSON 输出记录数组：每行一个对象，键按列序，缩进两个空格，
// 非 ASCII 原样保留，不做 HTML 转义。空单元在数值列中输出为 ""。
func (d Dataset) MarshalJSON() ([]byte, error) {
	kinds := d.columnKinds()
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, r := range d.Rows {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.WriteByte('{')
		for c, col := range d.Columns {
			if c > 0 {
				compact.WriteByte(',')
			}
			if err := writeJSONString(&compact, col); err != nil {
				return nil, err
			}
			compact.WriteByte(':')
			cell := ""
			if c < len(r) {
				cell = r[c]
			}
			if err := writeCell(&compact, cell, kinds[c]); err != nil {
				return nil, err
			}
		}
		compact.WriteByte('}')
	}
	compact.WriteByte(']')
	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// RowsJSON 是 MarshalJSON 的字符串便捷形式，供提示词直接嵌入。
func (d Dataset) RowsJSON() (string, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func writeCell(buf *bytes.Buffer, cell string, k cellKind) error {
	v := strings.TrimSpace(cell)
	if v == "" || k == kindString {
		return writeJSONString(buf, cell)
	}
	switch k {
	case kindInt:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return writeJSONString(buf, cell)
		}
		buf.WriteString(strconv.FormatInt(n, 10))
	case kindFloat:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return writeJSONString(buf, cell)
		}
		b, err := json.Marshal(f)
		if err != nil {
			return err
		}
		buf.Write(b)
	}
	return nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode 追加换行
	buf.Truncate(buf.Len() - 1)
	return nil
}

// Section: 模板中由标记词起始的一段文本（已去首尾空白）。
// Ordinal 自 1 起连续递增。
type Section struct {
	Ordinal int
	Text    string
}
