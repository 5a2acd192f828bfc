package marker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// DefaultMarker 为默认段落标记词（区分大小写，整词匹配）。
const DefaultMarker = "SECTION"

// Options 为标记词拆分器的可选配置。
type Options struct {
	// Marker: 段落起始标记词，空则为 DefaultMarker。
	Marker string `json:"marker"`
	// DropPreamble: 丢弃首个标记之前的文本。默认保留为首段。
	DropPreamble bool `json:"drop_preamble"`
	// MaxTemplateBytes: 模板最大字节数。0 表示不限制。
	MaxTemplateBytes int `json:"max_template_bytes"`
}

// Splitter 在每个整词标记出现处之前切分模板。
type Splitter struct {
	re           *regexp.Regexp
	dropPreamble bool
	maxBytes     int
}

// New 创建拆分器；标记词非法（含空白）时报错。
func New(opts *Options) (*Splitter, error) {
	m := DefaultMarker
	s := &Splitter{}
	if opts != nil {
		if opts.Marker != "" {
			m = opts.Marker
		}
		s.dropPreamble = opts.DropPreamble
		if opts.MaxTemplateBytes > 0 {
			s.maxBytes = opts.MaxTemplateBytes
		}
	}
	if strings.ContainsAny(m, " \t\r\n") {
		return nil, fmt.Errorf("marker: %q must be a single word", m)
	}
	// RE2 的 \b 只认 ASCII 单词字符；边界改由 wholeWord 按 Unicode 判定
	s.re = regexp.MustCompile(regexp.QuoteMeta(m))
	return s, nil
}

// Split 将模板拆分为 []Section。
func (s *Splitter) Split(ctx context.Context, r io.Reader) ([]contract.Section, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	src := r
	if s.maxBytes > 0 {
		src = io.LimitReader(r, int64(s.maxBytes)+1)
	}
	b, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	if s.maxBytes > 0 && len(b) > s.maxBytes {
		return nil, fmt.Errorf("%w: template too large: > %d bytes", contract.ErrInvalidInput, s.maxBytes)
	}
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%w: template is not valid UTF-8", contract.ErrInvalidInput)
	}
	text := strings.ReplaceAll(string(b), "\r\n", "\n")

	// RE2 不支持前瞻：取每个匹配的起点作为切分点
	cuts := []int{0}
	for _, loc := range s.matches(text) {
		if loc > 0 {
			cuts = append(cuts, loc)
		}
	}
	cuts = append(cuts, len(text))

	var out []contract.Section
	for i := 0; i+1 < len(cuts); i++ {
		if err := ctxErr(ctx); err != nil {
			return nil, err
		}
		piece := text[cuts[i]:cuts[i+1]]
		// 首段不以标记开头即为前言
		if i == 0 && s.dropPreamble && !s.startsWithMarker(piece) {
			continue
		}
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		out = append(out, contract.Section{Ordinal: len(out) + 1, Text: piece})
	}
	if len(out) == 0 {
		return nil, contract.ErrNoSections
	}
	return out, nil
}

func (s *Splitter) startsWithMarker(piece string) bool {
	locs := s.matches(piece)
	return len(locs) > 0 && locs[0] == 0
}

// matches 返回整词出现的起点。
func (s *Splitter) matches(text string) []int {
	var out []int
	for _, loc := range s.re.FindAllStringIndex(text, -1) {
		if wholeWord(text, loc[0], loc[1]) {
			out = append(out, loc[0])
		}
	}
	return out
}

// wholeWord 报告 text[start:end] 两端是否都落在单词边界上。
func wholeWord(text string, start, end int) bool {
	first, _ := utf8.DecodeRuneInString(text[start:end])
	last, _ := utf8.DecodeLastRuneInString(text[start:end])
	if start > 0 {
		prev, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(prev) == isWordRune(first) {
			return false
		}
	} else if !isWordRune(first) {
		return false
	}
	if end < len(text) {
		next, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(next) == isWordRune(last) {
			return false
		}
	} else if !isWordRune(last) {
		return false
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
