package report

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options 为报告 PromptBuilder 的最小配置。
// 填充/改写模板各自二选一（inline 优先），均为空时使用内置默认模板。
// 模板可用字段：填充 {{.Section}} {{.RowsJSON}} {{.Ordinal}}；改写 {{.Instruction}} {{.Current}}。
type Options struct {
	InlineFillTemplate   string `json:"inline_fill_template"`
	FillTemplatePath     string `json:"fill_template_path"`
	InlineRefineTemplate string `json:"inline_refine_template"`
	RefineTemplatePath   string `json:"refine_template_path"`
}

// Builder: 构造填充/改写/对话三类 TextPrompt。
// 运行期不做 I/O；模板在构造期解析。
type Builder struct {
	fillT   *template.Template
	refineT *template.Template
}

type fillData struct {
	Ordinal  int
	Section  string
	RowsJSON string
}

type refineData struct {
	Instruction string
	Current     string
}

// New 创建报告 PromptBuilder。
func New(opts *Options) (*Builder, error) {
	o := Options{}
	if opts != nil {
		o = *opts
	}
	fillT, err := load("fill", defaultFillTemplate, o.InlineFillTemplate, o.FillTemplatePath)
	if err != nil {
		return nil, err
	}
	refineT, err := load("refine", defaultRefineTemplate, o.InlineRefineTemplate, o.RefineTemplatePath)
	if err != nil {
		return nil, err
	}
	return &Builder{fillT: fillT, refineT: refineT}, nil
}

// load 构造期 I/O：inline > path > 默认。
func load(name, def, inline, path string) (*template.Template, error) {
	src := def
	if inline != "" {
		src = inline
	} else if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s template read: %w", name, err)
		}
		src = string(b)
	}
	t, err := template.New(name).Option("missingkey=error").Parse(src)
	if err != nil {
		return nil, fmt.Errorf("%s template parse: %w", name, err)
	}
	return t, nil
}

// Fill: 段落原文 + 全量数据（JSON 原样嵌入）。
func (b *Builder) Fill(sec contract.Section, data contract.Dataset) (contract.Prompt, error) {
	if strings.TrimSpace(sec.Text) == "" {
		return nil, fmt.Errorf("prompt: %w: empty section", contract.ErrInvalidInput)
	}
	rows, err := data.RowsJSON()
	if err != nil {
		return nil, fmt.Errorf("prompt: rows json: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(defaultFillTemplate) + len(sec.Text) + len(rows))
	if err := b.fillT.Execute(&buf, fillData{Ordinal: sec.Ordinal, Section: sec.Text, RowsJSON: rows}); err != nil {
		return nil, fmt.Errorf("fill render: %w: %v", contract.ErrInvalidInput, err)
	}
	return contract.TextPrompt(buf.String()), nil
}

// Refine: 仅改写当前段落。空指令视为无效输入。
func (b *Builder) Refine(current, instruction string) (contract.Prompt, error) {
	if strings.TrimSpace(instruction) == "" {
		return nil, fmt.Errorf("prompt: %w: empty instruction", contract.ErrInvalidInput)
	}
	var buf bytes.Buffer
	if err := b.refineT.Execute(&buf, refineData{Instruction: instruction, Current: current}); err != nil {
		return nil, fmt.Errorf("refine render: %w: %v", contract.ErrInvalidInput, err)
	}
	return contract.TextPrompt(buf.String()), nil
}

// Chat: 原样透传最新一条消息。
func (b *Builder) Chat(message string) (contract.Prompt, error) {
	if strings.TrimSpace(message) == "" {
		return nil, fmt.Errorf("prompt: %w: empty message", contract.ErrInvalidInput)
	}
	return contract.TextPrompt(message), nil
}

// EstimateOverheadTokens: 填充模板的固定部分（不含段落与数据）。
func (b *Builder) EstimateOverheadTokens(estimate contract.TokenEstimator) int {
	if estimate == nil {
		return 0
	}
	var buf bytes.Buffer
	_ = b.fillT.Execute(&buf, fillData{})
	return estimate(buf.String())
}

// 静态接口断言
var _ contract.PromptBuilder = (*Builder)(nil)

const defaultFillTemplate = `You are an expert report-generation assistant. Fill ONLY the placeholders marked with {} in the CURRENT SECTION below using the FULL RAW DATA provided.

Rules (follow exactly):
1) DO NOT hallucinate. Use only the RAW DATA provided.
2) Do NOT change, reword, move, or delete any text outside the placeholders {}.
3) Perform ALL calculations (sums, averages, percentages, rankings, defect rates, margins, etc.) as needed.
4) Round numbers sensibly: integers or 2 decimals.
5) For Top-N lists, compute from raw data.
6) If any data is missing, fill with '[MISSING DATA]'.
7) Return ONLY the filled SECTION TEXT.

CURRENT SECTION TO FILL:
{{.Section}}

Full Data (raw rows, unchanged):
{{.RowsJSON}}
`

const defaultRefineTemplate = `You are an expert editor. Modify ONLY the section below based on the user's instruction.

Rules:
1) Keep the structure, formatting, and tone intact unless relevant to the instruction.
2) Apply the user's instruction precisely; do not alter unrelated parts.
3) Return ONLY the modified section text.

--- USER INSTRUCTION ---
{{.Instruction}}
--- CURRENT SECTION ---
{{.Current}}
`
