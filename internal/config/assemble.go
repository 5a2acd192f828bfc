package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mist54/GenTemplate/internal/pipeline"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/pkg/contract"
	"github.com/Mist54/GenTemplate/pkg/registry"
)

// 各 client 在行内错误文本中的默认名称。
var clientLabels = map[string]string{
	"gemini": "Gemini",
	"openai": "OpenAI",
	"mock":   "Mock",
	"flaky":  "Mock",
}

// Validate 对最小必要边界做静态校验。
func Validate(cfg Config) error {
	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return errors.New("config: server.addr empty")
	}
	if strings.TrimSpace(cfg.Inputs.DefaultCSV) == "" || strings.TrimSpace(cfg.Inputs.DefaultTemplate) == "" {
		return errors.New("config: inputs.default_csv and inputs.default_template required")
	}
	if cfg.PauseMS < -1 {
		return errors.New("config: pause_ms must be >= -1")
	}
	if cfg.Generation.MaxOutputTokens < 0 {
		return errors.New("config: generation.max_output_tokens must be >= 0")
	}
	if t := cfg.Generation.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("config: generation.temperature %.2f out of [0,2]", *t)
	}
	if cfg.Generation.BytesPerToken < 0 {
		return errors.New("config: generation.bytes_per_token must be >= 0")
	}
	if cfg.LLM == "" {
		return errors.New("config: llm not set")
	}
	prov, ok := cfg.Provider[cfg.LLM]
	if !ok {
		return fmt.Errorf("config: provider %q not found", cfg.LLM)
	}
	if prov.Client == "" {
		return fmt.Errorf("config: provider %q missing client", cfg.LLM)
	}
	if registry.LLMClient[prov.Client] == nil {
		return fmt.Errorf("config: llm client %q not registered", prov.Client)
	}
	if max := genOptions(cfg).MaxOutputTokens; prov.Limits.MaxTokensPerReq > 0 && max > prov.Limits.MaxTokensPerReq {
		return fmt.Errorf("config: max_output_tokens(%d) exceeds provider.max_tokens_per_req(%d)", max, prov.Limits.MaxTokensPerReq)
	}

	// 组件名若为空，使用默认名（由 Defaults() 提供）。
	d := Defaults().Components
	checks := []struct {
		kind, name string
		ok         bool
	}{
		{"reader", effName(cfg.Components.Reader, d.Reader), registry.Reader[effName(cfg.Components.Reader, d.Reader)] != nil},
		{"decoder", effName(cfg.Components.Decoder, d.Decoder), registry.Decoder[effName(cfg.Components.Decoder, d.Decoder)] != nil},
		{"splitter", effName(cfg.Components.Splitter, d.Splitter), registry.Splitter[effName(cfg.Components.Splitter, d.Splitter)] != nil},
		{"prompt_builder", effName(cfg.Components.PromptBuilder, d.PromptBuilder), registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.PromptBuilder)] != nil},
		{"assembler", effName(cfg.Components.Assembler, d.Assembler), registry.Assembler[effName(cfg.Components.Assembler, d.Assembler)] != nil},
		{"writer", effName(cfg.Components.Writer, d.Writer), registry.Writer[effName(cfg.Components.Writer, d.Writer)] != nil},
	}
	for _, c := range checks {
		if !c.ok {
			return fmt.Errorf("config: %s %q not registered", c.kind, c.name)
		}
	}
	return nil
}

// Assemble 构造 Components 与 Settings（含限流 Gate+Key）。
// 严格 Options 解析在 registry（工厂）层进行；此处只传 raw JSON。
// LLM 工厂报告凭据缺失时不视为启动失败：生成器进入“每次调用返回固定提示”的状态。
func Assemble(cfg Config) (pipeline.Components, pipeline.Settings, error) {
	if err := Validate(cfg); err != nil {
		return pipeline.Components{}, pipeline.Settings{}, err
	}
	fail := func(kind string, err error) (pipeline.Components, pipeline.Settings, error) {
		return pipeline.Components{}, pipeline.Settings{}, fmt.Errorf("config: %s: %w", kind, err)
	}

	d := Defaults()
	r, err := registry.Reader[effName(cfg.Components.Reader, d.Components.Reader)](cfg.Options.Reader)
	if err != nil {
		return fail("reader", err)
	}
	dec, err := registry.Decoder[effName(cfg.Components.Decoder, d.Components.Decoder)](cfg.Options.Decoder)
	if err != nil {
		return fail("decoder", err)
	}
	s, err := registry.Splitter[effName(cfg.Components.Splitter, d.Components.Splitter)](cfg.Options.Splitter)
	if err != nil {
		return fail("splitter", err)
	}
	pb, err := registry.PromptBuilder[effName(cfg.Components.PromptBuilder, d.Components.PromptBuilder)](cfg.Options.PromptBuilder)
	if err != nil {
		return fail("prompt_builder", err)
	}
	asm, err := registry.Assembler[effName(cfg.Components.Assembler, d.Components.Assembler)](cfg.Options.Assembler)
	if err != nil {
		return fail("assembler", err)
	}
	w, err := registry.Writer[effName(cfg.Components.Writer, d.Components.Writer)](cfg.Options.Writer)
	if err != nil {
		return fail("writer", err)
	}

	// LLM 客户端：凭据在构造时一次性确定
	prov := cfg.Provider[cfg.LLM]
	label := cfg.Generation.Label
	if label == "" {
		label = clientLabels[prov.Client]
	}
	var gen *pipeline.Generator
	llm, err := registry.LLMClient[prov.Client](prov.Options)
	switch {
	case err == nil:
		gen = pipeline.NewGenerator(llm, nil, label, genOptions(cfg))
	case errors.Is(err, contract.ErrCredentialMissing):
		gen = pipeline.NewGenerator(nil, err, label, genOptions(cfg))
	default:
		return fail("llm", err)
	}

	// 限流 Gate（按 provider 限额构造；分组键从 options 中派生 API Key，失败则退化为 provider 名称）
	key, derr := rate.DeriveKeyFromProviderOptions(prov.Client, prov.Options)
	if derr != nil {
		key = rate.LimitKey(cfg.LLM)
	}
	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{
		key: {RPM: prov.Limits.RPM, TPM: prov.Limits.TPM, MaxTokensPerReq: prov.Limits.MaxTokensPerReq},
	}, nil)

	comp := pipeline.Components{
		Reader:        r,
		Decoder:       dec,
		Splitter:      s,
		PromptBuilder: pb,
		Assembler:     asm,
		Writer:        w,
		Gen:           gen,
	}
	set := pipeline.Settings{
		DefaultCSV:      cfg.Inputs.DefaultCSV,
		DefaultTemplate: cfg.Inputs.DefaultTemplate,
		Marker:          markerOf(cfg.Options.Splitter),
		Pause:           pauseOf(cfg.PauseMS),
		BytesPerToken:   cfg.Generation.BytesPerToken,
		Gate:            gate,
		GateKey:         key,
	}
	return comp, set, nil
}

// genOptions: 未设置的字段取 pipeline.DefaultOptions。
func genOptions(cfg Config) contract.GenOptions {
	opts := pipeline.DefaultOptions()
	if t := cfg.Generation.Temperature; t != nil {
		v := *t
		opts.Temperature = &v
	}
	if cfg.Generation.MaxOutputTokens > 0 {
		opts.MaxOutputTokens = cfg.Generation.MaxOutputTokens
	}
	return opts
}

func pauseOf(ms int) time.Duration {
	switch {
	case ms < 0:
		return -1
	case ms == 0:
		return pipeline.DefaultPause
	default:
		return time.Duration(ms) * time.Millisecond
	}
}

// markerOf 仅用于提示文本；解析失败时返回空（由 pipeline 取默认）。
func markerOf(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var o struct {
		Marker string `json:"marker"`
	}
	_ = json.Unmarshal(raw, &o)
	return strings.TrimSpace(o.Marker)
}

func effName(got, def string) string {
	if got == "" {
		return def
	}
	return got
}
