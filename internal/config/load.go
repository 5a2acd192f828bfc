package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix 为环境变量覆盖的前缀。
const EnvPrefix = "GENTEMP_"

// 默认值。
const (
	DefaultAddr             = ":8501"
	DefaultShutdownSeconds  = 10
	DefaultSessionIdleHours = 24
	DefaultOutputDir        = "outputs"
)

// Defaults 返回带有安全默认值的 Config 雏形。
// 未配置任何 provider 时使用 gemini，密钥取自 GEMINI_API_KEY。
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:             DefaultAddr,
			ShutdownSeconds:  DefaultShutdownSeconds,
			SessionIdleHours: DefaultSessionIdleHours,
		},
		Inputs: Inputs{
			DefaultCSV:      "src/Monthly_Operations_Data.csv",
			DefaultTemplate: "src/ReportTemplate.txt",
		},
		Logging: Logging{Level: "info", Dir: "logs"},
		Components: Components{
			Reader:        "fs",
			Decoder:       "csv",
			Splitter:      "marker",
			PromptBuilder: "report",
			Assembler:     "ordinal",
			Writer:        "fs",
		},
		LLM: "gemini",
		Provider: map[string]Provider{
			"gemini": {Client: "gemini"},
		},
		Options: Options{
			Writer: json.RawMessage(`{"output_dir":"` + DefaultOutputDir + `"}`),
		},
	}
}

// LoadFile 按扩展名解析 JSON 或 YAML 配置（严格拒绝未知字段）。
func LoadFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(b)
	default:
		return LoadJSON("", b)
	}
}

// LoadJSON 从文件路径或原始 JSON 解析 Config（严格拒绝未知字段）。
func LoadJSON(path string, raw []byte) (Config, error) {
	var cfg Config
	if len(raw) == 0 {
		if path == "" {
			return cfg, errors.New("no config source provided")
		}
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		raw = b
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// LoadYAML 先把 YAML 文档转为 JSON，再走与 LoadJSON 相同的严格解码；
// 组件 Options 子树因此仍以原样 JSON 交给工厂。
func LoadYAML(raw []byte) (Config, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	if doc == nil {
		return Config{}, errors.New("config: yaml: empty document")
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return Config{}, fmt.Errorf("config: yaml: %w", err)
	}
	return LoadJSON("", b)
}

// Merge 按优先级合并（后者覆盖前者）。
// 仅标量/字符串/原样 JSON 为“替换”；不做深度合并。
func Merge(base, over Config) Config {
	out := base
	out.Provider = cloneProviders(base.Provider)

	if s := strings.TrimSpace(over.Server.Addr); s != "" {
		out.Server.Addr = s
	}
	if over.Server.ShutdownSeconds > 0 {
		out.Server.ShutdownSeconds = over.Server.ShutdownSeconds
	}
	if over.Server.SessionIdleHours > 0 {
		out.Server.SessionIdleHours = over.Server.SessionIdleHours
	}
	if s := strings.TrimSpace(over.Inputs.DefaultCSV); s != "" {
		out.Inputs.DefaultCSV = s
	}
	if s := strings.TrimSpace(over.Inputs.DefaultTemplate); s != "" {
		out.Inputs.DefaultTemplate = s
	}
	if s := strings.TrimSpace(over.Logging.Level); s != "" {
		out.Logging.Level = s
	}
	if s := strings.TrimSpace(over.Logging.Dir); s != "" {
		out.Logging.Dir = s
	}
	if over.Logging.Console {
		out.Logging.Console = true
	}
	// PauseMS: 0 视为未覆盖；-1 显式关闭停顿
	if over.PauseMS != 0 {
		out.PauseMS = over.PauseMS
	}
	if over.Generation.Temperature != nil {
		t := *over.Generation.Temperature
		out.Generation.Temperature = &t
	}
	if over.Generation.MaxOutputTokens != 0 {
		out.Generation.MaxOutputTokens = over.Generation.MaxOutputTokens
	}
	if s := strings.TrimSpace(over.Generation.Label); s != "" {
		out.Generation.Label = s
	}
	if over.Generation.BytesPerToken != 0 {
		out.Generation.BytesPerToken = over.Generation.BytesPerToken
	}

	// 组件名（空不覆盖）
	mergeName(&out.Components.Reader, over.Components.Reader)
	mergeName(&out.Components.Decoder, over.Components.Decoder)
	mergeName(&out.Components.Splitter, over.Components.Splitter)
	mergeName(&out.Components.PromptBuilder, over.Components.PromptBuilder)
	mergeName(&out.Components.Assembler, over.Components.Assembler)
	mergeName(&out.Components.Writer, over.Components.Writer)

	// Provider：按字段覆盖，零值不覆盖
	for k, v := range over.Provider {
		if out.Provider == nil {
			out.Provider = make(map[string]Provider, len(over.Provider))
		}
		out.Provider[k] = mergeProvider(out.Provider[k], v)
	}

	// Options（完整替换对应键）
	mergeRaw(&out.Options.Reader, over.Options.Reader)
	mergeRaw(&out.Options.Decoder, over.Options.Decoder)
	mergeRaw(&out.Options.Splitter, over.Options.Splitter)
	mergeRaw(&out.Options.PromptBuilder, over.Options.PromptBuilder)
	mergeRaw(&out.Options.Assembler, over.Options.Assembler)
	mergeRaw(&out.Options.Writer, over.Options.Writer)

	mergeName(&out.LLM, over.LLM)
	return out
}

// EnvOverlay 从环境变量构建一个 Config 覆盖（仅解析有限键集合）。
// 前缀 GENTEMP_；支持 ADDR, DEFAULT_CSV, DEFAULT_TEMPLATE, PAUSE_MS, LOG_LEVEL,
// LOG_DIR, LOG_CONSOLE, TEMPERATURE, MAX_OUTPUT_TOKENS, LABEL, LLM, OUTPUT_DIR, COMPONENTS_*，
// 以及 PROVIDER__<name>__CLIENT / LIMITS_{RPM,TPM,MAX_TOKENS_PER_REQ} / OPTIONS_JSON。
// 数值解析失败返回错误。
func EnvOverlay(environ []string) (Config, error) {
	var over Config
	prov := map[string]Provider{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, EnvPrefix) {
			continue
		}
		eq := strings.IndexByte(kv, '=')
		if eq <= len(EnvPrefix) {
			continue
		}
		key := kv[len(EnvPrefix):eq]
		val := strings.TrimSpace(kv[eq+1:])
		if val == "" {
			continue
		}
		var err error
		switch key {
		case "ADDR":
			over.Server.Addr = val
		case "DEFAULT_CSV":
			over.Inputs.DefaultCSV = val
		case "DEFAULT_TEMPLATE":
			over.Inputs.DefaultTemplate = val
		case "PAUSE_MS":
			over.PauseMS, err = atoi(val)
		case "LOG_LEVEL":
			over.Logging.Level = val
		case "LOG_DIR":
			over.Logging.Dir = val
		case "LOG_CONSOLE":
			over.Logging.Console, err = strconv.ParseBool(val)
		case "TEMPERATURE":
			var f float64
			f, err = strconv.ParseFloat(val, 32)
			t := float32(f)
			over.Generation.Temperature = &t
		case "MAX_OUTPUT_TOKENS":
			over.Generation.MaxOutputTokens, err = atoi(val)
		case "LABEL":
			over.Generation.Label = val
		case "LLM":
			over.LLM = val
		case "OUTPUT_DIR":
			b, _ := json.Marshal(map[string]string{"output_dir": val})
			over.Options.Writer = b
		case "COMPONENTS_READER":
			over.Components.Reader = val
		case "COMPONENTS_DECODER":
			over.Components.Decoder = val
		case "COMPONENTS_SPLITTER":
			over.Components.Splitter = val
		case "COMPONENTS_PROMPT_BUILDER":
			over.Components.PromptBuilder = val
		case "COMPONENTS_ASSEMBLER":
			over.Components.Assembler = val
		case "COMPONENTS_WRITER":
			over.Components.Writer = val
		default:
			if strings.HasPrefix(key, "PROVIDER__") {
				err = envProvider(prov, key, val)
			}
		}
		if err != nil {
			return Config{}, fmt.Errorf("config: env %s%s: %w", EnvPrefix, key, err)
		}
	}
	if len(prov) > 0 {
		over.Provider = prov
	}
	return over, nil
}

// envProvider 解析 PROVIDER__name__FIELD。
func envProvider(prov map[string]Provider, key, val string) error {
	parts := strings.Split(key, "__")
	if len(parts) < 3 {
		return nil
	}
	name := strings.ToLower(strings.TrimSpace(parts[1]))
	if name == "" {
		return nil
	}
	p := prov[name]
	var err error
	switch strings.Join(parts[2:], "__") {
	case "CLIENT":
		p.Client = val
	case "LIMITS_RPM":
		p.Limits.RPM, err = atoi(val)
	case "LIMITS_TPM":
		p.Limits.TPM, err = atoi(val)
	case "LIMITS_MAX_TOKENS_PER_REQ":
		p.Limits.MaxTokensPerReq, err = atoi(val)
	case "OPTIONS_JSON":
		if !json.Valid([]byte(val)) {
			return errors.New("invalid json")
		}
		p.Options = json.RawMessage(val)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	prov[name] = p
	return nil
}

func mergeProvider(base, over Provider) Provider {
	mergeName(&base.Client, over.Client)
	mergeRaw(&base.Options, over.Options)
	if over.Limits.RPM != 0 {
		base.Limits.RPM = over.Limits.RPM
	}
	if over.Limits.TPM != 0 {
		base.Limits.TPM = over.Limits.TPM
	}
	if over.Limits.MaxTokensPerReq != 0 {
		base.Limits.MaxTokensPerReq = over.Limits.MaxTokensPerReq
	}
	return base
}

func mergeName(dst *string, v string) {
	if s := strings.TrimSpace(v); s != "" {
		*dst = s
	}
}

func mergeRaw(dst *json.RawMessage, v json.RawMessage) {
	if len(v) > 0 {
		*dst = cloneRaw(v)
	}
}

func cloneProviders(in map[string]Provider) map[string]Provider {
	if in == nil {
		return nil
	}
	out := make(map[string]Provider, len(in))
	for k, v := range in {
		v.Options = cloneRaw(v.Options)
		out[k] = v
	}
	return out
}

func cloneRaw(in json.RawMessage) json.RawMessage {
	if len(in) == 0 {
		return nil
	}
	out := make([]byte, len(in))
	copy(out, in)
	return out
}

func atoi(s string) (int, error) {
	return strconv.Atoi(strings.TrimSpace(s))
}
