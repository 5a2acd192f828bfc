package config

import "encoding/json"

// DefaultTemplateConfig 返回 init-config 写出的默认配置模板：
// 使用 gemini（密钥取自环境变量），并列出 openai/mock 的全部选项键以便切换；
// 各组件 Options 列出全部键，值为中性默认。
func DefaultTemplateConfig() Config {
	d := Defaults()
	t := float32(0.7)
	cfg := Config{
		Server:  d.Server,
		Inputs:  d.Inputs,
		Logging: Logging{Level: "info", Dir: "logs", Console: true},
		PauseMS: 250,
		Generation: Generation{
			Temperature:     &t,
			MaxOutputTokens: 1000,
			Label:           "",
			BytesPerToken:   4,
		},
		Components: d.Components,
		LLM:        "gemini",
		Provider: map[string]Provider{
			"gemini": {
				Client: "gemini",
				Options: json.RawMessage(`{
  "model": "gemini-1.5-flash",
  "api_key_env": "GEMINI_API_KEY",
  "api_key": "",
  "base_url": "",
  "api_version": "",
  "timeout_seconds": 60,
  "extra_headers": {}
}`),
				Limits: Limits{RPM: 15, TPM: 1000000, MaxTokensPerReq: 0},
			},
			"openai": {
				Client: "openai",
				Options: json.RawMessage(`{
  "base_url": "",
  "model": "",
  "api_key_env": "OPENAI_API_KEY",
  "api_key": "",
  "timeout_seconds": 60,
  "endpoint_path": "",
  "disable_default_auth": false,
  "extra_headers": {},
  "max_tokens_field": ""
}`),
			},
			"mock": {
				Client:  "mock",
				Options: json.RawMessage(`{"prefix":"","api_key":"","response_mode":"","reject_options":false,"delay_ms":0}`),
				Limits:  Limits{RPM: 600},
			},
		},
	}
	cfg.Options.Reader = json.RawMessage(`{
  "base_dir": "",
  "buf_size": 65536,
  "max_bytes": 0
}`)
	cfg.Options.Decoder = json.RawMessage(`{
  "delimiter": ",",
  "lazy_quotes": false,
  "max_rows": 0
}`)
	cfg.Options.Splitter = json.RawMessage(`{
  "marker": "SECTION",
  "drop_preamble": false,
  "max_template_bytes": 0
}`)
	cfg.Options.PromptBuilder = json.RawMessage(`{
  "inline_fill_template": "",
  "fill_template_path": "",
  "inline_refine_template": "",
  "refine_template_path": ""
}`)
	cfg.Options.Assembler = json.RawMessage(`{
  "separator": null,
  "require_dense": true
}`)
	cfg.Options.Writer = json.RawMessage(`{
  "output_dir": "outputs",
  "atomic": true,
  "perm_file": 0,
  "perm_dir": 0,
  "buf_size": 0
}`)
	return cfg
}

// EnvTemplate 为 init-config 写出的 .env 样例。
const EnvTemplate = `# 由 godotenv 在启动时加载；已存在的进程环境变量优先。
GEMINI_API_KEY=
# GENTEMP_ADDR=:8501
# GENTEMP_LLM=gemini
# GENTEMP_LOG_LEVEL=info
# GENTEMP_PAUSE_MS=250
# GENTEMP_OUTPUT_DIR=outputs
# GENTEMP_PROVIDER__GEMINI__LIMITS_RPM=15
`
