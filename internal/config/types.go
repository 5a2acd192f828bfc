package config

import (
	"encoding/json"
)

// Config: 运行期只读配置（启动时解析一次）。
// JSON/YAML 键使用 snake_case；未知字段在解析期失败。
type Config struct {
	Server  Server  `json:"server"`
	Inputs  Inputs  `json:"inputs"`
	Logging Logging `json:"logging"`
	// PauseMS: 段落请求之间的固定停顿（毫秒）。0 取默认 250；-1 关闭。
	PauseMS    int        `json:"pause_ms"`
	Generation Generation `json:"generation"`

	// 组件名选择（空则使用默认名）。
	Components Components `json:"components"`

	// LLM Provider 选择与定义。
	LLM      string              `json:"llm"`
	Provider map[string]Provider `json:"provider"`

	// 各组件 Options 子树，原样 JSON 传入工厂。
	Options Options `json:"options"`
}

// Server: HTTP 服务参数。
type Server struct {
	Addr            string `json:"addr"`
	ShutdownSeconds int    `json:"shutdown_seconds"`
	// SessionIdleHours: 会话空闲过期（小时）。
	SessionIdleHours int `json:"session_idle_hours"`
}

// Inputs: 未上传时使用的默认输入（相对 reader 的 base_dir）。
type Inputs struct {
	DefaultCSV      string `json:"default_csv"`
	DefaultTemplate string `json:"default_template"`
}

// Logging: 日志等级、文件目录与是否同步输出到控制台；轮转策略为固定默认。
type Logging struct {
	Level   string `json:"level"`
	Dir     string `json:"dir"`
	Console bool   `json:"console"`
}

// Generation: 首选生成参数与行内错误文本中的提供方名称。
type Generation struct {
	Temperature     *float32 `json:"temperature"`
	MaxOutputTokens int      `json:"max_output_tokens"`
	Label           string   `json:"label"`
	BytesPerToken   int      `json:"bytes_per_token"`
}

// Components: 组件名选择（注册表中的实现名）。
type Components struct {
	Reader        string `json:"reader"`
	Decoder       string `json:"decoder"`
	Splitter      string `json:"splitter"`
	PromptBuilder string `json:"prompt_builder"`
	Assembler     string `json:"assembler"`
	Writer        string `json:"writer"`
}

// Options: 各组件的原样 JSON Options。
type Options struct {
	Reader        json.RawMessage `json:"reader"`
	Decoder       json.RawMessage `json:"decoder"`
	Splitter      json.RawMessage `json:"splitter"`
	PromptBuilder json.RawMessage `json:"prompt_builder"`
	Assembler     json.RawMessage `json:"assembler"`
	Writer        json.RawMessage `json:"writer"`
}

// Provider: 命名 provider 定义（client 实现 + options + 限额）。
type Provider struct {
	Client  string          `json:"client"`
	Options json.RawMessage `json:"options"`
	Limits  Limits          `json:"limits"`
}

// Limits: 限流配置（仅承载；执行位于 rate.Gate）。
type Limits struct {
	RPM             int `json:"rpm"`
	TPM             int `json:"tpm"`
	MaxTokensPerReq int `json:"max_tokens_per_req"`
}
