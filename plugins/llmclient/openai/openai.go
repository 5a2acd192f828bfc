package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: 最小必需配置（OpenAI 兼容 chat/completions）。
type Options struct {
	BaseURL        string `json:"base_url"`        // 例如 https://api.openai.com/v1
	Model          string `json:"model"`           // 为空则使用默认
	APIKeyEnv      string `json:"api_key_env"`     // 优先从环境变量读取
	APIKey         string `json:"api_key"`         // 明文传入（不推荐，按需用于测试）
	TimeoutSeconds int    `json:"timeout_seconds"` // 可选 client 级超时（秒）
	// 第三方兼容（最小）：
	EndpointPath       string            `json:"endpoint_path"`        // 覆盖默认 /chat/completions；可为完整 URL（以 http 开头）
	DisableDefaultAuth bool              `json:"disable_default_auth"` // 关闭默认 Authorization: Bearer 注入
	ExtraHeaders       map[string]string `json:"extra_headers"`        // 追加/覆盖请求头（Azure/OpenRouter 等）
	// MaxTokensField: 上限字段名，默认 max_tokens；部分新模型只接受 max_completion_tokens。
	MaxTokensField string `json:"max_tokens_field"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
	if o.MaxTokensField == "" {
		o.MaxTokensField = "max_tokens"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

type Client struct {
	url         string
	apiKey      string
	model       string
	maxField    string
	extraH      map[string]string
	disableAuth bool
	do          func(*http.Request) (*http.Response, error)
}

// New 从原样 JSON 选项构造客户端。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := opts.APIKey
	if key == "" && opts.APIKeyEnv != "" {
		key = os.Getenv(opts.APIKeyEnv)
	}
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: set %s", contract.ErrCredentialMissing, opts.APIKeyEnv)
	}
	if opts.MaxTokensField != "max_tokens" && opts.MaxTokensField != "max_completion_tokens" {
		return nil, fmt.Errorf("openai: %w: max_tokens_field %q", contract.ErrInvalidInput, opts.MaxTokensField)
	}
	hc := &http.Client{Timeout: time.Duration(opts.TimeoutSeconds) * time.Second}
	// 允许 endpoint_path 为完整 URL
	fullURL := opts.EndpointPath
	if !(strings.HasPrefix(fullURL, "http://") || strings.HasPrefix(fullURL, "https://")) {
		base := strings.TrimRight(opts.BaseURL, "/")
		path := strings.TrimLeft(opts.EndpointPath, "/")
		fullURL = base + "/" + path
	}
	return &Client{
		url:         fullURL,
		apiKey:      key,
		model:       opts.Model,
		maxField:    opts.MaxTokensField,
		extraH:      opts.ExtraHeaders,
		disableAuth: opts.DisableDefaultAuth,
		do:          hc.Do,
	}, nil
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type oaErrBody struct {
	Error struct {
		Message string  `json:"message"`
		Type    string  `json:"type"`
		Param   *string `json:"param"`
		Code    *string `json:"code"`
	} `json:"error"`
}

// upstreamError 实现 net.Error，用于将 HTTP 上游 5xx/408 映射为网络类错误，便于分类。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("openai upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodeBody 构造请求体；参数仅在非零时出现，零值即最小调用。
func (c *Client) encodeBody(p contract.Prompt, o contract.GenOptions) ([]byte, error) {
	var msgs []oaMessage
	switch v := p.(type) {
	case contract.TextPrompt:
		msgs = []oaMessage{{Role: "user", Content: string(v)}}
	case contract.ChatPrompt:
		msgs = make([]oaMessage, 0, len(v))
		for _, m := range v {
			msgs = append(msgs, oaMessage{Role: m.Role, Content: m.Content})
		}
	default:
		return nil, contract.ErrInvalidInput
	}
	body := map[string]any{"model": c.model, "messages": msgs}
	if o.Temperature != nil {
		body["temperature"] = *o.Temperature
	}
	if o.MaxOutputTokens > 0 {
		body[c.maxField] = o.MaxOutputTokens
	}
	return json.Marshal(body)
}

// Invoke: 单次调用，同步返回。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt, o contract.GenOptions) (contract.Raw, error) {
	body, err := c.encodeBody(p, o)
	if err != nil {
		if errors.Is(err, contract.ErrInvalidInput) {
			return contract.Raw{}, err
		}
		return contract.Raw{}, fmt.Errorf("encode: %v: %w", err, contract.ErrInvalidInput)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return contract.Raw{}, fmt.Errorf("new request: %v: %w", err, contract.ErrInvalidInput)
	}
	if !c.disableAuth {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range c.extraH {
		if k == "" {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := c.do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return contract.Raw{}, contract.ErrRateLimited
	}
	if resp.StatusCode/100 != 2 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return contract.Raw{}, classifyStatus(resp.StatusCode, slurp)
	}
	var or oaResp
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return contract.Raw{}, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}
	if len(or.Choices) == 0 || strings.TrimSpace(or.Choices[0].Message.Content) == "" {
		return contract.Raw{}, contract.ErrResponseInvalid
	}
	return contract.Raw{Text: or.Choices[0].Message.Content}, nil
}

// classifyStatus: 4xx 视为输入/配置无效（参数被拒单列）；5xx/408 视为上游网络问题。
func classifyStatus(status int, slurp []byte) error {
	msg := strings.TrimSpace(string(slurp))
	if status == http.StatusRequestTimeout || status/100 == 5 {
		return upstreamError{status: status, msg: msg}
	}
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return fmt.Errorf("openai upstream %d: %w", status, contract.ErrCredentialMissing)
	}
	var eb oaErrBody
	if status == http.StatusBadRequest && json.Unmarshal(slurp, &eb) == nil {
		code := ""
		if eb.Error.Code != nil {
			code = *eb.Error.Code
		}
		param := ""
		if eb.Error.Param != nil {
			param = *eb.Error.Param
		}
		if code == "unsupported_parameter" || code == "unsupported_value" ||
			param == "temperature" || param == "max_tokens" || param == "max_completion_tokens" {
			return fmt.Errorf("openai upstream 400: %s: %w", eb.Error.Message, contract.ErrUnsupportedOption)
		}
	}
	return fmt.Errorf("openai upstream %d: %s: %w", status, msg, contract.ErrInvalidInput)
}
