package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/Mist54/GenTemplate/pkg/contract"
)

// Options: Gemini（Google GenAI SDK）最小必需。
type Options struct {
	Model     string `json:"model"`       // 默认 gemini-2.5-flash
	APIKeyEnv string `json:"api_key_env"` // 默认 GEMINI_API_KEY，其次 GOOGLE_API_KEY
	APIKey    string `json:"api_key"`
	// 第三方兼容/测试：覆盖服务地址与版本
	BaseURL    string `json:"base_url"`
	APIVersion string `json:"api_version"`
	// 客户端超时（秒）。未设置或 <=0 时采用默认 60 秒。
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers"`
}

func (o *Options) defaults() {
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GEMINI_API_KEY"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 60
	}
}

// Client 以 genai SDK 调用 generateContent。
type Client struct {
	models *genai.Models
	model  string
}

// New 创建 Gemini 客户端；缺少密钥时返回包裹 contract.ErrCredentialMissing 的错误。
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, err
		}
	}
	opts.defaults()
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(opts.APIKeyEnv))
	}
	if key == "" {
		key = strings.TrimSpace(os.Getenv("GOOGLE_API_KEY"))
	}
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: set %s", contract.ErrCredentialMissing, opts.APIKeyEnv)
	}
	timeout := time.Duration(opts.TimeoutSeconds) * time.Second
	hopts := genai.HTTPOptions{BaseURL: opts.BaseURL, APIVersion: opts.APIVersion}
	if len(opts.ExtraHeaders) > 0 {
		hopts.Headers = make(http.Header, len(opts.ExtraHeaders))
		for k, v := range opts.ExtraHeaders {
			if k != "" {
				hopts.Headers.Set(k, v)
			}
		}
	}
	c, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  &http.Client{Timeout: timeout},
		HTTPOptions: hopts,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: new client: %w", err)
	}
	return &Client{models: c.Models, model: opts.Model}, nil
}

// upstreamError 实现 net.Error，用于将上游 5xx/408 映射为网络类错误。
type upstreamError struct {
	status int
	msg    string
}

func (e upstreamError) Error() string           { return fmt.Sprintf("gemini upstream %d: %s", e.status, e.msg) }
func (e upstreamError) Timeout() bool           { return e.status == http.StatusRequestTimeout }
func (e upstreamError) Temporary() bool         { return e.status/100 == 5 }
func (e upstreamError) UpstreamStatus() int     { return e.status }
func (e upstreamError) UpstreamMessage() string { return e.msg }

// encodePrompt 将 Prompt 映射为 genai 内容；system 消息并入 SystemInstruction。
func encodePrompt(p contract.Prompt) ([]*genai.Content, *genai.Content, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return []*genai.Content{genai.NewContentFromText(string(v), genai.RoleUser)}, nil, nil
	case contract.ChatPrompt:
		var sys []string
		contents := make([]*genai.Content, 0, len(v))
		for _, m := range v {
			role := normalizeGeminiRole(m.Role)
			if role == "system" {
				sys = append(sys, m.Content)
				continue
			}
			contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
		}
		if len(contents) == 0 {
			return nil, nil, contract.ErrInvalidInput
		}
		var si *genai.Content
		if len(sys) > 0 {
			si = genai.NewContentFromText(strings.Join(sys, "\n\n"), genai.RoleUser)
		}
		return contents, si, nil
	default:
		return nil, nil, contract.ErrInvalidInput
	}
}

// normalizeGeminiRole 将通用 Chat 角色映射为 Gemini 支持的集合：user|model（system 单独处理）。
func normalizeGeminiRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "model", "assistant":
		return genai.RoleModel
	case "system":
		return "system"
	default:
		return genai.RoleUser
	}
}

// Invoke 单次调用。GenOptions 为零值时不发送 generationConfig（最小调用）。
func (c *Client) Invoke(ctx context.Context, p contract.Prompt, o contract.GenOptions) (contract.Raw, error) {
	contents, si, err := encodePrompt(p)
	if err != nil {
		return contract.Raw{}, fmt.Errorf("gemini encode: %w", err)
	}
	var cfg *genai.GenerateContentConfig
	if si != nil || !o.IsZero() {
		cfg = &genai.GenerateContentConfig{SystemInstruction: si}
		if o.Temperature != nil {
			cfg.Temperature = genai.Ptr(*o.Temperature)
		}
		if o.MaxOutputTokens > 0 {
			cfg.MaxOutputTokens = int32(o.MaxOutputTokens)
		}
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return contract.Raw{}, ctx.Err()
		}
		return contract.Raw{}, classify(err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return contract.Raw{}, fmt.Errorf("gemini: empty candidate: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: text}, nil
}

// classify 将 SDK 错误归入契约哨兵。
func classify(err error) error {
	var ae genai.APIError
	if !errors.As(err, &ae) {
		return err
	}
	msg := strings.TrimSpace(ae.Message)
	switch {
	case ae.Code == http.StatusTooManyRequests:
		return fmt.Errorf("gemini upstream 429: %s: %w", msg, contract.ErrRateLimited)
	case ae.Code == http.StatusRequestTimeout || ae.Code/100 == 5:
		return upstreamError{status: ae.Code, msg: msg}
	case ae.Code == http.StatusUnauthorized || ae.Code == http.StatusForbidden || isKeyInvalid(ae):
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, msg, contract.ErrCredentialMissing)
	case ae.Code == http.StatusBadRequest && isOptionRejected(msg):
		return fmt.Errorf("gemini upstream 400: %s: %w", msg, contract.ErrUnsupportedOption)
	default:
		return fmt.Errorf("gemini upstream %d: %s: %w", ae.Code, msg, contract.ErrInvalidInput)
	}
}

func isKeyInvalid(ae genai.APIError) bool {
	if strings.Contains(ae.Message, "API key not valid") {
		return true
	}
	for _, d := range ae.Details {
		if r, _ := d["reason"].(string); r == "API_KEY_INVALID" {
			return true
		}
	}
	return false
}

// isOptionRejected: 服务端对 generationConfig 字段的结构性拒绝。
func isOptionRejected(msg string) bool {
	m := strings.ToLower(msg)
	if strings.Contains(m, "unknown name") {
		return true
	}
	if !strings.Contains(m, "generation_config") && !strings.Contains(m, "generationconfig") {
		return false
	}
	for _, f := range []string{"temperature", "max_output_tokens", "maxoutputtokens"} {
		if strings.Contains(m, f) {
			return true
		}
	}
	return strings.Contains(m, "not supported") || strings.Contains(m, "unsupported")
}
