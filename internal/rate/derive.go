package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// 离线客户端共享的固定分组凭据。
const offlineKey = "OFFLINE_DEBUG_KEY"

// DeriveKeyFromProviderOptions 从客户端标识与其原样 Options JSON 中解析凭据，
// 返回 client:sha256(key) 形式的分组键。同一凭据的多个 provider 共享配额。
// 解析顺序：api_key → api_key_env 指向的环境变量 → 客户端默认环境变量。
func DeriveKeyFromProviderOptions(client string, raw json.RawMessage) (LimitKey, error) {
	var obj struct {
		APIKey    string `json:"api_key"`
		APIKeyEnv string `json:"api_key_env"`
	}
	if len(raw) > 0 {
		// 其余字段由客户端工厂严格校验，这里只挑凭据
		_ = json.Unmarshal(raw, &obj)
	}

	key := strings.TrimSpace(obj.APIKey)
	if key == "" && obj.APIKeyEnv != "" {
		key = strings.TrimSpace(os.Getenv(obj.APIKeyEnv))
	}
	if key == "" {
		switch client {
		case "gemini":
			key = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		case "openai":
			key = firstEnv("OPENAI_API_KEY")
		case "mock", "flaky":
			key = offlineKey
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for client %s", client)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", client, sum[:8])), nil
}

func firstEnv(names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(os.Getenv(n)); v != "" {
			return v
		}
	}
	return ""
}
