package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mist54/GenTemplate/internal/config"
	"github.com/Mist54/GenTemplate/internal/pipeline"
)

// isolate 屏蔽宿主环境中可能存在的配置与密钥。
func isolate(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"GENTEMP_CONFIG_FILE", "GENTEMP_LLM", "GENTEMP_ADDR", "GENTEMP_PROVIDER__MOCK__CLIENT",
		"GEMINI_API_KEY", "GOOGLE_API_KEY",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("GENTEMP_LOG_DIR", t.TempDir())
	t.Setenv("GENTEMP_OUTPUT_DIR", t.TempDir())
}

func runCLI(t *testing.T, ctx context.Context, args ...string) (int, string, string) {
	t.Helper()
	var out, errb bytes.Buffer
	args = append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--status=false")
	code := run(ctx, args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestInitConfigWritesLoadableTemplates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "conf")
	code, out, _ := runCLI(t, context.Background(), "init-config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "config.json")

	cfg, err := config.LoadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.NoError(t, config.Validate(config.Merge(config.Defaults(), cfg)))

	env, err := os.ReadFile(filepath.Join(dir, ".env"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "GEMINI_API_KEY=")

	// 第二次不覆盖
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{}"), 0o644))
	code, _, errOut := runCLI(t, context.Background(), "init-config", dir)
	require.Equal(t, exitOK, code)
	assert.Contains(t, errOut, "跳过")
	b, err := os.ReadFile(filepath.Join(dir, "config.json"))
	require.NoError(t, err)
	assert.Equal(t, "{}", string(b))
}

func TestInitConfigYAML(t *testing.T) {
	dir := t.TempDir()
	code, _, _ := runCLI(t, context.Background(), "init-config", dir, "--format", "yaml")
	require.Equal(t, exitOK, code)
	cfg, err := config.LoadFile(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM)
	assert.NoError(t, config.Validate(config.Merge(config.Defaults(), cfg)))

	code, _, _ = runCLI(t, context.Background(), "init-config", dir, "--format", "toml")
	assert.Equal(t, exitConfig, code)
}

func TestPingWithMock(t *testing.T) {
	isolate(t)
	t.Setenv("GENTEMP_PROVIDER__MOCK__CLIENT", "mock")
	code, out, errOut := runCLI(t, context.Background(), "ping", "--llm", "mock")
	require.Equal(t, exitOK, code, errOut)
	assert.Equal(t, "MOCK: "+pipeline.PingPrompt+"\n", out)
}

func TestPingMissingCredentialPrintsNotice(t *testing.T) {
	isolate(t)
	code, out, _ := runCLI(t, context.Background(), "ping")
	require.Equal(t, exitOK, code)
	assert.Equal(t, pipeline.CredentialMissingText+"\n", out)
}

func TestDotEnvIsLoaded(t *testing.T) {
	isolate(t)
	for _, k := range []string{"GENTEMP_LLM", "GENTEMP_PROVIDER__MOCK__CLIENT"} {
		require.NoError(t, os.Unsetenv(k))
		k := k
		t.Cleanup(func() { os.Unsetenv(k) })
	}
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("GENTEMP_LLM=mock\nGENTEMP_PROVIDER__MOCK__CLIENT=mock\n"), 0o644))

	var out, errb bytes.Buffer
	code := run(context.Background(), []string{"ping", "--env-file", envFile, "--status=false"}, &out, &errb)
	require.Equal(t, exitOK, code, errb.String())
	assert.True(t, strings.HasPrefix(out.String(), "MOCK: "))
}

func TestConfigErrorsExit3(t *testing.T) {
	isolate(t)
	code, _, errOut := runCLI(t, context.Background(), "ping", "--config", filepath.Join(t.TempDir(), "nope.json"))
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "配置解析失败")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"llm":"ghost"}`), 0o644))
	code, _, errOut = runCLI(t, context.Background(), "ping", "--config", bad)
	assert.Equal(t, exitConfig, code)
	assert.Contains(t, errOut, "配置校验失败")

	t.Setenv("GENTEMP_PAUSE_MS", "soon")
	code, _, _ = runCLI(t, context.Background(), "ping")
	assert.Equal(t, exitConfig, code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	isolate(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() {
		code, _, _ := runCLI(t, ctx, "serve", "--addr", "127.0.0.1:0")
		done <- code
	}()
	time.Sleep(200 * time.Millisecond)
	cancel()
	select {
	case code := <-done:
		assert.Equal(t, exitOK, code)
	case <-time.After(15 * time.Second):
		t.Fatal("serve 未在取消后退出")
	}
}

func TestServeAddrInUse(t *testing.T) {
	isolate(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	code, _, errOut := runCLI(t, context.Background(), "--addr", ln.Addr().String())
	assert.Equal(t, exitRuntime, code)
	assert.Contains(t, errOut, "bind")
}

func TestPreflightOutputDir(t *testing.T) {
	cfg := config.Defaults()
	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	cfg.Options.Writer = []byte(`{"output_dir":"` + filepath.ToSlash(file) + `"}`)
	assert.Error(t, preflightOutputDir(cfg))

	cfg.Options.Writer = []byte(`{"output_dir":"` + filepath.ToSlash(filepath.Join(t.TempDir(), "new")) + `"}`)
	assert.NoError(t, preflightOutputDir(cfg))

	cfg.Components.Writer = "s3"
	cfg.Options.Writer = []byte(`{"bucket":"b"}`)
	assert.NoError(t, preflightOutputDir(cfg))
}
