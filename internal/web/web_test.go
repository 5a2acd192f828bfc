package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/Mist54/GenTemplate/internal/config"
	"github.com/Mist54/GenTemplate/internal/pipeline"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/internal/session"
)

func TestMain(m *testing.M) { goleak.VerifyTestMain(m) }

const (
	defaultCSV      = "Month,Revenue\nJan,100\nFeb,200\n"
	defaultTemplate = "SECTION 1 Revenue was {total revenue}.\n\nSECTION 2 Growth: {growth}.\n"
)

var snapshotLink = regexp.MustCompile(`/snapshots/(report[a-z_]*_\d{8}T\d{6}Z(?:_\d+)?\.txt)`)

type testEnv struct {
	srv    *httptest.Server
	router http.Handler
	client *http.Client
	hub    *Hub
	store  *session.Store
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "src", "Monthly_Operations_Data.csv"), []byte(defaultCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "src", "ReportTemplate.txt"), []byte(defaultTemplate), 0o644))

	cfg := config.Defaults()
	cfg.LLM = "mock"
	cfg.Provider = map[string]config.Provider{"mock": {Client: "mock"}}
	cfg.PauseMS = -1
	cfg.Options.Reader = rawJSON(t, map[string]string{"base_dir": base})
	cfg.Options.Writer = rawJSON(t, map[string]string{"output_dir": t.TempDir()})

	comp, set, err := config.Assemble(cfg)
	require.NoError(t, err)
	hub := NewHub()
	orch, err := pipeline.New(comp, set, nil, hub)
	require.NoError(t, err)
	store := session.NewStore(time.Hour, nil)

	gate, _ := set.Gate.(rate.Snapshoter)
	router := ConfigureRouter(Config{Dependencies: Dependencies{
		Orchestrator: orch,
		Sessions:     store,
		Hub:          hub,
		Gate:         gate,
		GateKey:      set.GateKey,
		Logger:       zerolog.New(zerolog.NewTestWriter(t)),
	}})
	srv := httptest.NewServer(router)
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	tr := &http.Transport{}
	env := &testEnv{srv: srv, router: router, client: &http.Client{Jar: jar, Transport: tr}, hub: hub, store: store}
	t.Cleanup(func() {
		hub.Close()
		tr.CloseIdleConnections()
		srv.Close()
	})
	return env
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func (e *testEnv) postForm(t *testing.T, path string, form url.Values) string {
	t.Helper()
	resp, err := e.client.PostForm(e.srv.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// generate 以 multipart 提交；files 的键为表单字段名。
func (e *testEnv) generate(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, body := range files {
		fw, err := mw.CreateFormFile(field, field+".txt")
		require.NoError(t, err)
		_, err = io.WriteString(fw, body)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	resp, err := e.client.Post(e.srv.URL+"/generate", mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func (e *testEnv) sessionID(t *testing.T) string {
	t.Helper()
	u, err := url.Parse(e.srv.URL)
	require.NoError(t, err)
	for _, c := range e.client.Jar.Cookies(u) {
		if c.Name == SessionCookie {
			return c.Value
		}
	}
	t.Fatal("session cookie missing")
	return ""
}

func TestIndexSetsSessionCookie(t *testing.T) {
	env := newEnv(t)
	resp, body := env.get(t, "/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Generate Report")
	id := env.sessionID(t)
	_, ok := env.store.Get(id)
	assert.True(t, ok)

	// 同一 cookie 复用会话
	env.get(t, "/")
	assert.Equal(t, 1, env.store.Len())
}

func TestGenerateWithDefaultsAndDownload(t *testing.T) {
	env := newEnv(t)
	body := env.generate(t, nil)
	assert.Contains(t, body, "Report generated successfully! (AI handled all calculations)")
	assert.Contains(t, body, "Revenue was [MOCK:total revenue].")
	assert.Contains(t, body, "Section 2")

	m := snapshotLink.FindStringSubmatch(body)
	require.NotNil(t, m, "页面应包含快照下载链接")
	resp, text := env.get(t, "/snapshots/"+m[1])
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")
	assert.Equal(t, "SECTION 1 Revenue was [MOCK:total revenue].\n\nSECTION 2 Growth: [MOCK:growth].", text)
}

func TestGenerateUploadWins(t *testing.T) {
	env := newEnv(t)
	body := env.generate(t, map[string]string{
		"csv":      "a,b\n1,2\n",
		"template": "SECTION A {uploaded}\n",
	})
	assert.Contains(t, body, "SECTION A [MOCK:uploaded]")
	assert.NotContains(t, body, "total revenue")
}

func TestGenerateTemplateWithoutSections(t *testing.T) {
	env := newEnv(t)
	body := env.generate(t, map[string]string{"template": "   \n\t"})
	assert.Contains(t, body, "No sections found in template.")
	assert.NotContains(t, body, "Generated Report")
}

// 浏览器中途断开不影响已开始的生成。
func TestGenerateSurvivesClientDisconnect(t *testing.T) {
	env := newEnv(t)
	st := env.store.Create()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/generate", nil).WithContext(ctx)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: st.ID})
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, session.PhaseReady, st.Phase())
	assert.Equal(t, "SECTION 1 Revenue was [MOCK:total revenue].\n\nSECTION 2 Growth: [MOCK:growth].", st.Report())
}

func TestRefineFlow(t *testing.T) {
	env := newEnv(t)
	body := env.postForm(t, "/refine", url.Values{"section": {"1"}, "instruction": {"shorter"}})
	assert.Contains(t, body, "Generate a report before refining a section.")

	env.generate(t, nil)
	body = env.postForm(t, "/refine", url.Values{"section": {"2"}, "instruction": {""}})
	assert.Contains(t, body, "Enter a refinement instruction first.")

	body = env.postForm(t, "/refine", url.Values{"section": {"2"}, "instruction": {"shorter"}})
	assert.Contains(t, body, "Section 2 updated successfully!")
	assert.Contains(t, body, "[MOCK: shorter]")
	assert.Regexp(t, `/snapshots/report_updated_\d{8}T\d{6}Z`, body)

	body = env.postForm(t, "/refine", url.Values{"section": {"9"}, "instruction": {"x"}})
	assert.Contains(t, body, "Section 9 does not exist.")
}

func TestChat(t *testing.T) {
	env := newEnv(t)
	body := env.postForm(t, "/chat", url.Values{"message": {"what is revenue"}})
	assert.Contains(t, body, "<strong>user:</strong> what is revenue")
	assert.Contains(t, body, "<strong>assistant:</strong> MOCK:")

	body = env.postForm(t, "/chat", url.Values{"message": {"  "}})
	assert.Contains(t, body, "Type a question first.")
}

func TestSnapshotDownloadIsScopedToSession(t *testing.T) {
	env := newEnv(t)
	body := env.generate(t, nil)
	m := snapshotLink.FindStringSubmatch(body)
	require.NotNil(t, m)

	for _, p := range []string{
		"/snapshots/..%2F..%2Fgo.mod",
		"/snapshots/report_20250101T000000Z.txt",
		"/snapshots/notes.txt",
	} {
		resp, _ := env.get(t, p)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, p)
	}

	// 其他浏览器会话不可下载
	resp, err := http.Get(env.srv.URL + "/snapshots/" + m[1])
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()
}

func TestHealthz(t *testing.T) {
	env := newEnv(t)
	resp, body := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var h struct {
		Status   string          `json:"status"`
		LLMReady bool            `json:"llm_ready"`
		Label    string          `json:"label"`
		Rate     *rate.Available `json:"rate"`
		Metrics  map[string]any  `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &h))
	assert.Equal(t, "ok", h.Status)
	assert.True(t, h.LLMReady)
	assert.Equal(t, "Mock", h.Label)
	require.NotNil(t, h.Rate)
	assert.Equal(t, -1, h.Rate.Requests)
	assert.Contains(t, h.Metrics, "ops")
}

func dialProgress(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()
	env.get(t, "/")
	u, err := url.Parse(env.srv.URL)
	require.NoError(t, err)
	hdr := http.Header{}
	for _, c := range env.client.Jar.Cookies(u) {
		hdr.Add("Cookie", c.String())
	}
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws/progress"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, hdr)
	require.NoError(t, err)
	resp.Body.Close()
	return conn
}

func TestProgressWebsocket(t *testing.T) {
	env := newEnv(t)
	conn := dialProgress(t, env)
	id := env.sessionID(t)
	require.Eventually(t, func() bool { return env.hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	env.hub.Publish(pipeline.Event{Session: "someone-else", Kind: pipeline.EventSection, Text: "x"})
	want := pipeline.Event{Session: id, Kind: pipeline.EventSection, Done: 1, Total: 2, Text: "Processing section 1/2..."}
	env.hub.Publish(want)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got pipeline.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, want, got)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.Subscribers(id) == 0 }, time.Second, 5*time.Millisecond)
}

func TestProgressNeedsSession(t *testing.T) {
	env := newEnv(t)
	resp, err := http.Get(env.srv.URL + "/ws/progress")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	http.DefaultClient.CloseIdleConnections()
}

func TestHubCloseEndsConnections(t *testing.T) {
	env := newEnv(t)
	conn := dialProgress(t, env)
	defer conn.Close()
	id := env.sessionID(t)
	require.Eventually(t, func() bool { return env.hub.Subscribers(id) == 1 }, time.Second, 5*time.Millisecond)

	env.hub.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}

func TestPublishDropsWhenFull(t *testing.T) {
	h := NewHub()
	s := h.subscribe("s")
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subBuffer*3; i++ {
			h.Publish(pipeline.Event{Session: "s", Kind: pipeline.EventSection, Done: i})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish 阻塞")
	}
	assert.Len(t, s.ch, subBuffer)
	h.unsubscribe("s", s)
	assert.Equal(t, 0, h.Subscribers("s"))
}
