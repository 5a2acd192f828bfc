package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/Mist54/GenTemplate/internal/diag"
	"github.com/Mist54/GenTemplate/internal/pipeline"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/internal/session"
	"github.com/Mist54/GenTemplate/pkg/contract"
)

// SessionCookie 为会话 id 所在的 cookie 名。
const SessionCookie = "gentemp_session"

//go:embed templates/*
var templates embed.FS

var funcs = template.FuncMap{
	"busy": func(v session.View) bool {
		return v.Busy || v.Phase == session.PhaseGenerating || v.Phase == session.PhaseRefining
	},
}

type handler struct {
	orch      *pipeline.Orchestrator
	sessions  *session.Store
	hub       *Hub
	gate      rate.Snapshoter
	gateKey   rate.LimitKey
	tmpl      *template.Template
	maxUpload int64
}

type page struct {
	View  session.View
	Label string
	Ready bool
}

// session 取 cookie 对应的会话；不存在或已过期时新建并下发 cookie。
func (h *handler) session(w http.ResponseWriter, r *http.Request) *session.State {
	var id string
	if c, err := r.Cookie(SessionCookie); err == nil {
		id = c.Value
	}
	st, created := h.sessions.GetOrCreate(id)
	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookie,
			Value:    st.ID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
		zerolog.Ctx(r.Context()).Debug().Str("session_id", st.ID).Msg("session created")
	}
	return st
}

// existing 只查找，不新建。
func (h *handler) existing(r *http.Request) (*session.State, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil, false
	}
	return h.sessions.Get(c.Value)
}

func (h *handler) Index(w http.ResponseWriter, r *http.Request) {
	st := h.session(w, r)
	if s := r.URL.Query().Get("section"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			st.Select(n)
		}
	}
	gen := h.orch.Generator()
	data := page{View: st.View(), Label: gen.Label(), Ready: gen.Ready()}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.tmpl.Execute(w, data); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("render index")
	}
}

func (h *handler) Generate(w http.ResponseWriter, r *http.Request) {
	st := h.session(w, r)
	log := zerolog.Ctx(r.Context()).With().Str("session_id", st.ID).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		st.SetNotice("error", fmt.Sprintf("Upload rejected: %v", err))
		redirect(w, r, "/")
		return
	}
	var (
		in  pipeline.Inputs
		err error
	)
	if in.CSV, err = upload(r, "csv"); err != nil {
		st.SetNotice("error", fmt.Sprintf("Failed to read uploaded CSV: %v", err))
		redirect(w, r, "/")
		return
	}
	if in.Template, err = upload(r, "template"); err != nil {
		st.SetNotice("error", fmt.Sprintf("Failed to read uploaded template: %v", err))
		redirect(w, r, "/")
		return
	}

	// 已开始的生成不随客户端断开而取消
	out, err := h.orch.Generate(context.WithoutCancel(r.Context()), st, in)
	if err != nil {
		log.Info().Err(err).Msg("generate rejected")
	} else {
		log.Info().Str("snapshot", out.Snapshot.Name).Int("sections", out.Sections).Int("degraded", out.Degraded).Msg("generate done")
	}
	redirect(w, r, "/")
}

func (h *handler) Refine(w http.ResponseWriter, r *http.Request) {
	st := h.session(w, r)
	ordinal, _ := strconv.Atoi(strings.TrimSpace(r.FormValue("section")))
	out, err := h.orch.Refine(context.WithoutCancel(r.Context()), st, ordinal, r.FormValue("instruction"))
	if err != nil {
		zerolog.Ctx(r.Context()).Info().Err(err).Str("session_id", st.ID).Int("section", ordinal).Msg("refine rejected")
	} else {
		zerolog.Ctx(r.Context()).Info().Str("session_id", st.ID).Str("snapshot", out.Snapshot.Name).Msg("refine done")
	}
	redirect(w, r, "/?section="+strconv.Itoa(ordinal))
}

func (h *handler) Chat(w http.ResponseWriter, r *http.Request) {
	st := h.session(w, r)
	if _, err := h.orch.Chat(context.WithoutCancel(r.Context()), st, r.FormValue("message")); err != nil {
		zerolog.Ctx(r.Context()).Info().Err(err).Str("session_id", st.ID).Msg("chat rejected")
	}
	redirect(w, r, "/#chat")
}

// Snapshot 下载本会话产出的快照；名称须符合快照命名规则。
func (h *handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !contract.ValidSnapshotName(name) {
		http.NotFound(w, r)
		return
	}
	st, ok := h.existing(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	snap, ok := st.FindSnapshot(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	_, _ = io.WriteString(w, snap.Text)
	diag.IncOp("web", "download", "success")
}

func (h *handler) Progress(w http.ResponseWriter, r *http.Request) {
	st, ok := h.existing(r)
	if !ok {
		http.Error(w, "no session", http.StatusBadRequest)
		return
	}
	h.hub.ServeWS(w, r, st.ID)
}

type health struct {
	Status   string          `json:"status"`
	LLMReady bool            `json:"llm_ready"`
	Label    string          `json:"label"`
	Sessions int             `json:"sessions"`
	Rate     *rate.Available `json:"rate,omitempty"`
	Metrics  diag.Metrics    `json:"metrics"`
}

func (h *handler) Healthz(w http.ResponseWriter, r *http.Request) {
	gen := h.orch.Generator()
	resp := health{
		Status:   "ok",
		LLMReady: gen.Ready(),
		Label:    gen.Label(),
		Sessions: h.sessions.Len(),
		Metrics:  diag.Snapshot(),
	}
	if !resp.LLMReady {
		resp.Status = "degraded"
	}
	if h.gate != nil {
		a := h.gate.Snapshot(h.gateKey)
		resp.Rate = &a
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("encode healthz")
	}
}

// upload 读取表单文件字段；未选择文件时返回 nil。
// 已选择但内容为空时返回非 nil 的空切片（仍视为上传）。
func upload(r *http.Request, field string) ([]byte, error) {
	if r.MultipartForm == nil {
		return nil, nil
	}
	f, hdr, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if hdr.Filename == "" {
		return nil, nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = []byte{}
	}
	return b, nil
}

func redirect(w http.ResponseWriter, r *http.Request, to string) {
	http.Redirect(w, r, to, http.StatusSeeOther)
}
