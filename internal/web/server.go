package web

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/Mist54/GenTemplate/internal/pipeline"
	"github.com/Mist54/GenTemplate/internal/rate"
	"github.com/Mist54/GenTemplate/internal/session"
)

// DefaultMaxUpload 为单次 /generate 的请求体上限。
const DefaultMaxUpload = 32 << 20

type WebAPI struct {
	router *chi.Mux
	logger *zerolog.Logger
	server *http.Server
	hub    *Hub
	cfg    Config
}

type Dependencies struct {
	Orchestrator *pipeline.Orchestrator
	Sessions     *session.Store
	Hub          *Hub
	// Gate/GateKey 可选，仅用于 /healthz 展示剩余配额。
	Gate    rate.Snapshoter
	GateKey rate.LimitKey
	Logger  zerolog.Logger
}

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxUpload       int64
	Dependencies    Dependencies
}

// ConfigureRouter 装配路由与中间件。
func ConfigureRouter(config Config) *chi.Mux {
	deps := config.Dependencies
	if deps.Hub == nil {
		deps.Hub = NewHub()
	}
	maxUpload := config.MaxUpload
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUpload
	}
	h := &handler{
		orch:      deps.Orchestrator,
		sessions:  deps.Sessions,
		hub:       deps.Hub,
		gate:      deps.Gate,
		gateKey:   deps.GateKey,
		tmpl:      template.Must(template.New("index.html").Funcs(funcs).ParseFS(templates, "templates/index.html")),
		maxUpload: maxUpload,
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(Logger(&deps.Logger))
	router.Use(middleware.Recoverer)

	router.Get("/", h.Index)
	router.Post("/generate", h.Generate)
	router.Post("/refine", h.Refine)
	router.Post("/chat", h.Chat)
	router.Get("/snapshots/{name}", h.Snapshot)
	router.Get("/ws/progress", h.Progress)
	router.Get("/healthz", h.Healthz)
	return router
}

func NewWebAPI(logger zerolog.Logger, config Config) *WebAPI {
	if config.Dependencies.Hub == nil {
		config.Dependencies.Hub = NewHub()
	}
	config.Dependencies.Logger = logger
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	router := ConfigureRouter(config)
	return &WebAPI{
		router: router,
		logger: &logger,
		hub:    config.Dependencies.Hub,
		cfg:    config,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler 返回根路由。
func (w *WebAPI) Handler() http.Handler { return w.router }

// Start 监听直到 ctx 取消，然后在 ShutdownTimeout 内优雅关闭。
func (w *WebAPI) Start(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		w.logger.Info().Str("addr", w.server.Addr).Msg("starting server")
		serverErrors <- w.server.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		w.hub.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		w.logger.Info().Msg("shutdown initiated")
		// websocket 已被劫持，Shutdown 不会等待它们
		w.hub.Close()

		sctx, cancel := context.WithTimeout(context.Background(), w.cfg.ShutdownTimeout)
		defer cancel()

		err := w.server.Shutdown(sctx)
		if err != nil {
			w.logger.Error().Err(err).Msg("graceful shutdown failed")
			err = w.server.Close()
		}
		<-serverErrors
		return err
	}
}
