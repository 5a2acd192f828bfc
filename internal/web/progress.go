package web

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Mist54/GenTemplate/internal/diag"
	"github.com/Mist54/GenTemplate/internal/pipeline"
)

const (
	subBuffer    = 32
	writeTimeout = 5 * time.Second
	pingEvery    = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub 按会话把进度事件扇出到已连接的 websocket。
// Publish 从不阻塞：订阅者缓冲已满时丢弃该事件。
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*subscriber]struct{}
	closed chan struct{}
	once   sync.Once
}

type subscriber struct {
	ch chan pipeline.Event
}

var _ pipeline.Progress = (*Hub)(nil)

// NewHub 创建空的 Hub。
func NewHub() *Hub {
	return &Hub{subs: map[string]map[*subscriber]struct{}{}, closed: make(chan struct{})}
}

// Publish 实现 pipeline.Progress。
func (h *Hub) Publish(e pipeline.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[e.Session] {
		select {
		case s.ch <- e:
		default:
			diag.IncOp("web", "progress", "dropped")
		}
	}
}

// Subscribers 返回某会话当前的连接数。
func (h *Hub) Subscribers(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Close 断开所有连接；之后的 ServeWS 立即返回。
func (h *Hub) Close() {
	h.once.Do(func() { close(h.closed) })
}

func (h *Hub) subscribe(id string) *subscriber {
	s := &subscriber{ch: make(chan pipeline.Event, subBuffer)}
	h.mu.Lock()
	if h.subs[id] == nil {
		h.subs[id] = map[*subscriber]struct{}{}
	}
	h.subs[id][s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) unsubscribe(id string, s *subscriber) {
	h.mu.Lock()
	delete(h.subs[id], s)
	if len(h.subs[id]) == 0 {
		delete(h.subs, id)
	}
	h.mu.Unlock()
}

// ServeWS 升级连接并推送 sessionID 的进度事件（JSON），直到对端关闭或 Hub 关闭。
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, sessionID string) {
	log := zerolog.Ctx(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	sub := h.subscribe(sessionID)
	defer h.unsubscribe(sessionID, sub)

	// 读循环只用于感知对端关闭
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	defer func() {
		conn.Close()
		<-gone
	}()

	ping := time.NewTicker(pingEvery)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-h.closed:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeTimeout))
			return
		case e := <-sub.ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(e); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
