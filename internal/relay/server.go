package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"skillrelay/internal/config"
	"skillrelay/internal/logger"
	"skillrelay/internal/wsconn"
)

// Server 通过 HTTP 暴露 Hub
type Server struct {
	hub      *Hub
	cfg      config.Relay
	upgrader websocket.Upgrader
	log      *zap.SugaredLogger
}

func NewServer(hub *Hub, cfg config.Relay) *Server {
	s := &Server{hub: hub, cfg: cfg, log: logger.Named("http")}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return cfg.OriginAllowed(r.Header.Get("Origin"))
		},
	}
	return s
}

// Router 注册全部中继接口
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.HandleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.HandleMetrics).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(s.requireAdmin)
	admin.HandleFunc("/rooms", s.HandleRooms).Methods(http.MethodGet)
	admin.HandleFunc("/announce", s.HandleAnnounce).Methods(http.MethodPost)
	return r
}

// HandleWS WebSocket 接入：升级连接，在 socket 与 hub 之间转发帧直到任一方关闭
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn := wsconn.New(ws, wsconn.Options{
		QueueSize: s.cfg.SendQueueSize,
		ReadLimit: s.cfg.ReadLimitBytes,
		WriteWait: s.cfg.WriteWait,
		PongWait:  s.cfg.PongWait,
	})
	c := s.hub.Open(conn)
	go conn.WritePump()

	err = conn.ReadPump(func(b []byte) { s.hub.Frame(c, b) })
	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
		s.log.Debugw("socket error", "id", c.ID, "err", err)
	}
	s.hub.Close(c)
}

// HandleMetrics 输出中继运行指标
// GET /metrics
func (s *Server) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.hub.Metrics().Snapshot())
}

// HandleRooms 列出房间与成员
// GET /admin/rooms
func (s *Server) HandleRooms(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	rooms, err := s.hub.Rooms(ctx)
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": rooms})
}

// HandleAnnounce 向一个房间或全部连接广播 server_message
// POST /admin/announce {"room":"main","text":"..."}
func (s *Server) HandleAnnounce(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Room string `json:"room"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<10)).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if body.Text == "" {
		http.Error(w, "text required", http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	n, err := s.hub.Announce(ctx, body.Room, body.Text)
	if err != nil {
		http.Error(w, "hub unavailable", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "delivered": n})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AdminToken != "" {
			got := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.AdminToken)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
