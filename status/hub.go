package status

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 5 * time.Second

// Hub pushes every published snapshot to connected websocket clients and
// serves the latest one over plain HTTP.
type Hub struct {
	lock    sync.Mutex
	clients map[*websocket.Conn]bool
	last    []byte
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

func (h *Hub) Publish(_ context.Context, s Snapshot) error {
	msg, err := json.Marshal(s)
	if err != nil {
		return err
	}

	h.lock.Lock()
	defer h.lock.Unlock()
	h.last = msg
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			client.Close()
			delete(h.clients, client)
		}
	}
	return nil
}

func (h *Hub) Clients() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.clients)
}

func (h *Hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Errorf("status: websocket upgrade: %v", err)
		return
	}

	h.lock.Lock()
	h.clients[conn] = true
	if h.last != nil {
		_ = conn.WriteMessage(websocket.TextMessage, h.last)
	}
	h.lock.Unlock()

	// Drain client frames so close messages are noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				h.lock.Lock()
				delete(h.clients, conn)
				h.lock.Unlock()
				conn.Close()
				return
			}
		}
	}()
}

func (h *Hub) serveStatus(w http.ResponseWriter, _ *http.Request) {
	h.lock.Lock()
	last := h.last
	h.lock.Unlock()

	if last == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(last)
}

func (h *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", h.serveWS)
	mux.HandleFunc("/status", h.serveStatus)
	return mux
}

// Serve runs the dashboard endpoint until ctx is cancelled.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: h.Handler(), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logs.Infof("status server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
