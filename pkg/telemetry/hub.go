package telemetry

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/picogrid/legion-missions/pkg/logger"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
)

// Hub streams multiplexed snapshots to websocket clients. Clients get the
// current snapshot of every drone on connect, then every accepted update.
// Adding ?format=msgpack to the URL switches to binary msgpack frames.
type Hub struct {
	mux      *Multiplexer
	upgrader websocket.Upgrader
	log      logger.Logger

	clients   atomic.Int64
	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates a hub serving snapshots from mux
func NewHub(mux *Multiplexer) *Hub {
	return &Hub{
		mux: mux,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		log:  logger.Default().WithPrefix("ws"),
		done: make(chan struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int { return int(h.clients.Load()) }

// Close disconnects every client
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	binary := r.URL.Query().Get("format") == "msgpack"

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	h.clients.Add(1)
	defer h.clients.Add(-1)
	h.log.Debugf("Client %s connected (msgpack=%v)", r.RemoteAddr, binary)

	updates, unsubscribe := h.mux.Subscribe()
	defer unsubscribe()

	// Reads only detect disconnects; clients have nothing to say.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for _, s := range h.mux.All() {
		if err := writeSnapshot(conn, binary, s); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-h.done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(writeWait))
			return
		case <-gone:
			h.log.Debugf("Client %s disconnected", r.RemoteAddr)
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case s, ok := <-updates:
			if !ok {
				return
			}
			if err := writeSnapshot(conn, binary, s); err != nil {
				h.log.Debugf("Write to %s failed: %v", r.RemoteAddr, err)
				return
			}
		}
	}
}

// EncodeFrame serializes a snapshot as a websocket frame
func EncodeFrame(binary bool, s Snapshot) (int, []byte, error) {
	if binary {
		b, err := msgpack.Marshal(&s)
		return websocket.BinaryMessage, b, err
	}
	b, err := json.Marshal(s)
	return websocket.TextMessage, b, err
}

func writeSnapshot(conn *websocket.Conn, binary bool, s Snapshot) error {
	kind, b, err := EncodeFrame(binary, s)
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(kind, b)
}
