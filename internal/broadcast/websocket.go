package broadcast

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Observers only listen; anything they send is read and discarded.
	maxMessageSize = 4096
	closeWait      = time.Second
	registerWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The UI is served from a different port than the push listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsObserver adapts a websocket connection to the Observer interface.
type wsObserver struct {
	id     string
	remote string
	conn   *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func newWSObserver(conn *websocket.Conn, remote string) *wsObserver {
	return &wsObserver{
		id:     uuid.NewString(),
		remote: remote,
		conn:   conn,
		closed: make(chan struct{}),
	}
}

func (o *wsObserver) ID() string { return o.id }

func (o *wsObserver) Send(ctx context.Context, payload []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultSendTimeout)
	}
	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := o.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return o.conn.WriteMessage(websocket.TextMessage, payload)
}

func (o *wsObserver) Close() error {
	var err error
	o.closeOnce.Do(func() {
		close(o.closed)
		_ = o.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWait),
		)
		err = o.conn.Close()
	})
	return err
}

// ServeWS upgrades the request and registers the connection as an observer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	o := newWSObserver(conn, r.RemoteAddr)

	ctx, cancel := context.WithTimeout(context.Background(), registerWait)
	defer cancel()
	if err := h.Register(ctx, o); err != nil {
		h.logger.Warn("websocket observer rejected", zap.String("remote", o.remote), zap.Error(err))
		_ = o.Close()
		return
	}
	h.logger.Debug("websocket connected", zap.String("observer", o.id), zap.String("remote", o.remote))

	go h.readPump(o)
	go pingPump(o)
}

// readPump drains inbound frames so control messages are processed, and
// unregisters the observer once the peer goes away.
func (h *Hub) readPump(o *wsObserver) {
	defer h.Unregister(o.id)

	o.conn.SetReadLimit(maxMessageSize)
	_ = o.conn.SetReadDeadline(time.Now().Add(pongWait))
	o.conn.SetPongHandler(func(string) error {
		return o.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := o.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read error", zap.String("observer", o.id), zap.Error(err))
			}
			return
		}
	}
}

func pingPump(o *wsObserver) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-o.closed:
			return
		case <-ticker.C:
			if err := o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(closeWait)); err != nil {
				return
			}
		}
	}
}
