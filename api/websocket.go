package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nmoshub/queryd/grain"
	"github.com/nmoshub/queryd/log"
	"github.com/nmoshub/queryd/subscription"
)

const (
	// wsWriteWait bounds every outbound frame; a peer that cannot drain
	// within it is treated as slow
	wsWriteWait = 5 * time.Second
	// wsPongWait is how long a peer may stay silent before the read side
	// gives up on it
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	// inbound frames carry no payload the service acts on
	wsMaxMessageSize = 1024
)

// wsConn adapts one WebSocket connection to the subscription sink interface.
// Send is only ever called by the subscription's delivery goroutine, so
// frame writes never interleave.
type wsConn struct {
	conn  *websocket.Conn
	store *subscription.Store
	subID string
	once  sync.Once
	done  chan struct{}
}

func newWSConn(conn *websocket.Conn, store *subscription.Store, subID string) *wsConn {
	return &wsConn{
		conn:  conn,
		store: store,
		subID: subID,
		done:  make(chan struct{}),
	}
}

// Send writes one grain as a text frame
func (c *wsConn) Send(g *grain.Grain) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(g)
}

// Close performs a best-effort close handshake and tears the connection down
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
		err = c.conn.Close()
	})
	return err
}

// serveWebsocket upgrades `GET <base>/ws/?uid=<id>` into a grain stream. The
// on-connect baseline is written before the connection is attached so the
// first frame a client sees is always the full current view.
func (h *handlers) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	if _, ok := parseVersion(w, r); !ok {
		return
	}
	uid := r.URL.Query().Get("uid")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "uid query parameter is required")
		return
	}
	sub, ok := h.store.Get(uid)
	if !ok {
		writeError(w, http.StatusBadRequest, "no subscription with uid "+uid)
		return
	}

	entries, err := h.query.Baseline(r.Context(), sub)
	if err != nil {
		log.Errorf(log.WebsocketMgr, "Websocket sync for subscription %s failed: %v", sub.ID, err)
		writeError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		log.Errorf(log.WebsocketMgr, "Websocket upgrade for subscription %s failed: %v", sub.ID, err)
		return
	}
	log.Debugf(log.WebsocketMgr, "Websocket client connected to subscription %s", sub.ID)

	c := newWSConn(conn, h.store, sub.ID)
	if err := c.Send(grain.New(sub.ID, grain.Topic(sub.ResourcePath), entries)); err != nil {
		log.Warnf(log.WebsocketMgr, "Websocket sync write for subscription %s failed: %v", sub.ID, err)
		c.Close()
		return
	}
	if err := h.store.Attach(sub.ID, c); err != nil {
		// reaped between lookup and attach
		c.Close()
		return
	}

	go c.pingLoop()
	c.readLoop()
}

// readLoop consumes inbound frames until the peer goes away. Anything the
// peer sends counts as a keepalive.
func (c *wsConn) readLoop() {
	defer func() {
		c.store.Detach(c.subID, c)
		c.Close()
		log.Debugf(log.WebsocketMgr, "Websocket client disconnected from subscription %s", c.subID)
	}()

	c.conn.SetReadLimit(wsMaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
			if err != nil {
				return
			}
		}
	}
}
