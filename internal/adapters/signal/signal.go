// Package signal is the WebSocket adapter for the real-time channel. It
// owns the transport resources; the coordinator never closes a socket.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/app"
	"github.com/pairview/watchparty/internal/auth"
	"github.com/pairview/watchparty/internal/core"
	"github.com/pairview/watchparty/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Coord     *app.Coordinator
	Verifier  auth.Verifier
	ReadLimit int64
	WriteWait time.Duration
}

func NewController(coord *app.Coordinator, verifier auth.Verifier, readLimit int64, writeWait time.Duration) *Controller {
	if writeWait <= 0 {
		writeWait = 5 * time.Second
	}
	return &Controller{Coord: coord, Verifier: verifier, ReadLimit: readLimit, WriteWait: writeWait}
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// connSession tracks the connection's verified identity and its current
// party attachment. Only the read pump mutates it, so no lock: a single
// connection processes its own messages strictly in arrival order.
type connSession struct {
	uid    domain.UserID
	handle *core.Handle
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates the connection and, only then, upgrades it. A bad
// credential terminates the attempt before the registry ever sees it.
func (ctl *Controller) Handle(ctx context.Context, c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
			token = h[7:]
		}
	}
	uid, err := ctl.Verifier.Verify(token)
	if err != nil {
		log.Warn().Str("module", "signal").Msg("rejected unauthenticated connection")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	sess := &connSession{uid: uid}
	log.Info().Str("module", "signal").Str("user", string(uid)).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go func() {
		defer cancel()
		ctl.writePump(ctx, conn)
	}()
	go ctl.readPump(ctx, sess, conn)
}
