package signal

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/core"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Dispatcher is the connection manager seen from the transport.
type Dispatcher interface {
	Accept(sig core.SignalConnection, clientToken string) domain.ConnectionID
	Dispatch(id domain.ConnectionID, msg core.Message)
	Disconnect(id domain.ConnectionID)
}

type SignalWSController struct {
	Orch    Dispatcher
	Limiter *RateLimiter

	readLimit  int64
	pingPeriod time.Duration
	pongWait   time.Duration
	sendQueue  int
}

func NewSignalWSController(orch Dispatcher, cfg *config.Config) *SignalWSController {
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 {
		pingPeriod = 54 * time.Second
	}
	sendQueue := cfg.SendQueue
	if sendQueue <= 0 {
		sendQueue = 64
	}
	var limiter *RateLimiter
	if cfg.RateLimit > 0 {
		limiter = NewRateLimiter(cfg.RateLimit, cfg.RateInterval)
	}
	return &SignalWSController{
		Orch:       orch,
		Limiter:    limiter,
		readLimit:  cfg.ReadLimit,
		pingPeriod: pingPeriod,
		pongWait:   pingPeriod * 10 / 9,
		sendQueue:  sendQueue,
	}
}

// WsSignalConn is the send side of one websocket. Frames queue on send and
// are written by the single write pump.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return core.ErrSignalClosed
	}
	select {
	case c.send <- f:
	default:
		return core.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("client", token).Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendQueue),
	}
	id := ctl.Orch.Accept(conn, token)
	log.Info().Str("module", "signal").Str("sid", string(id)).Str("client", token).Msg("new WS connection")

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, id, conn)
}
