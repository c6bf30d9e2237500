package ws

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// GatewayConfig controls the runtime behaviour of the WebSocket gateway.
type GatewayConfig struct {
	HeartbeatInterval time.Duration
	PongTimeout       time.Duration
	SendBuffer        int
	WriteTimeout      time.Duration
	MaxMessageSize    int64
}

// Gateway upgrades HTTP requests into WebSocket connections and hands them to
// the collaboration hooks. Credentials travel in-band inside the join frame,
// so the upgrade itself is unauthenticated.
type Gateway struct {
	upgrader websocket.Upgrader
	hooks    Hooks
	logger   zerolog.Logger
	cfg      GatewayConfig
}

// NewGateway creates a Gateway with sane defaults.
func NewGateway(hooks Hooks, logger zerolog.Logger, cfg GatewayConfig) *Gateway {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PongTimeout == 0 {
		cfg.PongTimeout = cfg.HeartbeatInterval * 2
	}
	if cfg.SendBuffer == 0 {
		cfg.SendBuffer = 64
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = 1 << 20
	}
	return &Gateway{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		hooks:  hooks,
		logger: logger,
		cfg:    cfg,
	}
}

// ServeHTTP implements http.Handler.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	start := time.Now()
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	upgradeLatency.Observe(time.Since(start).Seconds())

	id := uuid.NewString()
	childLogger := g.logger.With().Str("connection", id).Logger()
	connection := newConnection(conn, id, childLogger, connectionOptions{
		heartbeatInterval: g.cfg.HeartbeatInterval,
		pongTimeout:       g.cfg.PongTimeout,
		sendBufferSize:    g.cfg.SendBuffer,
		writeTimeout:      g.cfg.WriteTimeout,
		maxMessageSize:    g.cfg.MaxMessageSize,
	}, func() {
		activeConnections.Dec()
	})

	activeConnections.Inc()
	childLogger.Debug().Msg("websocket connection established")

	go connection.Run(g.hooks)
}
