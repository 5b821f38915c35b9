package http

import (
	"context"

	"github.com/dkeye/VoiceRelay/internal/adapters/signal"
	"github.com/dkeye/VoiceRelay/internal/app/orch"
	"github.com/dkeye/VoiceRelay/internal/app/transcode"
	"github.com/dkeye/VoiceRelay/internal/config"
	"github.com/dkeye/VoiceRelay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// StreamDirectory answers which streams and connections exist.
type StreamDirectory interface {
	Snapshot(ctx context.Context) (orch.Snapshot, error)
}

// BufferSource exposes the transcoded buffers. *transcode.Manager satisfies it.
type BufferSource interface {
	Buffer(id domain.StreamID) (*transcode.Buffer, bool)
	Format() transcode.Format
}

const clientTokenKey = "client_token"

func genClientToken() string {
	idStr := uuid.NewString()
	return idStr
}

// ClientTokenMiddleware keeps a per-browser token in the signed session cookie.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessions.Default(c)
		token, _ := sess.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			sess.Set(clientTokenKey, token)
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, dispatcher signal.Dispatcher, dir StreamDirectory, buffers BufferSource) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	ctrl := signal.NewSignalWSController(dispatcher, cfg)
	wsHandler := func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("client", c.GetString(clientTokenKey)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c)
	}
	r.GET("/ws", wsHandler)
	r.GET("/api/ws/signal", wsHandler)

	h := &streamHandler{dir: dir, buffers: buffers}
	r.GET("/health", h.health)
	// /stream/status, /stream/latest[.ext] and /stream/<id>[.ext] share one
	// route because gin cannot mix a static segment with a param here.
	r.GET("/stream/:id", h.stream)

	return r
}
