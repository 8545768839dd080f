package http

import (
	"context"

	"github.com/dkeye/vocalize/internal/adapters/signal"
	"github.com/dkeye/vocalize/internal/app"
	"github.com/dkeye/vocalize/internal/config"
	"github.com/dkeye/vocalize/internal/core"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	clientTokenCookie = "ct"
	clientTokenKey    = "client_token"
)

func genClientToken() string {
	return uuid.NewString()
}

func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie(clientTokenCookie)
		if token == "" {
			token = genClientToken()
			c.SetCookie(clientTokenCookie, token, 3600*24*7, "/", "", false, true)
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, hub *app.Hub, store core.MeetingStore) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("VocalizeSessions", cookieStore))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	limiter := signal.NewRateLimiter(cfg.JoinRequestLimit, cfg.JoinRequestWindow)
	ctrl := signal.NewSignalWSController(hub, limiter, cfg.ReadLimit, cfg.PingPeriod)
	h := &meetingHandlers{store: store, hub: hub}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	api.GET("/whoami", h.whoami)
	api.POST("/user/name", h.rename)
	api.GET("/channels", h.channels)

	m := api.Group("/meeting")
	m.POST("/create", h.create)
	m.GET("/exists", h.exists)
	m.GET("/:id", h.get)
	m.POST("/:id/status", h.setStatus)
	m.GET("/:id/presence", h.presence)

	api.GET("/ws/meeting/:id", func(c *gin.Context) {
		meeting, ok := h.joinable(c)
		if !ok {
			return
		}
		log.Info().Str("module", "adapters.http").Str("meeting", string(meeting.ID)).Msg("ws meeting endpoint hit")
		ctrl.HandleMeeting(ctx, c, meeting.ID, h.user(c))
	})

	return r
}
