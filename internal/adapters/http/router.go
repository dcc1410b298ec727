package http

import (
	"context"
	"net/http"

	"github.com/dkeye/fleetcall/internal/adapters/signal"
	"github.com/dkeye/fleetcall/internal/app/orch"
	"github.com/dkeye/fleetcall/internal/auth"
	"github.com/dkeye/fleetcall/internal/config"
	"github.com/dkeye/fleetcall/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const sessionName = "FleetcallSessions"

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, issuer *auth.Issuer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.TokenTTL.Seconds()), HttpOnly: true, SameSite: http.SameSiteLaxMode})
	r.Use(sessions.Sessions(sessionName, store))

	ctrl := signal.NewSignalWSController(o, signal.NewRoomRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval), cfg.ReadLimit, cfg.PingPeriod, cfg.AllowedOrigins)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Count()})
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")

	api := r.Group("/api")
	api.Use(AuthMiddleware(issuer))

	api.POST("/session", func(c *gin.Context) {
		id := identityOf(c)
		s := sessions.Default(c)
		s.Set(sessionTokenKey, id.Token)
		if err := s.Save(); err != nil {
			log.Error().Err(err).Str("module", "adapters.http").Msg("session save")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "session_save"})
			return
		}
		c.JSON(http.StatusOK, id)
	})

	api.DELETE("/session", func(c *gin.Context) {
		s := sessions.Default(c)
		s.Clear()
		_ = s.Save()
		c.Status(http.StatusNoContent)
	})

	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})

	api.GET("/rooms/:key", func(c *gin.Context) {
		key := domain.RoomKey(c.Param("key"))
		if err := key.Validate(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		room := o.RoomInfo(key)
		c.JSON(http.StatusOK, gin.H{"count": room.Count, "isActive": room.CallActive})
	})

	api.GET("/ws/signal", func(c *gin.Context) {
		id := identityOf(c)
		log.Info().Str("module", "adapters.http").Str("user", string(id.UserID)).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, id)
	})

	return r
}
