package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dkeye/Relay/internal/adapters/signal"
	"github.com/dkeye/Relay/internal/app/orch"
	"github.com/dkeye/Relay/internal/config"
	"github.com/dkeye/Relay/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

// ClientTokenMiddleware pins a random token to the browser session so WS
// reconnects from the same client can be correlated in logs.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = uuid.NewString()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

// AdminAuthMiddleware accepts requests carrying "Authorization: Bearer
// <token>". An empty token rejects every request.
func AdminAuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			log.Warn().Str("module", "adapters.http").Str("path", c.FullPath()).Str("remote", c.RemoteIP()).Msg("admin request rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, ctl *signal.Controller, gatherer prometheus.Gatherer) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Msg("invalid trusted_proxies, trusting none")
		_ = r.SetTrustedProxies(nil)
	}
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": o.Registry.Count()})
	})
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	if cfg.AdminToken == "" {
		log.Warn().Str("module", "adapters.http").Msg("admin_token not set, /api is disabled")
	}
	api := r.Group("/api", AdminAuthMiddleware(cfg.AdminToken))
	api.GET("/users", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Registry.Users())
	})
	api.DELETE("/users/:name", func(c *gin.Context) {
		name := c.Param("name")
		if !o.Kick(name) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not online"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("name", name).Str("by", c.GetString(clientTokenKey)).Msg("user kicked via admin api")
		c.Status(http.StatusNoContent)
	})
	api.GET("/rooms", func(c *gin.Context) {
		c.JSON(http.StatusOK, o.Rooms.List())
	})
	api.GET("/rooms/:name/members", func(c *gin.Context) {
		room := domain.NormalizeRoomName(c.Param("name"))
		rs, ok := o.Rooms.Get(room)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": room, "members": rs.Members()})
	})
	api.DELETE("/rooms/:name", func(c *gin.Context) {
		room := domain.NormalizeRoomName(c.Param("name"))
		if room == o.DefaultRoom || o.Calls.HasGroup(room) {
			c.JSON(http.StatusConflict, gin.H{"error": "room is in use"})
			return
		}
		found, removed := o.Rooms.RemoveIfIdle(room)
		switch {
		case !found:
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		case !removed:
			c.JSON(http.StatusConflict, gin.H{"error": "room is in use"})
			return
		}
		log.Info().Str("module", "adapters.http").Str("room", string(room)).Str("by", c.GetString(clientTokenKey)).Msg("room removed via admin api")
		c.Status(http.StatusNoContent)
	})
	api.GET("/calls", func(c *gin.Context) {
		private, group := o.Calls.Snapshot()
		c.JSON(http.StatusOK, gin.H{"private": private, "group": group})
	})

	if ctl != nil {
		r.GET("/ws/signal", func(c *gin.Context) {
			ctl.HandleWS(ctx, c)
		})
	}

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
