package http

import (
	"context"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/pairview/watchparty/internal/adapters/signal"
	"github.com/pairview/watchparty/internal/app"
	"github.com/pairview/watchparty/internal/auth"
	"github.com/pairview/watchparty/internal/config"
	"github.com/pairview/watchparty/internal/domain"
	"github.com/pairview/watchparty/internal/store"
)

const userKey = "user_id"

// AuthMiddleware resolves the caller's identity: a bearer token wins and is
// remembered in the cookie session, a previously verified session works
// without one. Anything else is turned away.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			if h := c.GetHeader("Authorization"); len(h) > 7 && h[:7] == "Bearer " {
				token = h[7:]
			}
		}
		if token != "" {
			uid, err := verifier.Verify(token)
			if err != nil {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
				return
			}
			sess := sessions.Default(c)
			sess.Set(userKey, string(uid))
			if err := sess.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("session save")
			}
			c.Set(userKey, string(uid))
			c.Next()
			return
		}
		sess := sessions.Default(c)
		if v, ok := sess.Get(userKey).(string); ok && v != "" {
			c.Set(userKey, v)
			c.Next()
			return
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
	}
}

func identity(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString(userKey))
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator, st store.PartyStore, verifier auth.Verifier) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	cookieStore := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("WatchPartySession", cookieStore))

	log.Info().Str("module", "adapters.http").Msg("router setup")

	wsCtl := signal.NewController(coord, verifier, cfg.ReadLimit, cfg.WriteWait)
	r.GET("/api/ws", func(c *gin.Context) {
		wsCtl.Handle(ctx, c)
	})

	api := r.Group("/api", AuthMiddleware(verifier))
	partyAPI := &PartyAPI{Coord: coord, Store: st}
	api.POST("/parties", partyAPI.Create)
	api.POST("/parties/join", partyAPI.Join)
	api.GET("/parties/:code", partyAPI.Get)
	api.POST("/parties/:code/leave", partyAPI.Leave)
	api.PUT("/parties/:code/content", partyAPI.SetContent)
	api.GET("/user/parties", partyAPI.ListActive)

	return r
}
