package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/feed"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/observ"
	"go.uber.org/zap"
)

// RouterConfig carries what NewRouter wires together.
type RouterConfig struct {
	Service   *dataroom.Service
	Feed      *feed.Handler
	JWTSecret string
	Logger    *zap.Logger

	// ShareLimit wraps the public share endpoint; nil disables limiting.
	ShareLimit gin.HandlerFunc

	// Health reports dependency status; nil means always healthy.
	Health func(*gin.Context) error
}

// NewRouter builds the full HTTP surface.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), observ.RequestLogger(cfg.Logger), observ.Instrument())

	// Health check and metrics are public so load balancers and scrapers
	// can reach them.
	r.GET("/v1/health", func(c *gin.Context) {
		if cfg.Health != nil {
			if err := cfg.Health(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(observ.Handler()))

	links := NewLinkHandler(cfg.Service, cfg.Logger)
	share := []gin.HandlerFunc{links.Redeem}
	if cfg.ShareLimit != nil {
		share = append([]gin.HandlerFunc{cfg.ShareLimit}, share...)
	}
	r.POST("/share/:token", share...)

	rooms := NewRoomHandler(cfg.Service, cfg.Logger)
	viewers := NewViewerHandler(cfg.Service, cfg.Logger)
	docs := NewDocumentHandler(cfg.Service, cfg.Logger)
	audit := NewAuditHandler(cfg.Service, cfg.Feed, cfg.Logger)

	v1 := r.Group("/v1/companies/:companyId")
	v1.Use(middleware.AuthMiddleware(cfg.JWTSecret))
	{
		v1.POST("/rooms", rooms.Create)
		v1.GET("/rooms", rooms.List)
		v1.GET("/rooms/:roomId", rooms.Get)
		v1.PATCH("/rooms/:roomId", rooms.Update)
		v1.POST("/rooms/:roomId/archive", rooms.Archive)

		v1.POST("/rooms/:roomId/viewers", viewers.Add)
		v1.GET("/rooms/:roomId/viewers", viewers.List)
		v1.PATCH("/rooms/:roomId/viewers/:viewerId", viewers.Update)
		v1.DELETE("/rooms/:roomId/viewers/:viewerId", viewers.Revoke)
		v1.POST("/rooms/:roomId/nda", viewers.AcceptNDA)

		v1.POST("/rooms/:roomId/documents", docs.Register)
		v1.GET("/rooms/:roomId/documents", docs.List)
		v1.DELETE("/rooms/:roomId/documents/:documentId", docs.Delete)
		v1.POST("/rooms/:roomId/documents/:documentId/access", docs.Access)
		v1.GET("/rooms/:roomId/documents/:documentId/watermarks", docs.Watermarks)
		v1.POST("/rooms/:roomId/documents/:documentId/watermarks/verify", docs.VerifyWatermark)

		v1.POST("/rooms/:roomId/links", links.Create)
		v1.GET("/rooms/:roomId/links", links.List)
		v1.DELETE("/rooms/:roomId/links/:linkId", links.Revoke)

		v1.GET("/rooms/:roomId/access-logs", audit.Logs)
		v1.GET("/rooms/:roomId/feed", audit.Feed)
	}

	return r
}
