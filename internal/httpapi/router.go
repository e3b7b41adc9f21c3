package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nightcall-labs/nightcall/internal/common"
	"github.com/nightcall-labs/nightcall/internal/config"
	"github.com/nightcall-labs/nightcall/internal/httpapi/handlers"
	"github.com/nightcall-labs/nightcall/internal/httpapi/middleware"
	"github.com/nightcall-labs/nightcall/internal/store/rabbitmq"
	"github.com/nightcall-labs/nightcall/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, pub *rabbitmq.Publisher) (*gin.Engine, *handlers.Handler) {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, pub)

	r.GET("/ping", h.Ping)
	r.POST("/login", h.Login)

	// gateway-facing
	r.POST("/inbound", h.Inbound)
	r.GET("/jobs/:job_id", h.GetJob)
	r.POST("/presence", h.Presence)

	// operator surface (JWT required)
	admin := r.Group("/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret))
	admin.GET("/diagnostics", h.Diagnostics)
	admin.GET("/sessions/:user_id", h.UserSessions)
	admin.POST("/repair", h.Diagnostics)
	admin.POST("/sessions/:user_id/collapse", h.CollapseUser)
	admin.DELETE("/sessions/:user_id", h.ResetUser)
	admin.POST("/members", h.UpsertMember)
	admin.POST("/select", h.TriggerSelection)

	return r, h
}
