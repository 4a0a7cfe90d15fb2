package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"runlog-backend/internal/runs"
	"runlog-backend/internal/shared/config"
	"runlog-backend/internal/shared/metrics"
	"runlog-backend/internal/shared/server/middleware"
	"runlog-backend/internal/shared/server/respond"
	"runlog-backend/internal/web"
)

// RouterDeps carries the handlers the router wires up.
type RouterDeps struct {
	Config     config.Config
	RunHandler *runs.Handler
	WebHandler *web.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	r.SetHTMLTemplate(tmpl)

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		respond.JSON(c, http.StatusOK, gin.H{"ok": true})
	})
	deps.RunHandler.RegisterRoutes(api)

	r.GET("/metrics", metrics.Handler())
	deps.WebHandler.RegisterRoutes(r)

	return r, nil
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
