package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/codecanvas-io/collab/docs"
	"github.com/codecanvas-io/collab/internal/config"
	"github.com/codecanvas-io/collab/internal/middleware"
	"github.com/codecanvas-io/collab/internal/modules/handler"
	"github.com/codecanvas-io/collab/internal/modules/serializer"
	"github.com/codecanvas-io/collab/internal/telemetry"
)

// WSPath is the WebSocket endpoint.
const WSPath = "/api/v1/collab/ws"

type RouterDeps struct {
	Config        *config.Config
	Log           *zap.Logger
	Verifier      *middleware.TokenVerifier
	CollabHandler *handler.CollabHandler
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	if d.Config.Telemetry.Enabled && d.Config.Telemetry.OtlpEndpoint != "" {
		r.Use(telemetry.GinMiddleware(d.Config.App.Name, WSPath))
		// Add trace ID to response header
		r.Use(telemetry.TraceIDMiddleware())
	}

	r.Use(middleware.ZapLogger(d.Log))

	// health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "ok"}) })

	// swagger
	r.GET("/swagger", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/swagger/index.html")
	})
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		v1.Use(middleware.UserAuth(d.Verifier))

		// ping endpoint
		v1.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, serializer.Response{Msg: "pong"}) })

		v1.GET("/collab/ws", d.CollabHandler.ServeWS)

		project := v1.Group("/projects/:project_id")
		{
			project.GET("/active-users", d.CollabHandler.ListActiveUsers)
			project.GET("/activities", d.CollabHandler.ListActivities)
			project.GET("/files", d.CollabHandler.ListFiles)
		}
	}
	return r
}
