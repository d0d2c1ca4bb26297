package httpapi

import (
	"net/http"

	"github.com/SimoSabev/LynkSkill-sub001/internal/common"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/handlers"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func NewRouter(h *handlers.Handler, jwtSecret string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger.Named("http")))
	r.Use(middleware.Recovery(logger))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)

	// assistant (JWT required)
	authGroup := r.Group("/assistant")
	authGroup.Use(middleware.AuthRequired(jwtSecret))
	authGroup.GET("/sessions", h.ListSessions)
	authGroup.POST("/sessions", h.CreateSession)
	authGroup.GET("/sessions/:session_id", h.GetSession)
	authGroup.POST("/sessions/:session_id/load", h.LoadSession)
	authGroup.PATCH("/sessions/:session_id", h.RenameSession)
	authGroup.DELETE("/sessions/:session_id", h.DeleteSession)
	authGroup.POST("/turns", h.SubmitTurn)
	return r
}
