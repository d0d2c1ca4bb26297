package handlers

import (
	"errors"
	"net/http"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/SimoSabev/LynkSkill-sub001/internal/common"
	"github.com/SimoSabev/LynkSkill-sub001/internal/httpapi/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Pool   *chat.Pool
	Logger *zap.Logger
}

func NewHandler(pool *chat.Pool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Pool: pool, Logger: logger}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

// service resolves the caller's assistant. It writes the failure response
// itself and returns nil.
func (h *Handler) service(c *gin.Context) *chat.Service {
	owner, ut, ok := middleware.OwnerFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return nil
	}
	svc, err := h.Pool.Get(c.Request.Context(), owner, ut)
	if err != nil {
		h.Logger.Error("open assistant store failed", zap.String("owner", owner), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return nil
	}
	return svc
}

// writeError maps store and turn errors to the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, chat.ErrUnknownSession):
		common.Fail(c, http.StatusNotFound, 40401, "session not found")
	case errors.Is(err, chat.ErrEmptyUtterance):
		common.Fail(c, http.StatusBadRequest, 10002, "message required")
	case errors.Is(err, chat.ErrInvalidName):
		common.Fail(c, http.StatusBadRequest, 10003, "name required")
	case errors.Is(err, chat.ErrTurnInFlight):
		common.Fail(c, http.StatusConflict, 40901, "a turn is already in progress")
	case errors.Is(err, chat.ErrSessionNotActive):
		common.Fail(c, http.StatusConflict, 40902, "session is not active")
	case errors.Is(err, chat.ErrInvalidUserType):
		common.Fail(c, http.StatusBadRequest, 10004, "invalid user type")
	default:
		h.Logger.Error("assistant request failed",
			zap.String("request_id", c.GetString(middleware.RequestIDKey)), zap.Error(err))
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
	}
}

// persisted splits a mutation error into "applied but not saved" and a real
// failure.
func persisted(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, chat.ErrPersistenceUnavailable) {
		return false, nil
	}
	return false, err
}
