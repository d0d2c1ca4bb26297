package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/SimoSabev/LynkSkill-sub001/internal/chat"
	"github.com/SimoSabev/LynkSkill-sub001/internal/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sessionSummary struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CreatedAt    time.Time  `json:"createdAt"`
	Phase        chat.Phase `json:"phase"`
	MessageCount int        `json:"messageCount"`
	Active       bool       `json:"active"`
}

func (h *Handler) ListSessions(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	store := svc.Store()
	ut := store.UserType()
	active := store.ActiveSessionID(ut)

	sessions := store.ListSessions(ut)
	out := make([]sessionSummary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionSummary{
			ID:           s.ID,
			Name:         s.Name,
			CreatedAt:    s.CreatedAt,
			Phase:        s.Phase,
			MessageCount: len(s.Messages),
			Active:       s.ID == active,
		})
	}

	common.OK(c, gin.H{
		"user_type":         ut,
		"active_session_id": active,
		"sessions":          out,
	})
}

func (h *Handler) CreateSession(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	store := svc.Store()
	sess, err := store.StartNewSession(c.Request.Context(), store.UserType())
	saved, err := persisted(err)
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.Created(c, gin.H{"session": sess, "persisted": saved})
}

// lookup returns the session only when it belongs to the caller's current
// user type.
func (h *Handler) lookup(c *gin.Context, svc *chat.Service) (chat.Session, bool) {
	id := c.Param("session_id")
	sess, ok := svc.Store().Session(id)
	if !ok || sess.UserType != svc.Store().UserType() {
		h.writeError(c, fmt.Errorf("%w: %s", chat.ErrUnknownSession, id))
		return chat.Session{}, false
	}
	return sess, true
}

func (h *Handler) GetSession(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	sess, ok := h.lookup(c, svc)
	if !ok {
		return
	}
	store := svc.Store()
	common.OK(c, gin.H{
		"session":     sess,
		"active":      store.ActiveSessionID(sess.UserType) == sess.ID,
		"turn_active": svc.TurnInFlight(sess.ID),
	})
}

func (h *Handler) LoadSession(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	sess, ok := h.lookup(c, svc)
	if !ok {
		return
	}
	saved, err := persisted(svc.Store().LoadSession(c.Request.Context(), sess.ID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	loaded, _ := svc.Store().Session(sess.ID)
	common.OK(c, gin.H{"session": loaded, "persisted": saved})
}

type renameSessionReq struct {
	Name string `json:"name" binding:"required"`
}

func (h *Handler) RenameSession(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	var req renameSessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	sess, ok := h.lookup(c, svc)
	if !ok {
		return
	}
	saved, err := persisted(svc.Store().RenameSession(c.Request.Context(), sess.ID, req.Name))
	if err != nil {
		h.writeError(c, err)
		return
	}
	renamed, _ := svc.Store().Session(sess.ID)
	common.OK(c, gin.H{"id": renamed.ID, "name": renamed.Name, "persisted": saved})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	sess, ok := h.lookup(c, svc)
	if !ok {
		return
	}
	store := svc.Store()
	saved, err := persisted(store.DeleteSession(c.Request.Context(), sess.ID))
	if err != nil {
		h.writeError(c, err)
		return
	}
	common.OK(c, gin.H{
		"deleted":           sess.ID,
		"active_session_id": store.ActiveSessionID(sess.UserType),
		"persisted":         saved,
	})
}

type submitTurnReq struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SubmitTurn blocks until the turn settles. Gateway failures still answer
// 200 with the apology as reply.
func (h *Handler) SubmitTurn(c *gin.Context) {
	svc := h.service(c)
	if svc == nil {
		return
	}
	var req submitTurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := svc.SubmitTurn(c.Request.Context(), req.SessionID, req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if res.PersistErr != nil {
		h.Logger.Warn("turn not persisted",
			zap.String("session_id", res.SessionID), zap.Error(res.PersistErr))
	}

	data := gin.H{
		"session_id":   res.SessionID,
		"outcome":      res.Outcome,
		"user_message": res.UserMessage,
		"reply":        res.Reply,
		"persisted":    res.PersistErr == nil,
	}
	if kind := chat.FailureKind(res.Failure); kind != "" {
		data["failure_kind"] = kind
	}
	if sess, ok := svc.Store().Session(res.SessionID); ok {
		data["phase"] = sess.Phase
		data["portfolio"] = sess.Portfolio
		data["matches"] = sess.Matches
	}
	common.OK(c, data)
}
