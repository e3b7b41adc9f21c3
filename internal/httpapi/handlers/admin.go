package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nightcall-labs/nightcall/internal/auth"
	"github.com/nightcall-labs/nightcall/internal/common"
	"github.com/nightcall-labs/nightcall/internal/roster"
)

type loginReq struct {
	OperatorKey string `json:"operator_key" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if err := auth.VerifyOperatorKey(h.Cfg.OperatorKeyHash, req.OperatorKey); err != nil {
		common.Fail(c, http.StatusUnauthorized, 40103, "bad operator key")
		return
	}
	token, err := auth.IssueToken(h.Cfg.JWTSecret)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50005, "failed to issue token")
		return
	}
	common.OK(c, gin.H{"token": token})
}

// Diagnostics runs a consistency scan and returns durable counts. The scan
// itself repairs anything it finds, so reading diagnostics also heals.
func (h *Handler) Diagnostics(c *gin.Context) {
	rep, err := h.Engine.RepairCorrupted(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50006, "scan failed")
		return
	}
	common.OK(c, rep)
}

func (h *Handler) UserSessions(c *gin.Context) {
	userID := c.Param("user_id")
	sessions, err := h.Repo.ListSessionsByUser(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50007, "failed to list sessions")
		return
	}
	turns, err := h.Repo.ListTurns(c.Request.Context(), userID, 100, 0)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50008, "failed to list turns")
		return
	}
	common.OK(c, gin.H{"sessions": sessions, "turns": turns})
}

func (h *Handler) CollapseUser(c *gin.Context) {
	userID := c.Param("user_id")
	n, err := h.Engine.CollapseUser(c.Request.Context(), userID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50009, "collapse failed")
		return
	}
	common.OK(c, gin.H{"user_id": userID, "collapsed": n})
}

func (h *Handler) ResetUser(c *gin.Context) {
	userID := c.Param("user_id")
	if err := h.Engine.ResetUser(c.Request.Context(), userID); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50010, "reset failed")
		return
	}
	common.OK(c, gin.H{"user_id": userID, "reset": true})
}

type upsertMemberReq struct {
	MemberID    string `json:"member_id" binding:"required"`
	ScopeID     string `json:"scope_id"`
	DisplayName string `json:"display_name"`
	Tags        string `json:"tags"`
}

func (h *Handler) UpsertMember(c *gin.Context) {
	var req upsertMemberReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	scope := req.ScopeID
	if scope == "" {
		scope = h.Cfg.ScopeID
	}
	m := &roster.Member{
		MemberID:    req.MemberID,
		ScopeID:     scope,
		DisplayName: req.DisplayName,
		Tags:        req.Tags,
	}
	if err := h.Roster.Upsert(c.Request.Context(), m); err != nil {
		common.Fail(c, http.StatusInternalServerError, 50011, "failed to upsert member")
		return
	}
	common.OK(c, m)
}

// TriggerSelection lets an operator force one selection pass, still subject
// to the time window and cooldown gates.
func (h *Handler) TriggerSelection(c *gin.Context) {
	session, err := h.Selector.Run(c.Request.Context())
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50012, "selection failed")
		return
	}
	if session == nil {
		common.OK(c, gin.H{"selected": false})
		return
	}
	common.OK(c, gin.H{"selected": true, "session_id": session.SessionID, "user_id": session.UserID})
}
