package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/nightcall-labs/nightcall/internal/common"
	"github.com/nightcall-labs/nightcall/internal/engage"
	"github.com/nightcall-labs/nightcall/internal/roster"
)

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"pong": true})
}

type inboundReq struct {
	UserID         string `json:"user_id" binding:"required"`
	Text           string `json:"text" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Inbound accepts one user turn from the gateway, records a job and hands
// it to the queue. The worker advances the session and dispatches the reply.
func (h *Handler) Inbound(c *gin.Context) {
	var req inboundReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Text) == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "user_id and text required")
		return
	}

	jobID, err := engage.NewJobID()
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create job")
		return
	}

	job := &engage.Job{
		ID:      jobID,
		UserID:  req.UserID,
		Inbound: req.Text,
		Status:  engage.JobQueued,
	}
	if req.IdempotencyKey != "" {
		job.IdempotencyKey = &req.IdempotencyKey
	}

	job, created, err := h.Repo.CreateJobOrGetExisting(c.Request.Context(), job)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to enqueue")
		return
	}

	if created {
		if err := h.Publisher.PublishJob(c.Request.Context(), job.ID); err != nil {
			common.Fail(c, http.StatusInternalServerError, 50003, "failed to publish job")
			return
		}
	}

	common.OK(c, gin.H{"job_id": job.ID, "status": job.Status})
}

func (h *Handler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	job, err := h.Repo.GetJobByID(c.Request.Context(), jobID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			common.Fail(c, http.StatusNotFound, 40004, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50004, "failed to load job")
		return
	}
	common.OK(c, job)
}

type presenceReq struct {
	MemberID string `json:"member_id" binding:"required"`
	Status   string `json:"status" binding:"required"`
}

// Presence records a member's presence status with a TTL; stale members
// decay to offline on their own.
func (h *Handler) Presence(c *gin.Context) {
	var req presenceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}
	switch roster.Status(req.Status) {
	case roster.StatusOnline, roster.StatusIdle, roster.StatusDND, roster.StatusOffline:
	default:
		common.Fail(c, http.StatusBadRequest, 10003, "unknown status")
		return
	}
	if err := h.Redis.SetPresence(c.Request.Context(), req.MemberID, req.Status); err != nil {
		common.Fail(c, http.StatusInternalServerError, 20001, "redis error")
		return
	}
	common.OK(c, gin.H{"member_id": req.MemberID, "status": req.Status})
}
