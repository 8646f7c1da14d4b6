// Package handler exposes the HTTP surface: the jobs API and the
// provider webhook endpoints.
package handler

import (
	"errors"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/resp"
	"github.com/envlight/hdrid/internal/service"
	"github.com/envlight/hdrid/internal/webhook"
)

// Handler carries the collaborators behind the routes.
type Handler struct {
	svc        *service.Service
	reconciler *webhook.Reconciler
	startedAt  time.Time
}

// New creates the HTTP handler set.
func New(svc *service.Service, reconciler *webhook.Reconciler) *Handler {
	return &Handler{
		svc:        svc,
		reconciler: reconciler,
		startedAt:  time.Now(),
	}
}

// Register mounts all routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.Use(TraceMiddleware(), LoggerMiddleware())

	api := r.Group("/api")
	{
		api.POST("/jobs", h.createJob)
		api.GET("/jobs", h.listJobs)
		api.GET("/jobs/:id", h.getJob)
		api.POST("/jobs/:id/cancel", h.cancelJob)
		api.GET("/jobs/:id/results", h.jobResults)
		api.GET("/statistics", h.statistics)
		api.GET("/health", h.health)
	}

	hooks := r.Group("/webhooks")
	{
		hooks.POST("/runpod", h.providerWebhook)
		hooks.POST("/test", h.testWebhook)
		hooks.GET("/health", h.webhookHealth)
	}
}

func (h *Handler) createJob(c *gin.Context) {
	var req service.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Fail(c.Writer, resp.BadRequest("invalid request body", err.Error()))
		return
	}

	j, err := h.svc.CreateJob(c.Request.Context(), &req)
	if err != nil {
		resp.Fail(c.Writer, resp.BadRequest(err.Error()))
		return
	}
	resp.WithStatusCode(c.Writer, 201, j)
}

func (h *Handler) listJobs(c *gin.Context) {
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	jobs, err := h.svc.ListJobs(c.Request.Context(), offset, limit)
	if err != nil {
		resp.Fail(c.Writer, resp.InternalServer("failed to list jobs"))
		return
	}
	resp.Success(c.Writer, gin.H{"jobs": jobs, "offset": offset, "limit": limit})
}

func (h *Handler) getJob(c *gin.Context) {
	j, err := h.svc.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			resp.Fail(c.Writer, resp.NotFound("job not found"))
			return
		}
		resp.Fail(c.Writer, resp.InternalServer("failed to load job"))
		return
	}
	resp.Success(c.Writer, j)
}

func (h *Handler) cancelJob(c *gin.Context) {
	j, err := h.svc.CancelJob(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		resp.Fail(c.Writer, resp.NotFound("job not found"))
	case errors.Is(err, service.ErrTerminal):
		resp.Fail(c.Writer, resp.Conflict("job already reached a terminal state", gin.H{"status": j.Status}))
	case err != nil:
		resp.Fail(c.Writer, resp.InternalServer("failed to cancel job"))
	default:
		resp.Success(c.Writer, j)
	}
}

func (h *Handler) jobResults(c *gin.Context) {
	files, err := h.svc.JobResults(c.Request.Context(), c.Param("id"))
	switch {
	case errors.Is(err, repository.ErrNotFound):
		resp.Fail(c.Writer, resp.NotFound("job not found"))
	case errors.Is(err, service.ErrNotReady):
		resp.Fail(c.Writer, resp.Conflict(err.Error()))
	case err != nil:
		resp.Fail(c.Writer, resp.InternalServer("failed to load results"))
	default:
		resp.Success(c.Writer, gin.H{"result_files": files})
	}
}

func (h *Handler) statistics(c *gin.Context) {
	stats, err := h.svc.GetStatistics(c.Request.Context())
	if err != nil {
		resp.Fail(c.Writer, resp.InternalServer("failed to compute statistics"))
		return
	}
	resp.Success(c.Writer, stats)
}

func (h *Handler) health(c *gin.Context) {
	resp.Success(c.Writer, gin.H{
		"status": "healthy",
		"uptime": time.Since(h.startedAt).Round(time.Second).String(),
	})
}
