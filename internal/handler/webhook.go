package handler

import (
	"encoding/json"
	"io"

	"github.com/gin-gonic/gin"

	"github.com/envlight/hdrid/internal/resp"
	"github.com/envlight/hdrid/internal/webhook"
)

// SignatureHeader carries the HMAC of the raw webhook body.
const SignatureHeader = "X-Signature"

// providerWebhook receives status notifications from the compute
// provider. The body is verified when a signature header is present;
// unsigned notifications are accepted as-is, since not every provider
// deployment signs its callbacks.
func (h *Handler) providerWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		resp.Fail(c.Writer, resp.BadRequest("unreadable body"))
		return
	}

	if sig := c.GetHeader(SignatureHeader); sig != "" && !h.reconciler.VerifySignature(body, sig) {
		resp.Fail(c.Writer, resp.UnAuthorized("invalid webhook signature"))
		return
	}

	var p webhook.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		resp.Fail(c.Writer, resp.BadRequest("malformed notification"))
		return
	}

	j, applied, err := h.reconciler.Reconcile(c.Request.Context(), &p)
	if err != nil {
		resp.Fail(c.Writer, resp.InternalServer("failed to apply notification"))
		return
	}

	out := gin.H{"received": true, "applied": applied}
	if j != nil {
		out["job_id"] = j.ID
		out["status"] = j.Status
	}
	resp.Success(c.Writer, out)
}

// testWebhook lets operators exercise the reconciliation path without the
// provider: the payload is accepted unsigned.
func (h *Handler) testWebhook(c *gin.Context) {
	var p webhook.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		resp.Fail(c.Writer, resp.BadRequest("malformed notification"))
		return
	}

	j, applied, err := h.reconciler.Reconcile(c.Request.Context(), &p)
	if err != nil {
		resp.Fail(c.Writer, resp.InternalServer("failed to apply notification"))
		return
	}

	out := gin.H{"received": true, "applied": applied, "test": true}
	if j != nil {
		out["job_id"] = j.ID
		out["status"] = j.Status
	}
	resp.Success(c.Writer, out)
}

func (h *Handler) webhookHealth(c *gin.Context) {
	resp.Success(c.Writer, gin.H{"status": "healthy"})
}
