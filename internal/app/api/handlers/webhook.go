package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/webhook"
	"github.com/fatflowers/billing/pkg/logctx"
	"github.com/fatflowers/billing/pkg/response"
	"github.com/fatflowers/billing/pkg/types"
)

const (
	SignatureHeader = "X-Signature"
	maxWebhookBody  = 1 << 20
)

// @Summary      Gateway webhook
// @Description  Receives a gateway notification for an integration. The body is signed with HMAC-SHA256 in X-Signature.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        integration path string true "subscriptions, payments or point"
// @Success      200  {object}  webhook.Result
// @Failure      401  {object}  webhook.Result
// @Router       /api/v1/webhooks/{integration} [post]
// ApiWebhook receives gateway notifications. The gateway always gets a 2xx
// unless the signature is missing or invalid, so processing failures are not
// redelivered by the gateway; the scheduler retries them from the notification
// log (Gate.RetryPending).
func ApiWebhook(g *webhook.Gate, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		l := logctx.FromGin(c, log)
		it := types.IntegrationType(c.Param("integration"))

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
		if err != nil {
			l.Warnw("webhook_body_read_error", "integration", it, "error", err)
			c.JSON(http.StatusOK, response.OKT(&webhook.Result{}))
			return
		}

		res, decision := g.Handle(c.Request.Context(), it, body, c.GetHeader(SignatureHeader))
		if decision == webhook.DecisionRejectSignature {
			c.JSON(http.StatusUnauthorized, response.ErrorT(response.APIResponseCodeUnauthorized, res))
			return
		}
		l.Infow("webhook_handled", "integration", it, "decision", decision, "accepted", res.Accepted, "duplicate", res.Duplicate)
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterWebhookRoutes(r gin.IRouter, g *webhook.Gate, log *zap.SugaredLogger) {
	r.POST("/webhooks/:integration", ApiWebhook(g, log))
}
