package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fatflowers/billing/internal/app/service/billing"
	"github.com/fatflowers/billing/internal/app/service/subscription"
	"github.com/fatflowers/billing/pkg/apperr"
	"github.com/fatflowers/billing/pkg/response"
)

type CreateSubscriptionRequest struct {
	UserID     string         `json:"user_id" binding:"required"`
	PlanID     string         `json:"plan_id" binding:"required"`
	CouponCode string         `json:"coupon_code"`
	StartDate  *time.Time     `json:"start_date"`
	Metadata   map[string]any `json:"metadata"`
}

type CancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

type SubscriptionHandler struct {
	subscriptions *subscription.Service
	engine        *billing.Engine
	log           *zap.SugaredLogger
}

func NewSubscriptionHandler(subs *subscription.Service, engine *billing.Engine, log *zap.SugaredLogger) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subs, engine: engine, log: log}
}

// @Summary      Create subscription
// @Tags         Subscription
// @Accept       json
// @Produce      json
// @Param        payload body CreateSubscriptionRequest true "checkout request"
// @Success      201  {object}  subscription.CheckoutResult
// @Router       /api/v1/subscriptions [post]
func (h *SubscriptionHandler) Create(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, h.log, apperr.Validation("invalid request body: %v", err))
		return
	}
	res, err := h.subscriptions.Create(c.Request.Context(), subscription.CreateRequest{
		UserID:     req.UserID,
		PlanID:     req.PlanID,
		CouponCode: req.CouponCode,
		StartDate:  req.StartDate,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, response.OKT(res))
}

func (h *SubscriptionHandler) Get(c *gin.Context) {
	sub, err := h.subscriptions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(sub))
}

func (h *SubscriptionHandler) Pause(c *gin.Context) {
	sub, err := h.subscriptions.Pause(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(sub))
}

func (h *SubscriptionHandler) Resume(c *gin.Context) {
	sub, err := h.subscriptions.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(sub))
}

func (h *SubscriptionHandler) Cancel(c *gin.Context) {
	var req CancelSubscriptionRequest
	// the body is optional
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, h.log, apperr.Validation("invalid request body: %v", err))
		return
	}
	sub, err := h.subscriptions.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(sub))
}

// @Summary      Renew subscription
// @Tags         Subscription
// @Produce      json
// @Param        id path string true "subscription id"
// @Success      200  {object}  billing.RenewResult
// @Failure      503  {object}  map[string]any
// @Router       /api/v1/subscriptions/{id}/renew [post]
// Renew charges the subscription now. Business failures are a 200 with
// success=false; only infrastructure failures are errors.
func (h *SubscriptionHandler) Renew(c *gin.Context) {
	res, err := h.engine.Renew(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, response.OKT(res))
}

func RegisterSubscriptionRoutes(r gin.IRouter, h *SubscriptionHandler) {
	g := r.Group("/subscriptions")
	g.POST("", h.Create)
	g.GET("/:id", h.Get)
	g.POST("/:id/pause", h.Pause)
	g.POST("/:id/resume", h.Resume)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/renew", h.Renew)
}
