package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rongwang/groupledger/internal/authz"
	"github.com/rongwang/groupledger/internal/ledger"
	"github.com/rongwang/groupledger/internal/models"
	"github.com/rongwang/groupledger/internal/repository"
	"github.com/rongwang/groupledger/internal/service"
)

// ExportQueue schedules a background report export
type ExportQueue interface {
	EnqueueReportExport(ctx context.Context, groupID, timezone string) (string, error)
}

// Handler serves the chat adapter's HTTP API
type Handler struct {
	service service.Service
	exports ExportQueue
	logger  *slog.Logger
}

// NewHandler creates a new Handler
func NewHandler(svc service.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: svc, logger: logger}
}

// WithExportQueue enables the asynchronous export endpoint
func (h *Handler) WithExportQueue(q ExportQueue) *Handler {
	h.exports = q
	return h
}

// SetupRoutes registers every route on router
func (h *Handler) SetupRoutes(router gin.IRouter) {
	api := router.Group("/api")
	api.POST("/auth/token", h.IssueToken)

	authorized := api.Group("")
	authorized.Use(AuthMiddleware())

	groups := authorized.Group("/groups/:groupId")
	{
		groups.POST("/deposits", h.Deposit)
		groups.POST("/disbursements", h.Disburse)
		groups.POST("/reversals", h.Reverse)

		groups.PUT("/config/fee-rate", h.SetFeeRate)
		groups.PUT("/config/exchange-rate", h.SetExchangeRate)
		groups.PUT("/config/timezone", h.SetTimezone)

		groups.GET("/ledger", h.CheckLedger)
		groups.POST("/ledger/clear", h.ClearToday)
		groups.POST("/ledger/rollover", h.Rollover)

		groups.GET("/report", h.Report)
		groups.GET("/report/export", h.ExportReport)
		groups.POST("/report/export", h.EnqueueExport)

		groups.POST("/grants", h.Grant)
		groups.GET("/grants", h.ListGrants)
		groups.GET("/grants/:principal", h.DescribeExpiry)
		groups.DELETE("/grants/:principal", h.Revoke)
		groups.GET("/authorized/:principal", h.IsAuthorized)

		groups.POST("/access", h.AuthorizeGroup)
		groups.DELETE("/access", h.RevokeGroup)
	}

	authorized.GET("/groups", h.ListGroups)
	authorized.POST("/operators", h.AddOperator)
	authorized.DELETE("/operators/:principal", h.RemoveOperator)
}

func (h *Handler) IssueToken(c *gin.Context) {
	var req models.TokenRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.IssueToken(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Deposit(c *gin.Context) {
	var req models.TransactionRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Deposit(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Disburse(c *gin.Context) {
	var req models.TransactionRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Disburse(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Reverse(c *gin.Context) {
	var req models.ReversalRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Reverse(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) SetFeeRate(c *gin.Context) {
	var req models.FeeRateRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.SetFeeRate(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SetExchangeRate(c *gin.Context) {
	var req models.ExchangeRateRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.SetExchangeRate(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) SetTimezone(c *gin.Context) {
	var req models.TimezoneRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.SetTimezone(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CheckLedger(c *gin.Context) {
	actor, ok := h.actor(c, "actor")
	if !ok {
		return
	}

	resp, err := h.service.CheckLedger(c.Request.Context(), c.Param("groupId"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ClearToday(c *gin.Context) {
	var req models.ActorRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.ClearToday(c.Request.Context(), c.Param("groupId"), req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Rollover(c *gin.Context) {
	var req models.ActorRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Rollover(c.Request.Context(), c.Param("groupId"), req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) Report(c *gin.Context) {
	actor, ok := h.actor(c, "actor")
	if !ok {
		return
	}

	resp, err := h.service.Report(c.Request.Context(), c.Param("groupId"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ExportReport(c *gin.Context) {
	actor, ok := h.actor(c, "actor")
	if !ok {
		return
	}

	groupID := c.Param("groupId")
	data, err := h.service.ExportReport(c.Request.Context(), groupID, actor)
	if err != nil {
		h.writeError(c, err)
		return
	}

	filename := fmt.Sprintf("%s-%s.csv", groupID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", data)
}

// EnqueueExport hands the export to the worker; the file lands in the report directory
func (h *Handler) EnqueueExport(c *gin.Context) {
	var req models.ActorRequest
	if !h.bind(c, &req) {
		return
	}
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{
			Status:  "error",
			Code:    "UNAVAILABLE",
			Message: "Background exports are not configured",
		})
		return
	}

	groupID := c.Param("groupId")
	auth, err := h.service.IsAuthorized(c.Request.Context(), groupID, req.Actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !auth.Authorized {
		h.writeError(c, authz.ErrUnauthorized)
		return
	}

	taskID, err := h.exports.EnqueueReportExport(c.Request.Context(), groupID, "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "success", "taskId": taskID})
}

func (h *Handler) Grant(c *gin.Context) {
	var req models.GrantRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.Grant(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) Revoke(c *gin.Context) {
	grantor, ok := h.actor(c, "grantor")
	if !ok {
		return
	}

	resp, err := h.service.Revoke(c.Request.Context(), c.Param("groupId"), grantor, c.Param("principal"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListGrants(c *gin.Context) {
	actor, ok := h.actor(c, "actor")
	if !ok {
		return
	}

	resp, err := h.service.ListGrants(c.Request.Context(), c.Param("groupId"), actor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) DescribeExpiry(c *gin.Context) {
	resp, err := h.service.DescribeExpiry(c.Request.Context(), c.Param("groupId"), c.Param("principal"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) IsAuthorized(c *gin.Context) {
	resp, err := h.service.IsAuthorized(c.Request.Context(), c.Param("groupId"), c.Param("principal"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) AuthorizeGroup(c *gin.Context) {
	var req models.GroupAccessRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.AuthorizeGroup(c.Request.Context(), c.Param("groupId"), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) RevokeGroup(c *gin.Context) {
	grantor, ok := h.actor(c, "grantor")
	if !ok {
		return
	}

	resp, err := h.service.RevokeGroup(c.Request.Context(), c.Param("groupId"), grantor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListGroups(c *gin.Context) {
	groups, err := h.service.ListGroups(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "groups": groups})
}

func (h *Handler) AddOperator(c *gin.Context) {
	var req models.OperatorRequest
	if !h.bind(c, &req) {
		return
	}

	resp, err := h.service.AddOperator(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) RemoveOperator(c *gin.Context) {
	actor, ok := h.actor(c, "actor")
	if !ok {
		return
	}

	resp, err := h.service.RemoveOperator(c.Request.Context(), actor, c.Param("principal"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Helper methods
func (h *Handler) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
		return false
	}
	return true
}

func (h *Handler) actor(c *gin.Context, param string) (string, bool) {
	value := c.Query(param)
	if value == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: fmt.Sprintf("Query parameter %q is required", param),
		})
		return "", false
	}
	return value, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var balanceErr *ledger.InsufficientBalanceError

	switch {
	case errors.As(err, &balanceErr):
		c.JSON(http.StatusUnprocessableEntity, models.ErrorResponse{
			Status:  "error",
			Code:    "INSUFFICIENT_BALANCE",
			Message: balanceErr.Message(),
		})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_AMOUNT",
			Message: "Amount must be a positive number",
		})
	case errors.Is(err, service.ErrInvalidRequest),
		errors.Is(err, ledger.ErrUnknownKind),
		errors.Is(err, authz.ErrInvalidDuration),
		errors.Is(err, authz.ErrInvalidTier),
		errors.Is(err, authz.ErrInvalidPrincipal):
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Status:  "error",
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		})
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Status:  "error",
			Code:    "UNAUTHORIZED",
			Message: "Invalid client credentials",
		})
	case errors.Is(err, authz.ErrUnauthorized):
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Status:  "error",
			Code:    "UNAUTHORIZED",
			Message: "Not authorized",
		})
	case errors.Is(err, authz.ErrGrantorExpired):
		c.JSON(http.StatusForbidden, models.ErrorResponse{
			Status:  "error",
			Code:    "UNAUTHORIZED",
			Message: "Your authorization has expired",
		})
	case errors.Is(err, authz.ErrGrantNotFound), errors.Is(err, repository.ErrNotFound):
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Status:  "error",
			Code:    "NOT_FOUND",
			Message: err.Error(),
		})
	default:
		h.logger.Error("request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Status:  "error",
			Code:    "INTERNAL_ERROR",
			Message: "Internal server error",
		})
	}
}
