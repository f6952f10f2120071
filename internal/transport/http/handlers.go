package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "intent-trader/internal/errors"
	"intent-trader/internal/models"
	"intent-trader/internal/store"
)

type tradeRequest struct {
	ID             string         `json:"id"`
	Input          string         `json:"input"`
	Context        map[string]any `json:"context"`
	DryRun         bool           `json:"dry_run"`
	SkipValidation bool           `json:"skip_validation"`
	TimeoutMs      int            `json:"timeout_ms"`
}

func (r tradeRequest) toModel() models.TradingRequest {
	return models.TradingRequest{
		ID:      r.ID,
		Input:   strings.TrimSpace(r.Input),
		Context: r.Context,
		Options: models.RequestOptions{
			DryRun:         r.DryRun,
			SkipValidation: r.SkipValidation,
			Timeout:        time.Duration(r.TimeoutMs) * time.Millisecond,
		},
	}
}

type batchRequest struct {
	Requests []tradeRequest `json:"requests"`
}

type resolveRequest struct {
	Input   string         `json:"input"`
	Context map[string]any `json:"context"`
}

type handlers struct {
	cfg ServerConfig
}

func (h *handlers) register(group *gin.RouterGroup) {
	group.POST("/trade", h.handleTrade)
	group.POST("/batch", h.handleBatch)
	group.POST("/resolve", h.handleResolve)
	group.GET("/health", h.handleHealth)
	group.GET("/tiers", h.handleTiers)
	group.GET("/usage", h.handleUsage)
	group.GET("/history", h.handleHistory)
	group.GET("/history/:id", h.handleHistoryByID)
}

func (h *handlers) handleTrade(c *gin.Context) {
	var body tradeRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	req := body.toModel()
	if req.Input == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrEmptyInput.Error()})
		return
	}

	res, err := h.cfg.Trader.Process(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handlers) handleBatch(c *gin.Context) {
	var body batchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if len(body.Requests) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no requests"})
		return
	}
	if len(body.Requests) > h.cfg.MaxBatch {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "batch exceeds " + strconv.Itoa(h.cfg.MaxBatch) + " requests"})
		return
	}

	reqs := make([]models.TradingRequest, len(body.Requests))
	for i, r := range body.Requests {
		reqs[i] = r.toModel()
	}
	results, err := h.cfg.Trader.BatchProcess(c.Request.Context(), reqs)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "results": results})
		return
	}

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "succeeded": succeeded, "failed": len(results) - succeeded})
}

func (h *handlers) handleResolve(c *gin.Context) {
	if h.cfg.Intents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "intent resolution not configured"})
		return
	}
	var body resolveRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	text := strings.TrimSpace(body.Input)
	if text == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": apperrors.ErrEmptyInput.Error()})
		return
	}

	processed, err := h.cfg.Intents.Process(c.Request.Context(), text, body.Context)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, processed)
	case apperrors.IsContractError(err):
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	}
}

func (h *handlers) handleHealth(c *gin.Context) {
	report, components := h.cfg.Trader.HealthDetails(c.Request.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"healthy":    report.Healthy,
		"services":   report.Services,
		"checked_at": report.CheckedAt,
		"components": components,
	})
}

func (h *handlers) handleTiers(c *gin.Context) {
	if h.cfg.Tiers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model tiers not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tiers": h.cfg.Tiers.Tiers()})
}

func (h *handlers) handleUsage(c *gin.Context) {
	if h.cfg.Tiers == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model tiers not configured"})
		return
	}
	c.JSON(http.StatusOK, h.cfg.Tiers.Usage())
}

func (h *handlers) handleHistory(c *gin.Context) {
	if h.cfg.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not enabled"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	filter := store.HistoryFilter{
		Symbol:   strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
		Kind:     models.IntentKind(c.Query("kind")),
		Strategy: models.Strategy(c.Query("strategy")),
		Limit:    limit,
	}
	if s := c.Query("success"); s != "" {
		ok, err := strconv.ParseBool(s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "success must be true or false"})
			return
		}
		filter.Success = &ok
	}
	if s := c.Query("since"); s != "" {
		since, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be RFC3339"})
			return
		}
		filter.Since = since
	}

	results, err := h.cfg.History.History(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if results == nil {
		results = []*models.TradingResult{}
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

func (h *handlers) handleHistoryByID(c *gin.Context) {
	if h.cfg.History == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not enabled"})
		return
	}
	res, err := h.cfg.History.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}
