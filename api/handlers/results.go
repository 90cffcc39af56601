package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/orchestrator"
	"github.com/OldStager01/oke-autoscaler/pkg/database/queries"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
	"github.com/OldStager01/oke-autoscaler/pkg/validation"
)

// PoolManager is the orchestrator surface the API drives.
type PoolManager interface {
	Evaluate(ctx context.Context, poolID string) (*models.TickResult, error)
	LatestResult(poolID string) (*models.TickResult, error)
	GetPoolStatus(poolID string) (bool, error)
	ListPools() []string
	SubscribeAllEvents() <-chan *models.Event
}

type ResultHistory interface {
	Recent(ctx context.Context, poolID string, limit int) ([]queries.TickResultRecord, error)
	CountByKind(ctx context.Context, poolID string, since time.Time) (map[string]int, error)
}

type ResultsHandler struct {
	pools        PoolManager
	history      ResultHistory
	defaultPool  string
	defaultLimit int
	maxLimit     int
}

type ResultsConfig struct {
	DefaultPool  string
	DefaultLimit int
	MaxLimit     int
}

// NewResultsHandler builds the evaluation handlers. history may be nil when
// results are not persisted.
func NewResultsHandler(pools PoolManager, history ResultHistory, cfg ResultsConfig) *ResultsHandler {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	return &ResultsHandler{
		pools:        pools,
		history:      history,
		defaultPool:  cfg.DefaultPool,
		defaultLimit: cfg.DefaultLimit,
		maxLimit:     cfg.MaxLimit,
	}
}

type EvaluateRequest struct {
	PoolID string `json:"pool_id"`
}

type ResultResponse struct {
	PoolID    string             `json:"pool_id"`
	TraceID   string             `json:"trace_id"`
	Timestamp time.Time          `json:"timestamp"`
	Result    *models.TickResult `json:"result"`
}

type PoolStatusResponse struct {
	PoolID  string `json:"pool_id"`
	Running bool   `json:"running"`
}

func (h *ResultsHandler) poolID(c *gin.Context) string {
	if id := c.Query("pool_id"); id != "" {
		return id
	}
	return h.defaultPool
}

// Evaluate runs one tick now and returns its result in the tick's own
// format. Error records are returned with a 5xx status.
func (h *ResultsHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	poolID := validation.SanitizeString(req.PoolID)
	if poolID == "" {
		poolID = h.poolID(c)
	}
	if err := validation.ValidatePoolID(poolID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.pools.Evaluate(c.Request.Context(), poolID)
	switch {
	case errors.Is(err, orchestrator.ErrTickInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, orchestrator.ErrPoolNotManaged):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		logger.FromContext(c.Request.Context()).Errorf("Evaluate failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "evaluation failed"})
		return
	}

	c.JSON(statusFor(result), result)
}

func statusFor(result *models.TickResult) int {
	if !result.IsError() {
		return http.StatusOK
	}
	switch result.Body.Reason {
	case models.ErrorReasonPreconditionViolation, models.ErrorReasonMissingInput:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func (h *ResultsHandler) Latest(c *gin.Context) {
	poolID := h.poolID(c)

	result, err := h.pools.LatestResult(poolID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no evaluation has completed yet"})
		return
	}

	c.JSON(http.StatusOK, ResultResponse{
		PoolID:    result.PoolID,
		TraceID:   result.TraceID,
		Timestamp: result.Timestamp,
		Result:    result,
	})
}

func (h *ResultsHandler) List(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result history is not enabled"})
		return
	}

	limit := h.defaultLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > h.maxLimit {
		limit = h.maxLimit
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	records, err := h.history.Recent(ctx, c.Query("pool_id"), limit)
	if err != nil {
		logger.FromContext(c.Request.Context()).Errorf("Failed to load results: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": records,
		"count":   len(records),
		"limit":   limit,
	})
}

// Summary counts persisted results by kind over ?window= (default 24h).
func (h *ResultsHandler) Summary(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result history is not enabled"})
		return
	}

	window := 24 * time.Hour
	if raw := c.Query("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "window must be a positive duration"})
			return
		}
		window = parsed
	}
	since := time.Now().Add(-window)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	counts, err := h.history.CountByKind(ctx, c.Query("pool_id"), since)
	if err != nil {
		logger.FromContext(c.Request.Context()).Errorf("Failed to summarize results: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to summarize results"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"since":  since.UTC(),
		"counts": counts,
	})
}

func (h *ResultsHandler) Pools(c *gin.Context) {
	ids := h.pools.ListPools()
	pools := make([]PoolStatusResponse, 0, len(ids))
	for _, id := range ids {
		running, err := h.pools.GetPoolStatus(id)
		if err != nil {
			continue
		}
		pools = append(pools, PoolStatusResponse{PoolID: id, Running: running})
	}

	c.JSON(http.StatusOK, gin.H{"pools": pools})
}
