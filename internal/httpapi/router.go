package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"faqrag/internal/domain"
	"faqrag/internal/service"
)

// Service is the set of operations exposed over HTTP.
type Service interface {
	AnswerQuestion(ctx context.Context, question string, useAdaptor bool) (domain.QueryResponse, error)
	SubmitFeedback(ctx context.Context, req service.FeedbackRequest) (service.FeedbackResult, error)
	Stats(ctx context.Context) (domain.FeedbackStats, error)
	TriggerTraining(epochs int) bool
	Reindex(ctx context.Context) (int, error)
	Health(ctx context.Context) (domain.Health, error)
}

type Handler struct {
	svc           Service
	defaultEpochs int
	logger        *zap.Logger
}

// NewRouter wires the routes onto a fresh gin engine. defaultEpochs is
// reported by /admin/train when the request names none.
func NewRouter(svc Service, defaultEpochs int, logger *zap.Logger) *gin.Engine {
	h := &Handler{svc: svc, defaultEpochs: defaultEpochs, logger: logger}
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.POST("/ask", h.Ask)
	r.POST("/feedback", h.Feedback)
	r.GET("/stats", h.Stats)
	r.POST("/admin/train", h.Train)
	r.POST("/admin/reindex", h.Reindex)
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

type askRequest struct {
	Question   string `json:"question"`
	UseAdaptor *bool  `json:"use_adaptor"`
}

func (h *Handler) Ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	useAdaptor := true
	if req.UseAdaptor != nil {
		useAdaptor = *req.UseAdaptor
	}
	resp, err := h.svc.AnswerQuestion(c.Request.Context(), req.Question, useAdaptor)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type feedbackRequest struct {
	QueryID  string          `json:"query_id"`
	Rating   json.RawMessage `json:"rating"`
	Comment  string          `json:"comment"`
	Sources  []string        `json:"sources"`
	Question string          `json:"question"`
}

func (h *Handler) Feedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.QueryID == "" || len(req.Rating) == 0 || string(req.Rating) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query_id and rating are required"})
		return
	}
	// only integral JSON numbers are ratings: 4.0 and "4" are rejected
	rating, err := strconv.Atoi(strings.TrimSpace(string(req.Rating)))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be an integer between 1 and 5"})
		return
	}
	res, err := h.svc.SubmitFeedback(c.Request.Context(), service.FeedbackRequest{
		QueryID:  req.QueryID,
		Rating:   rating,
		Comment:  req.Comment,
		Sources:  req.Sources,
		Question: req.Question,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":          "Feedback stored successfully",
		"feedback_id":      res.FeedbackID,
		"trigger_training": res.TriggerTraining,
		"training_started": res.TrainingStarted,
	})
}

func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

type trainRequest struct {
	NumEpochs int `json:"num_epochs"`
}

func (h *Handler) Train(c *gin.Context) {
	var req trainRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}
	if req.NumEpochs < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "num_epochs must be positive"})
		return
	}
	started := h.svc.TriggerTraining(req.NumEpochs)
	epochs := req.NumEpochs
	if epochs == 0 {
		epochs = h.defaultEpochs
	}
	msg := "Training started in background"
	if !started {
		msg = "Training already in progress"
	}
	c.JSON(http.StatusAccepted, gin.H{"message": msg, "started": started, "num_epochs": epochs})
}

func (h *Handler) Reindex(c *gin.Context) {
	n, err := h.svc.Reindex(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Documents reindexed successfully", "document_count": n})
}

func (h *Handler) Health(c *gin.Context) {
	health, err := h.svc.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error(), "components": health})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "components": health})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
