package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragserver/internal/rag/interfaces"
	"ragserver/internal/rag/pipeline"
	"ragserver/pkg/errs"
	"ragserver/pkg/logger"
)

const (
	defaultK       = 5
	maxK           = 50
	defaultHistory = 10
)

// HTTPHandler exposes the pipeline, retriever and synthesizer over REST.
type HTTPHandler struct {
	pipeline    *pipeline.Pipeline
	retriever   *pipeline.Retriever
	synthesizer *pipeline.Synthesizer
	history     interfaces.HistoryStore
	defaultK    int
	log         *logger.Logger
}

func NewHTTPHandler(p *pipeline.Pipeline, r *pipeline.Retriever, s *pipeline.Synthesizer, h interfaces.HistoryStore, defaultTopK int, log *logger.Logger) *HTTPHandler {
	if defaultTopK < 1 {
		defaultTopK = defaultK
	}
	return &HTTPHandler{pipeline: p, retriever: r, synthesizer: s, history: h, defaultK: defaultTopK, log: log}
}

type ingestTextRequest struct {
	ID   string `json:"id" binding:"required"`
	Text string `json:"text" binding:"required"`
}

type ingestURLRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *HTTPHandler) ingestText(c *gin.Context) {
	var req ingestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.pipeline.IngestText(c.Request.Context(), req.ID, req.Text)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *HTTPHandler) ingestURL(c *gin.Context) {
	var req ingestURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	summary, err := h.pipeline.IngestURL(c.Request.Context(), req.URL)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (h *HTTPHandler) search(c *gin.Context) {
	q := c.Query("q")
	k := queryInt(c, "k", h.defaultK)
	hits, err := h.retriever.Search(c.Request.Context(), q, k)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(hits), "results": hits})
}

func (h *HTTPHandler) ask(c *gin.Context) {
	q := c.Query("q")
	k := queryInt(c, "k", h.defaultK)
	answer, hits, err := h.synthesizer.Ask(c.Request.Context(), q, k)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"answer":    answer.Text,
		"citations": answer.Citations,
		"sources":   hits,
	})
}

func (h *HTTPHandler) recentHistory(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history store not configured"})
		return
	}
	limit := queryInt(c, "limit", defaultHistory)
	items, err := h.history.Recent(c.Request.Context(), limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": len(items), "items": items})
}

func (h *HTTPHandler) deleteDocument(c *gin.Context) {
	id := c.Param("id")
	removed, err := h.pipeline.DeleteDocument(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "removed_chunks": removed})
}

// fail maps the error taxonomy onto HTTP status codes: caller mistakes are
// 4xx, dependency outages are 502/503, everything else is 500.
func (h *HTTPHandler) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errs.ErrInvalidConfig), errors.Is(err, errs.ErrInvalidQuery):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrFetchFailed), errors.Is(err, errs.ErrNormalizationFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrEmbeddingUnavailable), errors.Is(err, errs.ErrGenerationFailed):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		h.log.WithError(err).Error("request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}
	if v > maxK {
		return maxK
	}
	return v
}
