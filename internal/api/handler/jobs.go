package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"jobchommie/listing-service/internal/api/middleware"
	"jobchommie/listing-service/internal/model"
	"jobchommie/listing-service/internal/store"
)

// JobsHandler serves the public listing and run-ledger endpoints.
type JobsHandler struct {
	reader store.Reader
}

func NewJobsHandler(reader store.Reader) *JobsHandler {
	return &JobsHandler{reader: reader}
}

type listingsResponse struct {
	Data  []model.Listing `json:"data"`
	Total int             `json:"total"`
	Page  int             `json:"page"`
}

// ListJobs handles GET /api/jobs?q=&page=&limit=.
func (h *JobsHandler) ListJobs(c *gin.Context) {
	page, err := positiveQueryInt(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit, err := limitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !pageInRange(page, limit) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "page is out of range"})
		return
	}

	result, err := h.reader.ListListings(c.Request.Context(), model.ListingQuery{
		Text:  c.Query("q"),
		Page:  page,
		Limit: limit,
	})
	if err != nil {
		middleware.GetLogger(c).Error("list jobs failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list jobs"})
		return
	}

	items := result.Items
	if items == nil {
		items = []model.Listing{}
	}
	c.JSON(http.StatusOK, listingsResponse{Data: items, Total: result.Total, Page: page})
}

// ListRuns handles GET /api/runs?limit=.
func (h *JobsHandler) ListRuns(c *gin.Context) {
	limit, err := limitParam(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runs, err := h.reader.ListRuns(c.Request.Context(), limit)
	if err != nil {
		middleware.GetLogger(c).Error("list runs failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs"})
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}
