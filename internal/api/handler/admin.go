package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"jobchommie/listing-service/internal/api/middleware"
	"jobchommie/listing-service/internal/ingest"
	"jobchommie/listing-service/internal/provider"
	"jobchommie/listing-service/internal/scheduler"
)

// TriggerInterval is the minimum spacing between manual triggers.
const TriggerInterval = 30 * time.Second

// Trigger runs one ingestion cycle on demand.
type Trigger interface {
	TriggerNow(ctx context.Context) (ingest.Report, error)
}

// AdminHandler exposes the manual ingestion trigger.
type AdminHandler struct {
	trigger Trigger
	limiter *rate.Limiter
}

func NewAdminHandler(trigger Trigger) *AdminHandler {
	return &AdminHandler{
		trigger: trigger,
		limiter: rate.NewLimiter(rate.Every(TriggerInterval), 1),
	}
}

// TriggerIngest handles POST /api/admin/ingest. The cycle runs synchronously
// and the response carries its report.
func (h *AdminHandler) TriggerIngest(c *gin.Context) {
	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "manual ingestion is rate limited"})
		return
	}

	report, err := h.trigger.TriggerNow(c.Request.Context())
	switch {
	case errors.Is(err, scheduler.ErrCycleInFlight):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, scheduler.ErrStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, provider.ErrFetchFailed):
		middleware.GetLogger(c).Warn("manual ingestion: provider failed", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "report": report})
	case err != nil:
		middleware.GetLogger(c).Error("manual ingestion failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": report})
	default:
		c.JSON(http.StatusAccepted, gin.H{"report": report})
	}
}
