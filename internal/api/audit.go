package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/feed"
	"github.com/lalith-99/dataroom/internal/middleware"
	"go.uber.org/zap"
)

// AuditHandler serves the access-log query and the live feed.
type AuditHandler struct {
	svc    *dataroom.Service
	feed   *feed.Handler
	logger *zap.Logger
}

// NewAuditHandler builds an AuditHandler. live may be nil, in which case
// the feed endpoint answers 503.
func NewAuditHandler(svc *dataroom.Service, live *feed.Handler, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{svc: svc, feed: live, logger: logger}
}

// Logs handles GET /v1/companies/:companyId/rooms/:roomId/access-logs
func (h *AuditHandler) Logs(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}

	var f dataroom.AccessLogFilter
	if raw := c.Query("documentId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			badRequest(c, "invalid documentId")
			return
		}
		f.DocumentID = &id
	}
	f.ViewerID = c.Query("viewerId")
	f.Cursor = c.Query("cursor")

	for param, dst := range map[string]**time.Time{"startDate": &f.StartDate, "endDate": &f.EndDate} {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "invalid "+param+", expected RFC 3339")
			return
		}
		*dst = &t
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "invalid limit")
			return
		}
		f.Limit = n
	}

	page, err := h.svc.GetAccessLogs(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, f)
	if err != nil {
		respondError(c, h.logger, "query access logs", err)
		return
	}
	c.JSON(http.StatusOK, page)
}

// Feed handles GET /v1/companies/:companyId/rooms/:roomId/feed, upgrading
// to a WebSocket once the caller is known to manage the room.
func (h *AuditHandler) Feed(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	if err := h.svc.AuthorizeFeed(c.Request.Context(), middleware.GetTenant(c), companyID, roomID); err != nil {
		respondError(c, h.logger, "open feed", err)
		return
	}
	if h.feed == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "live feed disabled"})
		return
	}
	h.feed.Serve(c.Writer, c.Request, roomID)
}
