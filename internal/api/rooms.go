package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/models"
	"go.uber.org/zap"
)

// RoomHandler serves room lifecycle requests.
type RoomHandler struct {
	svc    *dataroom.Service
	logger *zap.Logger
}

func NewRoomHandler(svc *dataroom.Service, logger *zap.Logger) *RoomHandler {
	return &RoomHandler{svc: svc, logger: logger}
}

type createRoomRequest struct {
	Name     string               `json:"name" binding:"required"`
	Type     models.RoomType      `json:"type"`
	Settings *models.RoomSettings `json:"settings"`
}

// Create handles POST /v1/companies/:companyId/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	companyID, ok := uuidParam(c, "companyId")
	if !ok {
		return
	}
	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.svc.CreateRoom(c.Request.Context(), middleware.GetTenant(c), companyID, dataroom.CreateRoomInput{
		Name:     req.Name,
		Type:     req.Type,
		Settings: req.Settings,
	})
	if err != nil {
		respondError(c, h.logger, "create room", err)
		return
	}
	c.JSON(http.StatusCreated, room)
}

// List handles GET /v1/companies/:companyId/rooms
func (h *RoomHandler) List(c *gin.Context) {
	companyID, ok := uuidParam(c, "companyId")
	if !ok {
		return
	}
	rooms, err := h.svc.ListRoomsForCompany(c.Request.Context(), middleware.GetTenant(c), companyID)
	if err != nil {
		respondError(c, h.logger, "list rooms", err)
		return
	}
	c.JSON(http.StatusOK, rooms)
}

// Get handles GET /v1/companies/:companyId/rooms/:roomId
func (h *RoomHandler) Get(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	room, err := h.svc.GetRoom(c.Request.Context(), middleware.GetTenant(c), companyID, roomID)
	if err != nil {
		respondError(c, h.logger, "get room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

type updateRoomRequest struct {
	Name                 *string    `json:"name"`
	WatermarkEnabled     *bool      `json:"watermark_enabled"`
	DownloadEnabled      *bool      `json:"download_enabled"`
	PrintEnabled         *bool      `json:"print_enabled"`
	CopyEnabled          *bool      `json:"copy_enabled"`
	ScreenshotProtection *bool      `json:"screenshot_protection"`
	NDARequired          *bool      `json:"nda_required"`
	ExpiresAt            *time.Time `json:"expires_at"`
	ClearExpiry          bool       `json:"clear_expiry"`
}

// Update handles PATCH /v1/companies/:companyId/rooms/:roomId
func (h *RoomHandler) Update(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	var req updateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	room, err := h.svc.UpdateRoomSettings(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, dataroom.RoomUpdate{
		Name:                 req.Name,
		WatermarkEnabled:     req.WatermarkEnabled,
		DownloadEnabled:      req.DownloadEnabled,
		PrintEnabled:         req.PrintEnabled,
		CopyEnabled:          req.CopyEnabled,
		ScreenshotProtection: req.ScreenshotProtection,
		NDARequired:          req.NDARequired,
		ExpiresAt:            req.ExpiresAt,
		ClearExpiry:          req.ClearExpiry,
		RequestMeta:          requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, "update room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Archive handles POST /v1/companies/:companyId/rooms/:roomId/archive
func (h *RoomHandler) Archive(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	if err := h.svc.ArchiveRoom(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, requestMeta(c)); err != nil {
		respondError(c, h.logger, "archive room", err)
		return
	}
	c.Status(http.StatusNoContent)
}
