package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/models"
	"go.uber.org/zap"
)

type ViewerHandler struct {
	svc    *dataroom.Service
	logger *zap.Logger
}

func NewViewerHandler(svc *dataroom.Service, logger *zap.Logger) *ViewerHandler {
	return &ViewerHandler{svc: svc, logger: logger}
}

type addViewerRequest struct {
	Email       string                    `json:"email" binding:"required,email"`
	Name        string                    `json:"name"`
	Company     string                    `json:"company"`
	Role        models.ViewerRole         `json:"role"`
	Permissions *models.ViewerPermissions `json:"permissions"`
}

// Add handles POST /v1/companies/:companyId/rooms/:roomId/viewers
func (h *ViewerHandler) Add(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	var req addViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	viewer, err := h.svc.AddViewer(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, dataroom.AddViewerInput{
		Email:       req.Email,
		Name:        req.Name,
		Company:     req.Company,
		Role:        req.Role,
		Permissions: req.Permissions,
		RequestMeta: requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, "add viewer", err)
		return
	}
	c.JSON(http.StatusCreated, viewer)
}

// List handles GET /v1/companies/:companyId/rooms/:roomId/viewers
func (h *ViewerHandler) List(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	viewers, err := h.svc.ListViewers(c.Request.Context(), middleware.GetTenant(c), companyID, roomID)
	if err != nil {
		respondError(c, h.logger, "list viewers", err)
		return
	}
	c.JSON(http.StatusOK, viewers)
}

type updateViewerRequest struct {
	Role        *models.ViewerRole        `json:"role"`
	Permissions *models.ViewerPermissions `json:"permissions" binding:"required"`
}

// Update handles PATCH /v1/companies/:companyId/rooms/:roomId/viewers/:viewerId
func (h *ViewerHandler) Update(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	viewerID, ok := uuidParam(c, "viewerId")
	if !ok {
		return
	}
	var req updateViewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	viewer, err := h.svc.UpdateViewerPermissions(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, viewerID, dataroom.PermissionUpdate{
		Role:        req.Role,
		Permissions: *req.Permissions,
		RequestMeta: requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, "update viewer", err)
		return
	}
	c.JSON(http.StatusOK, viewer)
}

// Revoke handles DELETE /v1/companies/:companyId/rooms/:roomId/viewers/:viewerId
func (h *ViewerHandler) Revoke(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	viewerID, ok := uuidParam(c, "viewerId")
	if !ok {
		return
	}
	if err := h.svc.RevokeViewer(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, viewerID, requestMeta(c)); err != nil {
		respondError(c, h.logger, "revoke viewer", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AcceptNDA handles POST /v1/companies/:companyId/rooms/:roomId/nda
func (h *ViewerHandler) AcceptNDA(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	viewer, err := h.svc.AcceptNDA(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, requestMeta(c))
	if err != nil {
		respondError(c, h.logger, "accept nda", err)
		return
	}
	c.JSON(http.StatusOK, viewer)
}
