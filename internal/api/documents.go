package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
)

// DocumentHandler serves document registration and the authenticated
// access gateway.
type DocumentHandler struct {
	svc    *dataroom.Service
	logger *zap.Logger
}

func NewDocumentHandler(svc *dataroom.Service, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{svc: svc, logger: logger}
}

type registerDocumentRequest struct {
	Name               string      `json:"name" binding:"required"`
	MimeType           string      `json:"mime_type" binding:"required"`
	FileSize           int64       `json:"file_size"`
	DownloadOverride   *bool       `json:"download_override"`
	ViewerRestrictions []uuid.UUID `json:"viewer_restrictions"`
	FolderRestrictions []string    `json:"folder_restrictions"`
}

// Register handles POST /v1/companies/:companyId/rooms/:roomId/documents
func (h *DocumentHandler) Register(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	var req registerDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	upload, err := h.svc.RegisterDocument(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, dataroom.RegisterDocumentInput{
		Name:               req.Name,
		MimeType:           req.MimeType,
		FileSize:           req.FileSize,
		DownloadOverride:   req.DownloadOverride,
		ViewerRestrictions: req.ViewerRestrictions,
		FolderRestrictions: req.FolderRestrictions,
		RequestMeta:        requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, "register document", err)
		return
	}
	c.JSON(http.StatusCreated, upload)
}

// List handles GET /v1/companies/:companyId/rooms/:roomId/documents
func (h *DocumentHandler) List(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	docs, err := h.svc.ListDocuments(c.Request.Context(), middleware.GetTenant(c), companyID, roomID)
	if err != nil {
		respondError(c, h.logger, "list documents", err)
		return
	}
	c.JSON(http.StatusOK, docs)
}

// Delete handles DELETE /v1/companies/:companyId/rooms/:roomId/documents/:documentId
func (h *DocumentHandler) Delete(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	documentID, ok := uuidParam(c, "documentId")
	if !ok {
		return
	}
	if err := h.svc.DeleteDocument(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, documentID, requestMeta(c)); err != nil {
		respondError(c, h.logger, "delete document", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type accessRequest struct {
	Action    models.AccessAction `json:"action" binding:"required"`
	Watermark *watermark.Options  `json:"watermark"`
}

// Access handles POST /v1/companies/:companyId/rooms/:roomId/documents/:documentId/access
func (h *DocumentHandler) Access(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	documentID, ok := uuidParam(c, "documentId")
	if !ok {
		return
	}
	var req accessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx, tc := c.Request.Context(), middleware.GetTenant(c)
	in := dataroom.AccessRequest{DocumentID: documentID, Watermark: req.Watermark, RequestMeta: requestMeta(c)}

	var (
		grant *dataroom.AccessGrant
		err   error
	)
	switch req.Action {
	case models.ActionView:
		grant, err = h.svc.GetSecureViewURL(ctx, tc, companyID, roomID, in)
	case models.ActionPreview:
		grant, err = h.svc.GetSecurePreviewURL(ctx, tc, companyID, roomID, in)
	case models.ActionDownload:
		grant, err = h.svc.GetSecureDownloadURL(ctx, tc, companyID, roomID, in)
	case models.ActionPrint:
		grant, err = h.svc.AuthorizePrint(ctx, tc, companyID, roomID, in)
	default:
		badRequest(c, "action must be one of view, preview, download, print")
		return
	}
	if err != nil {
		respondError(c, h.logger, "document access", err)
		return
	}
	c.JSON(http.StatusOK, grant)
}

type verifyRequest struct {
	TrackingCode string `json:"tracking_code" binding:"required"`
}

// Watermarks handles GET .../documents/:documentId/watermarks
func (h *DocumentHandler) Watermarks(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	documentID, ok := uuidParam(c, "documentId")
	if !ok {
		return
	}

	records, err := h.svc.ListWatermarks(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, documentID)
	if err != nil {
		respondError(c, h.logger, "list watermarks", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

// VerifyWatermark handles POST .../documents/:documentId/watermarks/verify
func (h *DocumentHandler) VerifyWatermark(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	documentID, ok := uuidParam(c, "documentId")
	if !ok {
		return
	}
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	rec, err := h.svc.VerifyTrackingCode(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, documentID, req.TrackingCode)
	if err != nil {
		respondError(c, h.logger, "verify watermark", err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
