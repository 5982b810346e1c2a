package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/models"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
)

type LinkHandler struct {
	svc    *dataroom.Service
	logger *zap.Logger
}

func NewLinkHandler(svc *dataroom.Service, logger *zap.Logger) *LinkHandler {
	return &LinkHandler{svc: svc, logger: logger}
}

type createLinkRequest struct {
	DocumentID     *uuid.UUID                `json:"document_id"`
	ExpiresInHours int                       `json:"expires_in_hours"`
	MaxUses        *int                      `json:"max_uses"`
	RequireEmail   bool                      `json:"require_email"`
	AllowedEmails  []string                  `json:"allowed_emails" binding:"omitempty,dive,email"`
	RequirePIN     bool                      `json:"require_pin"`
	PIN            string                    `json:"pin"`
	Permissions    *models.ViewerPermissions `json:"permissions"`
}

// Create handles POST /v1/companies/:companyId/rooms/:roomId/links
func (h *LinkHandler) Create(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	var req createLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	created, err := h.svc.CreateSecureLink(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, dataroom.CreateLinkInput{
		DocumentID:     req.DocumentID,
		ExpiresInHours: req.ExpiresInHours,
		MaxUses:        req.MaxUses,
		RequireEmail:   req.RequireEmail,
		AllowedEmails:  req.AllowedEmails,
		RequirePIN:     req.RequirePIN,
		PIN:            req.PIN,
		Permissions:    req.Permissions,
		RequestMeta:    requestMeta(c),
	})
	if err != nil {
		respondError(c, h.logger, "create link", err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// List handles GET /v1/companies/:companyId/rooms/:roomId/links
func (h *LinkHandler) List(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	links, err := h.svc.ListSecureLinks(c.Request.Context(), middleware.GetTenant(c), companyID, roomID)
	if err != nil {
		respondError(c, h.logger, "list links", err)
		return
	}
	c.JSON(http.StatusOK, links)
}

// Revoke handles DELETE /v1/companies/:companyId/rooms/:roomId/links/:linkId
func (h *LinkHandler) Revoke(c *gin.Context) {
	companyID, roomID, ok := roomParams(c)
	if !ok {
		return
	}
	linkID, ok := uuidParam(c, "linkId")
	if !ok {
		return
	}
	if err := h.svc.RevokeSecureLink(c.Request.Context(), middleware.GetTenant(c), companyID, roomID, linkID, requestMeta(c)); err != nil {
		respondError(c, h.logger, "revoke link", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type redeemRequest struct {
	PIN        string              `json:"pin"`
	Email      string              `json:"email"`
	DocumentID *uuid.UUID          `json:"document_id"`
	Action     models.AccessAction `json:"action"`
	Watermark  *watermark.Options  `json:"watermark"`
}

// Redeem handles POST /share/:token. It is public: the token is the
// credential. Every link failure looks the same from outside, so a caller
// probing tokens learns nothing about why one was refused.
func (h *LinkHandler) Redeem(c *gin.Context) {
	var req redeemRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body")
		return
	}

	grant, err := h.svc.RedeemSecureLink(c.Request.Context(), dataroom.RedeemRequest{
		Token:       c.Param("token"),
		PIN:         req.PIN,
		Email:       req.Email,
		DocumentID:  req.DocumentID,
		Action:      req.Action,
		Watermark:   req.Watermark,
		RequestMeta: requestMeta(c),
	})
	switch {
	case err == nil:
		c.JSON(http.StatusOK, grant)
	case errors.Is(err, dataroom.ErrInvalidInput):
		badRequest(c, err.Error())
	case dataroom.IsLinkFailure(err):
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied"})
	default:
		respondError(c, h.logger, "redeem link", err)
	}
}
