package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"marcaje/internal/attendance"
	"marcaje/internal/auth"
)

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"`
	Role         string `json:"role"`
}

// issue signs a token pair and records the refresh token.
func (h *Handler) issue(c *gin.Context, subject, role string) (tokenResponse, error) {
	pair, err := h.signer.Issue(subject, role)
	if err != nil {
		return tokenResponse{}, err
	}
	if err := h.svc.Repository().SaveRefreshToken(c.Request.Context(), subject, pair.RefreshToken, pair.RefreshExp); err != nil {
		return tokenResponse{}, err
	}
	return tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresAt:    pair.AccessExp.Unix(),
		Role:         role,
	}, nil
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// Login exchanges admin credentials for a token pair.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	admin, err := h.svc.Repository().GetAdminByEmail(c.Request.Context(), strings.ToLower(req.Email))
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		writeError(c, err)
		return
	}
	if err != nil || !auth.CheckPassword(admin.PasswordHash, req.Password) {
		log.Ctx(c.Request.Context()).Warn().Str("email", req.Email).Msg("admin login rejected")
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	resp, err := h.issue(c, admin.ID, auth.RoleAdmin)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// Refresh rotates a refresh token: the presented one is revoked and a new
// pair is issued.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	claims, err := h.signer.Parse(req.RefreshToken, auth.TypeRefresh)
	if err != nil {
		writeError(c, err)
		return
	}
	active, err := h.svc.Repository().RefreshTokenActive(ctx, req.RefreshToken)
	if err != nil {
		writeError(c, err)
		return
	}
	if !active {
		writeError(c, auth.ErrInvalidToken)
		return
	}
	if err := h.svc.Repository().RevokeRefreshToken(ctx, req.RefreshToken); err != nil {
		writeError(c, err)
		return
	}
	resp, err := h.issue(c, claims.Subject, claims.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (h *Handler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	err := h.svc.Repository().RevokeRefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil && !errors.Is(err, attendance.ErrNotFound) {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type deviceRequest struct {
	DeviceID string `json:"device_id" binding:"required"`
}

// RegisterDevice enrols a terminal and hands it device tokens.
func (h *Handler) RegisterDevice(c *gin.Context) {
	var req deviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.RegisterDevice(c.Request.Context(), req.DeviceID); err != nil {
		writeError(c, err)
		return
	}
	resp, err := h.issue(c, req.DeviceID, auth.RoleDevice)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}
