// Package handler exposes the attendance service over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"marcaje/internal/attendance"
	"marcaje/internal/auth"
	"marcaje/internal/cache"
)

// HealthCheck is one dependency reported by /healthz.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler holds the collaborators of every route.
type Handler struct {
	svc    *attendance.Service
	signer *auth.Signer
	cache  *cache.Cache
	// photos is nil when image storage is not configured.
	photos attendance.PhotoStore
	checks []HealthCheck
}

func New(svc *attendance.Service, signer *auth.Signer, c *cache.Cache, photos attendance.PhotoStore, checks ...HealthCheck) *Handler {
	return &Handler{svc: svc, signer: signer, cache: c, photos: photos, checks: checks}
}

// Register mounts every route on r.
func (h *Handler) Register(r *gin.Engine) {
	registerValidators()

	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")
	v1.POST("/auth/login", h.Login)
	v1.POST("/auth/refresh", h.Refresh)
	v1.POST("/auth/logout", h.Logout)
	v1.POST("/devices/register", h.RegisterDevice)

	device := v1.Group("", auth.Require(h.signer, auth.RoleDevice), h.cache.InvalidateOnWrite())
	device.POST("/scans", h.CreateScan)
	device.POST("/scans/face", h.CreateFaceScan)
	device.POST("/upload", h.Upload)

	admin := v1.Group("", auth.Require(h.signer, auth.RoleAdmin), h.cache.InvalidateOnWrite())
	cached := h.cache.Middleware()
	admin.GET("/events", cached, h.ListEvents)
	admin.GET("/events/:id", h.GetEvent)
	admin.GET("/stats", cached, h.Stats)
	admin.GET("/absences", h.Absences)
	admin.GET("/reports/events.xlsx", h.EventsReport)

	admin.GET("/schedules", cached, h.ListSchedules)
	admin.GET("/schedules/:id", h.GetSchedule)
	admin.POST("/schedules", h.CreateSchedule)
	admin.PUT("/schedules/:id", h.UpdateSchedule)
	admin.DELETE("/schedules/:id", h.DeleteSchedule)

	admin.GET("/establishments", cached, h.ListEstablishments)
	admin.GET("/establishments/:id", h.GetEstablishment)
	admin.POST("/establishments", h.CreateEstablishment)
	admin.PUT("/establishments/:id", h.UpdateEstablishment)
	admin.DELETE("/establishments/:id", h.DeleteEstablishment)

	admin.GET("/users", cached, h.ListUsers)
	admin.GET("/users/:id", h.GetUser)
	admin.POST("/users", h.CreateUser)
	admin.PUT("/users/:id", h.UpdateUser)
	admin.DELETE("/users/:id", h.DeleteUser)
	admin.POST("/users/:id/face", h.EnrollFace)
}

// Healthz pings the repository and every extra dependency.
func (h *Handler) Healthz(c *gin.Context) {
	ctx := c.Request.Context()
	status := http.StatusOK
	deps := gin.H{"db": true}
	if err := h.svc.Repository().Ping(ctx); err != nil {
		deps["db"] = false
		status = http.StatusServiceUnavailable
	}
	for _, chk := range h.checks {
		ok := chk.Check(ctx) == nil
		deps[chk.Name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "deps": deps})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, attendance.ErrInvalidScan), errors.Is(err, attendance.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, attendance.ErrNotRecognized), errors.Is(err, auth.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, attendance.ErrUserInactive):
		return http.StatusForbidden
	case errors.Is(err, attendance.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, attendance.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, attendance.ErrNoActiveSchedule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, attendance.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		log.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "internal error"
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": bindMessage(err)})
}

func bearer(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
