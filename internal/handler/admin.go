package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"marcaje/internal/attendance"
)

type scheduleRequest struct {
	Name             string `json:"name" binding:"required"`
	EntryTime        string `json:"entry_time" binding:"required,hhmm"`
	ExitTime         string `json:"exit_time" binding:"required,hhmm"`
	ToleranceMinutes *int   `json:"tolerance_minutes" binding:"omitempty,min=0"`
	WorkDays         []int  `json:"work_days" binding:"omitempty,dive,weekday"`
	Active           *bool  `json:"active"`
}

func (r scheduleRequest) schedule(id string) attendance.Schedule {
	s := attendance.Schedule{
		ID:               id,
		Name:             r.Name,
		EntryTime:        r.EntryTime,
		ExitTime:         r.ExitTime,
		ToleranceMinutes: attendance.DefaultToleranceMinutes,
		WorkDays:         r.WorkDays,
		Active:           true,
	}
	if r.ToleranceMinutes != nil {
		s.ToleranceMinutes = *r.ToleranceMinutes
	}
	if r.Active != nil {
		s.Active = *r.Active
	}
	return s
}

func (h *Handler) ListSchedules(c *gin.Context) {
	list, err := h.svc.ListSchedules(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": list})
}

func (h *Handler) GetSchedule(c *gin.Context) {
	s, err := h.svc.GetSchedule(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) CreateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.svc.CreateSchedule(c.Request.Context(), req.schedule(""))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

func (h *Handler) UpdateSchedule(c *gin.Context) {
	var req scheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	s, err := h.svc.UpdateSchedule(c.Request.Context(), req.schedule(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *Handler) DeleteSchedule(c *gin.Context) {
	if err := h.svc.DeleteSchedule(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type establishmentRequest struct {
	Name     string `json:"name" binding:"required"`
	Address  string `json:"address"`
	Timezone string `json:"timezone"`
	Active   *bool  `json:"active"`
}

func (r establishmentRequest) establishment(id string) attendance.Establishment {
	e := attendance.Establishment{ID: id, Name: r.Name, Address: r.Address, Timezone: r.Timezone, Active: true}
	if r.Active != nil {
		e.Active = *r.Active
	}
	return e
}

func (h *Handler) ListEstablishments(c *gin.Context) {
	list, err := h.svc.ListEstablishments(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"establishments": list})
}

func (h *Handler) GetEstablishment(c *gin.Context) {
	e, err := h.svc.GetEstablishment(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) CreateEstablishment(c *gin.Context) {
	var req establishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := h.svc.CreateEstablishment(c.Request.Context(), req.establishment(""))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) UpdateEstablishment(c *gin.Context) {
	var req establishmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	e, err := h.svc.UpdateEstablishment(c.Request.Context(), req.establishment(c.Param("id")))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEstablishment(c *gin.Context) {
	if err := h.svc.DeleteEstablishment(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type userRequest struct {
	Document        string `json:"document" binding:"required"`
	FirstName       string `json:"first_name" binding:"required"`
	LastName        string `json:"last_name"`
	Email           string `json:"email" binding:"omitempty,email"`
	Phone           string `json:"phone"`
	ScheduleID      string `json:"schedule_id"`
	EstablishmentID string `json:"establishment_id"`
	PushToken       string `json:"push_token"`
	Active          *bool  `json:"active"`
}

func (r userRequest) user(id string) attendance.User {
	u := attendance.User{
		ID:              id,
		Document:        r.Document,
		FirstName:       r.FirstName,
		LastName:        r.LastName,
		Email:           r.Email,
		Phone:           r.Phone,
		ScheduleID:      r.ScheduleID,
		EstablishmentID: r.EstablishmentID,
		PushToken:       r.PushToken,
		Active:          true,
	}
	if r.Active != nil {
		u.Active = *r.Active
	}
	return u
}

type userQuery struct {
	EstablishmentID string `form:"establishment_id"`
	ScheduleID      string `form:"schedule_id"`
	Active          bool   `form:"active"`
}

func (h *Handler) ListUsers(c *gin.Context) {
	var q userQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	list, err := h.svc.ListUsers(c.Request.Context(), attendance.UserFilter{
		EstablishmentID: q.EstablishmentID,
		ScheduleID:      q.ScheduleID,
		ActiveOnly:      q.Active,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": list})
}

func (h *Handler) GetUser(c *gin.Context) {
	u, err := h.svc.GetUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) CreateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.CreateUser(c.Request.Context(), req.user(""))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// UpdateUser replaces the editable fields. Face enrolment state is kept.
func (h *Handler) UpdateUser(c *gin.Context) {
	var req userRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	existing, err := h.svc.GetUser(ctx, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	u := req.user(existing.ID)
	u.FaceTrained = existing.FaceTrained
	u.PhotoURL = existing.PhotoURL
	updated, err := h.svc.UpdateUser(ctx, u)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.svc.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EnrollFace stores a reference photo and trains the face service with it.
func (h *Handler) EnrollFace(c *gin.Context) {
	photo, filename, err := readPhoto(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.EnrollFace(c.Request.Context(), c.Param("id"), photo, filename)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
