package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"marcaje/internal/attendance"
	"marcaje/internal/export"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type eventQuery struct {
	UserID          string `form:"user_id"`
	EstablishmentID string `form:"establishment_id"`
	DeviceID        string `form:"device_id"`
	Type            string `form:"type" binding:"omitempty,oneof=entry exit"`
	Status          string `form:"status" binding:"omitempty,oneof=on-time late early"`
	From            string `form:"from" binding:"omitempty,datetime=2006-01-02"`
	To              string `form:"to" binding:"omitempty,datetime=2006-01-02"`
	Limit           int    `form:"limit" binding:"omitempty,min=1"`
	Offset          int    `form:"offset" binding:"omitempty,min=0"`
}

func (q eventQuery) filter() attendance.EventFilter {
	limit := q.Limit
	if limit == 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return attendance.EventFilter{
		UserID:          q.UserID,
		EstablishmentID: q.EstablishmentID,
		DeviceID:        q.DeviceID,
		Type:            attendance.EventType(q.Type),
		Status:          attendance.Status(q.Status),
		From:            q.From,
		To:              q.To,
		Limit:           limit,
		Offset:          q.Offset,
	}
}

func bindEventQuery(c *gin.Context) (attendance.EventFilter, bool) {
	var q eventQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return attendance.EventFilter{}, false
	}
	return q.filter(), true
}

func (h *Handler) ListEvents(c *gin.Context) {
	f, ok := bindEventQuery(c)
	if !ok {
		return
	}
	events, err := h.svc.ListEvents(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events, "limit": f.Limit, "offset": f.Offset})
}

func (h *Handler) GetEvent(c *gin.Context) {
	evt, err := h.svc.GetEvent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// Stats aggregates every event matching the query; paging is ignored.
func (h *Handler) Stats(c *gin.Context) {
	f, ok := bindEventQuery(c)
	if !ok {
		return
	}
	st, err := h.svc.Stats(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

type absenceQuery struct {
	Date string `form:"date" binding:"omitempty,datetime=2006-01-02"`
}

// Absences lists users expected on the date (default today) with no entry.
func (h *Handler) Absences(c *gin.Context) {
	var q absenceQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if q.Date == "" {
		q.Date = h.svc.Today()
	}
	users, err := h.svc.AbsentUsers(c.Request.Context(), q.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"date": q.Date, "users": users})
}

// EventsReport streams the matching events as an Excel workbook.
func (h *Handler) EventsReport(c *gin.Context) {
	f, ok := bindEventQuery(c)
	if !ok {
		return
	}
	f.Limit, f.Offset = 0, 0
	ctx := c.Request.Context()
	events, err := h.svc.ListEvents(ctx, f)
	if err != nil {
		writeError(c, err)
		return
	}
	users, err := h.svc.ListUsers(ctx, attendance.UserFilter{})
	if err != nil {
		writeError(c, err)
		return
	}
	byID := make(map[string]attendance.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	name := "marcajes.xlsx"
	if f.From != "" || f.To != "" {
		name = fmt.Sprintf("marcajes_%s_%s.xlsx", f.From, f.To)
	}
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Status(http.StatusOK)
	if err := export.WriteEvents(c.Writer, events, byID); err != nil {
		_ = c.Error(err)
	}
}
