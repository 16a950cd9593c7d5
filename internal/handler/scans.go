package handler

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"marcaje/internal/attendance"
	"marcaje/internal/auth"
	"marcaje/internal/photo"
)

// maxPhotoBytes bounds uploaded photos.
const maxPhotoBytes = 8 << 20

type scanRequest struct {
	UserID string     `json:"user_id" binding:"required"`
	Type   string     `json:"type" binding:"required,oneof=entry exit"`
	At     *time.Time `json:"at"`
}

func deviceID(c *gin.Context) string {
	claims, _ := auth.FromContext(c)
	return claims.Subject
}

// CreateScan records a scan for a user identified by the terminal.
func (h *Handler) CreateScan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	scan := attendance.Scan{
		UserID:   req.UserID,
		Type:     attendance.EventType(req.Type),
		DeviceID: deviceID(c),
	}
	if req.At != nil {
		scan.At = *req.At
	}
	evt, err := h.svc.RegisterScan(c.Request.Context(), scan)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

// CreateFaceScan identifies the user from a photo, then records the scan.
// Multipart fields: photo (file) and type.
func (h *Handler) CreateFaceScan(c *gin.Context) {
	img, filename, err := readPhoto(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	typ := attendance.EventType(c.PostForm("type"))
	if !typ.Valid() {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "type must be one of [entry exit]"})
		return
	}
	evt, err := h.svc.RecognizeScan(c.Request.Context(), img, filename, typ, deviceID(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

// Upload stores an image and returns its public URL.
func (h *Handler) Upload(c *gin.Context) {
	if h.photos == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured"})
		return
	}
	data, filename, err := readPhoto(c)
	if err != nil {
		badRequest(c, err)
		return
	}
	url, err := h.photos.UploadPhoto(c.Request.Context(), data, filename)
	if err != nil {
		writeError(c, fmt.Errorf("%w: %v", attendance.ErrUpstream, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

// readPhoto reads the "photo" multipart file, falling back to "file", and
// normalises it to a bounded JPEG.
func readPhoto(c *gin.Context) ([]byte, string, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxPhotoBytes)
	fh, err := c.FormFile("photo")
	if err != nil {
		fh, err = c.FormFile("file")
	}
	if err != nil {
		return nil, "", fmt.Errorf("photo file is required")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("photo is empty")
	}
	return photo.Normalize(data, fh.Filename)
}
