package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"marcaje/internal/attendance"
)

// ErrNoFace is returned when the service found no face in the photo.
var ErrNoFace = errors.New("no face detected in image")

// Client calls the face recognition microservice.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits every call with deterministic mock answers.
	Skip bool
	// MockUserID is the identity Recognize reports in skip mode. Empty
	// means skip mode recognizes nobody.
	MockUserID string

	cb *gobreaker.CircuitBreaker
}

// New creates a client with configurable timeout.
func New(baseURL string, skip bool, mockUserID string) *Client {
	return &Client{
		BaseURL:    baseURL,
		Skip:       skip,
		MockUserID: mockUserID,
		HTTP: &http.Client{
			Timeout: 30 * time.Second, // Face processing can take time
		},
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "face-service",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     20 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// A photo without a face is a client problem, not an outage.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNoFace)
			},
		}),
	}
}

type recognizeResponse struct {
	Matched    bool    `json:"matched"`
	UserID     string  `json:"user_id"`
	Confidence float64 `json:"confidence"`
}

// Recognize identifies the person in photo against the enrolled gallery.
// The service answers 422 when it cannot find a face.
func (c *Client) Recognize(ctx context.Context, photo []byte, filename string) (attendance.FaceMatch, error) {
	if c.Skip {
		if c.MockUserID == "" {
			return attendance.FaceMatch{}, nil
		}
		return attendance.FaceMatch{Matched: true, UserID: c.MockUserID, Confidence: 0.95}, nil
	}
	if len(photo) == 0 {
		return attendance.FaceMatch{}, fmt.Errorf("photo required")
	}

	// No face in the photo is an unmatched scan, not a service failure.
	var out recognizeResponse
	err := c.call(ctx, "/recognize", photo, filename, nil, &out)
	if errors.Is(err, ErrNoFace) {
		return attendance.FaceMatch{}, nil
	}
	if err != nil {
		return attendance.FaceMatch{}, err
	}
	return attendance.FaceMatch{Matched: out.Matched, UserID: out.UserID, Confidence: out.Confidence}, nil
}

// Enroll adds photo to the gallery under userID.
func (c *Client) Enroll(ctx context.Context, userID string, photo []byte, filename string) error {
	if c.Skip {
		return nil
	}
	var out struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	if err := c.call(ctx, "/enroll", photo, filename, map[string]string{"user_id": userID}, &out); err != nil {
		return err
	}
	if !out.Success {
		if out.Message == "" {
			return ErrNoFace
		}
		return fmt.Errorf("enroll rejected: %s", out.Message)
	}
	return nil
}

// Health checks if the face service is available.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("face service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("face service unhealthy: %s", resp.Status)
	}
	return nil
}

func (c *Client) call(ctx context.Context, path string, photo []byte, filename string, fields map[string]string, out any) error {
	if filename == "" {
		filename = "photo.jpg"
	}
	_, err := c.cb.Execute(func() (any, error) {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for k, v := range fields {
			_ = w.WriteField(k, v)
		}
		part, err := w.CreateFormFile("file", filename)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write(photo); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, &buf)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", w.FormDataContentType())

		resp, err := c.HTTP.Do(req)
		if err != nil {
			return nil, fmt.Errorf("face service request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusUnprocessableEntity {
			return nil, ErrNoFace
		}
		if resp.StatusCode >= 300 {
			bodyBytes, _ := io.ReadAll(resp.Body)
			return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(bodyBytes))
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		return nil, nil
	})
	return err
}
