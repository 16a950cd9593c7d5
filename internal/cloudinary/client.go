package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.cloudinary.com/v1_1"

// Client uploads images to Cloudinary using their REST API.
type Client struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	BaseURL   string
	HTTP      *http.Client

	now func() time.Time
}

// New creates a Cloudinary client.
func New(cloudName, apiKey, apiSecret, folder string) *Client {
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		BaseURL:   defaultBaseURL,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// UploadResult holds the response from Cloudinary after a successful upload.
type UploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
	URL       string `json:"url"`
	Format    string `json:"format"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Bytes     int    `json:"bytes"`
}

// UploadPhoto uploads raw image bytes and returns the HTTPS URL.
func (c *Client) UploadPhoto(ctx context.Context, data []byte, filename string) (string, error) {
	res, err := c.UploadBytes(ctx, data, filename)
	if err != nil {
		return "", err
	}
	return res.SecureURL, nil
}

// UploadBytes uploads raw image bytes to Cloudinary.
func (c *Client) UploadBytes(ctx context.Context, data []byte, filename string) (*UploadResult, error) {
	if filename == "" {
		filename = "photo.jpg"
	}
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range c.signedParams() {
		_ = w.WriteField(k, v)
	}
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create form file failed: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("cloudinary: write file failed: %w", err)
	}
	w.Close()
	return c.post(ctx, &buf, w.FormDataContentType())
}

func (c *Client) signedParams() map[string]string {
	params := map[string]string{
		"timestamp": strconv.FormatInt(c.now().Unix(), 10),
		"api_key":   c.APIKey,
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)
	return params
}

func (c *Client) post(ctx context.Context, body io.Reader, contentType string) (*UploadResult, error) {
	url := fmt.Sprintf("%s/%s/image/upload", c.BaseURL, c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cloudinary: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("cloudinary: upload failed (%d): %s", resp.StatusCode, string(raw))
	}

	var result UploadResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("cloudinary: decode response failed: %w", err)
	}
	return &result, nil
}

// sign computes the API signature: sorted key=value pairs joined by '&'
// with the secret appended. api_key and file are not signed.
func (c *Client) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	h := sha1.New()
	h.Write([]byte(strings.Join(pairs, "&") + c.APISecret))
	return fmt.Sprintf("%x", h.Sum(nil))
}
