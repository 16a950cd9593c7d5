package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	s := NewSigner("secret", "marcaje", time.Minute, time.Hour)
	pair, err := s.Issue("kiosk-1", RoleDevice)
	require.NoError(t, err)

	claims, err := s.Parse(pair.AccessToken, TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, "kiosk-1", claims.Subject)
	assert.Equal(t, RoleDevice, claims.Role)

	_, err = s.Parse(pair.RefreshToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = s.Parse(pair.RefreshToken, TypeRefresh)
	assert.NoError(t, err)

	other := NewSigner("secret", "someone-else", time.Minute, time.Hour)
	_, err = other.Parse(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongKey := NewSigner("other", "marcaje", time.Minute, time.Hour)
	_, err = wrongKey.Parse(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseExpired(t *testing.T) {
	s := NewSigner("secret", "marcaje", time.Minute, time.Hour)
	issued := time.Now().Add(-2 * time.Hour)
	s.now = func() time.Time { return issued }
	pair, err := s.Issue("admin@x", RoleAdmin)
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Parse(pair.AccessToken, TypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequire(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("secret", "marcaje", time.Minute, time.Hour)
	r := gin.New()
	r.GET("/admin", Require(s, RoleAdmin), func(c *gin.Context) {
		claims, ok := FromContext(c)
		require.True(t, ok)
		c.String(http.StatusOK, claims.Subject)
	})

	do := func(header string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusUnauthorized, do("").Code)
	assert.Equal(t, http.StatusUnauthorized, do("Bearer garbage").Code)

	device, _ := s.Issue("kiosk", RoleDevice)
	assert.Equal(t, http.StatusForbidden, do("Bearer "+device.AccessToken).Code)

	admin, _ := s.Issue("boss@example.com", RoleAdmin)
	w := do("bearer " + admin.AccessToken)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "boss@example.com", w.Body.String())
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "hunter2"))
	assert.False(t, CheckPassword(hash, "hunter3"))
}
