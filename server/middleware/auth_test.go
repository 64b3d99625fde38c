package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voxlane/voxlane/auth"
)

func TestRequirePermissionPassesKeyInfo(t *testing.T) {
	svc := auth.NewService(auth.NewMemoryStorage())
	info, err := svc.CreateKey(context.Background(), "ctx-key",
		[]auth.Permission{auth.PermissionTranscribe}, auth.DefaultRateLimit(), nil)
	require.NoError(t, err)

	var got *auth.ApiKeyInfo
	handler := RequirePermission(svc, auth.PermissionTranscribe, func(w http.ResponseWriter, r *http.Request) {
		got = KeyInfoFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+info.Key)
	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got)
	assert.Equal(t, "ctx-key", got.Name)
	assert.Equal(t, info.Key, got.Key)
}

func TestRequirePermissionRefusals(t *testing.T) {
	svc := auth.NewService(auth.NewMemoryStorage())
	info, err := svc.CreateKey(context.Background(), "admin-only",
		[]auth.Permission{auth.PermissionAdmin}, auth.DefaultRateLimit(), nil)
	require.NoError(t, err)

	handler := RequirePermission(svc, auth.PermissionTranscribe, func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run")
	})

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+info.Key)
	rec = httptest.NewRecorder()
	handler(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestKeyInfoFromContextOutsideAuth(t *testing.T) {
	assert.Nil(t, KeyInfoFromContext(context.Background()))
}
