package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentra-io/devicetrust/internal/fingerprint"
	"github.com/sentra-io/devicetrust/internal/middleware"
	"github.com/sentra-io/devicetrust/internal/service"
)

const testSigningKey = "test-admin-signing-key"

func adminRouter(svc *service.SecurityService) http.Handler {
	admin := NewAdminHandler(svc)
	r := chi.NewRouter()
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(middleware.AdminAuth(testSigningKey))
		r.Post("/unblock", admin.Unblock)
		r.Get("/devices/{fingerprintID}", admin.Device)
		r.Get("/devices/{fingerprintID}/events", admin.Events)
	})
	return r
}

func adminToken(t *testing.T, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  "ops@example.com",
		"role": role,
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return signed
}

func blockedDevice(t *testing.T, svc *service.SecurityService) string {
	t.Helper()
	dec, err := svc.Evaluate(context.Background(), "bot@example.com", fingerprint.SignalSet{
		UserAgent:    "Mozilla/5.0 PhantomJS/2.1.1",
		Language:     "en-US",
		Languages:    []string{"en-US"},
		ScreenWidth:  1024,
		ScreenHeight: 768,
		ColorDepth:   24,
		Webdriver:    true,
	}, "")
	require.NoError(t, err)
	require.False(t, dec.Allowed)
	return dec.FingerprintID
}

func TestAdminRequiresToken(t *testing.T) {
	router := adminRouter(newService())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/unblock", bytes.NewReader([]byte("{}")))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/unblock", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer not-a-token")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRequiresAdminRole(t *testing.T) {
	router := adminRouter(newService())

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/unblock", bytes.NewReader([]byte("{}")))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "viewer"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestAdminUnblock(t *testing.T) {
	svc := newService()
	router := adminRouter(svc)
	fingerprintID := blockedDevice(t, svc)

	body, err := json.Marshal(map[string]string{"fingerprint_id": fingerprintID})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/v1/admin/unblock", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	rec, err := svc.Status(context.Background(), fingerprintID)
	require.NoError(t, err)
	assert.False(t, rec.IsBlocked)

	// Idempotent.
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/unblock", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAdminDeviceAndEvents(t *testing.T) {
	svc := newService()
	router := adminRouter(svc)
	fingerprintID := blockedDevice(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/devices/"+fingerprintID, nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/admin/devices/"+fingerprintID+"/events?limit=10", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Events []json.RawMessage `json:"events"`
	}
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.NotEmpty(t, resp.Events)
}

func TestAdminDeviceNotFound(t *testing.T) {
	router := adminRouter(newService())

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/devices/nonexistent", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken(t, "admin"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
