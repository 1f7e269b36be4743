package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"testing"
	"time"

	cr "github.com/cockroachdb/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/juancollazo-ch/sku-price-scanner/internal/breaker"
	apperrors "github.com/juancollazo-ch/sku-price-scanner/internal/errors"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models"
	"github.com/juancollazo-ch/sku-price-scanner/internal/models/serviceresponse"
)

type mockScanner struct {
	mock.Mock
}

func (m *mockScanner) Scan(ctx context.Context, clientID, sku string) (*models.ScanResult, error) {
	args := m.Called(ctx, clientID, sku)
	res, _ := args.Get(0).(*models.ScanResult)
	return res, args.Error(1)
}

func (m *mockScanner) History(ctx context.Context, sku string, limit int) (*serviceresponse.HistoryResponse, error) {
	args := m.Called(ctx, sku, limit)
	res, _ := args.Get(0).(*serviceresponse.HistoryResponse)
	return res, args.Error(1)
}

func (m *mockScanner) Stats(ctx context.Context) (*models.Stats, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*models.Stats)
	return res, args.Error(1)
}

func (m *mockScanner) Health(ctx context.Context) serviceresponse.HealthResponse {
	return m.Called(ctx).Get(0).(serviceresponse.HealthResponse)
}

// httptest.NewRequest usa 192.0.2.1 como RemoteAddr: el "balanceador" del test
var testProxies = []netip.Prefix{
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("10.0.0.0/8"),
}

func newRouter(svc Scanner) http.Handler {
	r := chi.NewRouter()
	r.Use(ClientIP(testProxies))
	r.Use(WithLogging)
	NewScanHandler(svc, time.Second).Routes(r)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) serviceresponse.ErrorResponse {
	t.Helper()
	var body serviceresponse.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestScanBySKU(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Scan", mock.Anything, "203.0.113.7", "rtx-4090").
		Return(&models.ScanResult{SKU: "RTX-4090", Cached: true, Vendors: []models.VendorResult{}}, nil)

	rec := do(t, newRouter(svc), http.MethodGet, "/api/scan/rtx-4090", "", "X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var got models.ScanResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "RTX-4090", got.SKU)
	assert.True(t, got.Cached)
	svc.AssertExpectations(t)
}

func TestScanFromBody(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Scan", mock.Anything, "192.0.2.1", "RX-7900XTX").
		Return(&models.ScanResult{SKU: "RX-7900XTX"}, nil)

	rec := do(t, newRouter(svc), http.MethodPost, "/api/scan", `{"sku":"RX-7900XTX"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, newRouter(svc), http.MethodPost, "/api/scan", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decodeError(t, rec).Error)
}

func TestScanErrorMapping(t *testing.T) {
	rateLimited := apperrors.ErrRateLimited("too many scan requests").
		WithMetadata("retry_after_seconds", 42)

	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{name: "invalid sku", err: apperrors.ErrInvalidSku("unknown sku"), status: http.StatusBadRequest, kind: "validation"},
		{name: "rate limited", err: rateLimited, status: http.StatusTooManyRequests, kind: "rate_limited"},
		{name: "in progress", err: apperrors.ErrInProgressNoData("RTX-4090"), status: http.StatusConflict, kind: "in_progress_no_data"},
		{name: "upstream unavailable", err: apperrors.ErrUpstreamUnavailable("all vendors failed", nil), status: http.StatusServiceUnavailable, kind: "upstream_unavailable"},
		{name: "unknown error", err: assert.AnError, status: http.StatusInternalServerError, kind: "internal"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc := &mockScanner{}
			svc.On("Scan", mock.Anything, mock.Anything, mock.Anything).Return(nil, tc.err)

			rec := do(t, newRouter(svc), http.MethodGet, "/api/scan/RTX-4090", "")
			assert.Equal(t, tc.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tc.kind, body.Error)
			if tc.status == http.StatusTooManyRequests {
				assert.Equal(t, "42", rec.Header().Get("Retry-After"))
				assert.True(t, body.Retryable)
			}
		})
	}
}

func TestScanCancelledByClientWritesNothing(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, cr.Wrap(context.Canceled, "scan cancelled"))

	rec := do(t, newRouter(svc), http.MethodGet, "/api/scan/RTX-4090", "")
	assert.Empty(t, rec.Body.String())
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
}

func TestHistory(t *testing.T) {
	svc := &mockScanner{}
	svc.On("History", mock.Anything, "RTX-4090", 3).
		Return(&serviceresponse.HistoryResponse{SKU: "RTX-4090", Count: 0, History: []models.ScanResult{}}, nil)
	svc.On("History", mock.Anything, "RTX-4090", 0).
		Return(&serviceresponse.HistoryResponse{SKU: "RTX-4090"}, nil)

	h := newRouter(svc)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/history/RTX-4090?limit=3", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/history/RTX-4090", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history/RTX-4090?limit=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/api/history/RTX-4090?limit=0", "").Code)
	svc.AssertExpectations(t)
}

func TestStatsAndHealth(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Stats", mock.Anything).Return(&models.Stats{TotalScans: 7}, nil)
	svc.On("Health", mock.Anything).Return(serviceresponse.HealthResponse{
		Status: "degraded", Service: "sku-price-scanner", Store: "ok",
		Breaker: breaker.Metrics{Name: "extraction", State: breaker.StateOpen},
	})
	h := newRouter(svc)

	rec := do(t, h, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats models.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(7), stats.TotalScans)

	rec = do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health serviceresponse.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "degraded", health.Status)
	assert.Equal(t, breaker.StateOpen, health.Breaker.State)
}

func TestStatsStoreFailure(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Stats", mock.Anything).Return(nil, apperrors.ErrStoreUnavailable("get", assert.AnError))

	rec := do(t, newRouter(svc), http.MethodGet, "/api/stats", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, decodeError(t, rec).Retryable)
}

func TestTraceIDFromHeader(t *testing.T) {
	assert.Equal(t, "105445aa7843bc8bf206b120001000", traceIDFromHeader("105445aa7843bc8bf206b120001000/1;o=1"))
	assert.Equal(t, "abc", traceIDFromHeader("abc"))
	assert.Equal(t, "", traceIDFromHeader(""))
}

func TestClientIPHonoursForwardedForOnlyFromTrustedProxies(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		trusted []netip.Prefix
		want    string
	}{
		{name: "no proxies configured ignores header", remote: "198.51.100.9:5555", xff: "203.0.113.7", want: "198.51.100.9"},
		{name: "untrusted peer cannot spoof", remote: "198.51.100.9:5555", xff: "203.0.113.7", trusted: testProxies, want: "198.51.100.9"},
		{name: "trusted peer forwards client", remote: "192.0.2.1:1234", xff: "203.0.113.7", trusted: testProxies, want: "203.0.113.7"},
		{name: "rightmost untrusted hop wins over spoofed prefix", remote: "192.0.2.1:1234", xff: "1.2.3.4, 203.0.113.7, 10.0.0.1", trusted: testProxies, want: "203.0.113.7"},
		{name: "unparseable hop stops the walk", remote: "192.0.2.1:1234", xff: "1.2.3.4, garbage, 10.0.0.1", trusted: testProxies, want: "10.0.0.1"},
		{name: "trusted peer without header", remote: "192.0.2.1:1234", trusted: testProxies, want: "192.0.2.1"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/scan/RTX-4090", nil)
			r.RemoteAddr = tc.remote
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			assert.Equal(t, tc.want, resolveClientIP(r, tc.trusted))
		})
	}
}

func TestRotatingForwardedForSharesOneRateLimitIdentity(t *testing.T) {
	svc := &mockScanner{}
	svc.On("Scan", mock.Anything, "198.51.100.9", "RTX-4090").
		Return(&models.ScanResult{SKU: "RTX-4090"}, nil)
	h := newRouter(svc)

	for _, spoofed := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		req := httptest.NewRequest(http.MethodGet, "/api/scan/RTX-4090", nil)
		req.RemoteAddr = "198.51.100.9:4000"
		req.Header.Set("X-Forwarded-For", spoofed)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	svc.AssertNumberOfCalls(t, "Scan", 3)
	svc.AssertExpectations(t)
}
