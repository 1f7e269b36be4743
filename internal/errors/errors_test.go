package errors

import (
	"net/http"
	"testing"

	cr "github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExternalAPIClassification(t *testing.T) {
	tests := []struct {
		status    int
		kind      Kind
		retryable bool
	}{
		{http.StatusInternalServerError, KindTransientUpstream, true},
		{http.StatusBadGateway, KindTransientUpstream, true},
		{http.StatusServiceUnavailable, KindTransientUpstream, true},
		{http.StatusTooManyRequests, KindTransientUpstream, true},
		{http.StatusBadRequest, KindPermanentUpstream, false},
		{http.StatusUnauthorized, KindPermanentUpstream, false},
		{http.StatusNotFound, KindPermanentUpstream, false},
		{http.StatusUnprocessableEntity, KindPermanentUpstream, false},
	}
	for _, tc := range tests {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			err := ErrExternalAPI(tc.status, "body", nil)
			assert.Equal(t, tc.kind, err.Kind)
			assert.Equal(t, tc.retryable, err.Retryable)
			assert.Equal(t, tc.status, err.Metadata["external_status_code"])
		})
	}
}

func TestAsThroughWrapping(t *testing.T) {
	cause := cr.New("connection reset")
	wrapped := cr.Wrap(ErrTransientUpstream("vendor A", cause), "fetch vendor")

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindTransientUpstream, appErr.Kind)
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsKind(wrapped, KindTransientUpstream))
	assert.Equal(t, http.StatusBadGateway, GetStatusCode(wrapped))
	assert.True(t, cr.Is(wrapped, cause))
}

func TestPlainErrors(t *testing.T) {
	plain := cr.New("boom")

	_, ok := As(plain)
	assert.False(t, ok)
	assert.Equal(t, KindInternal, KindOf(plain))
	assert.False(t, IsRetryable(plain))
	assert.False(t, IsKind(nil, KindInternal))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(plain))
}

func TestErrorMessage(t *testing.T) {
	err := ErrInvalidSku("sku must match ^[A-Z0-9][A-Z0-9-]{1,63}$")
	assert.Equal(t, "Invalid SKU (sku must match ^[A-Z0-9][A-Z0-9-]{1,63}$)", err.Error())

	err = ErrStoreUnavailable("get", cr.New("dial tcp: refused"))
	assert.Equal(t, "Store unavailable (get): dial tcp: refused", err.Error())
}

func TestCallerFacingErrors(t *testing.T) {
	assert.Equal(t, "rate_limited", ErrRateLimited("x").Kind.String())
	assert.True(t, ErrRateLimited("x").Retryable)
	assert.Equal(t, "RTX-4090", ErrInProgressNoData("RTX-4090").Metadata["sku"])
	assert.False(t, ErrCircuitOpen("extraction", nil).Retryable)
	assert.Equal(t, "extraction", ErrCircuitOpen("extraction", nil).Metadata["breaker"])
	assert.Equal(t, "internal", Kind(99).String())
}
