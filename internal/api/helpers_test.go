package api

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bikeshrana/sim-exchange-core/internal/domain"
)

func TestWriteJSON_SetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, 202, map[string]string{"status": "accepted"})

	assert.Equal(t, 202, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "accepted", body["status"])
}

func TestWriteRejection_MapsEachKindToItsHTTPStatus(t *testing.T) {
	cases := []struct {
		kind domain.RejectionKind
		want int
	}{
		{domain.RejectionValidationFailure, 400},
		{domain.RejectionPreTradeFundsShortfall, 422},
		{domain.RejectionMarketDataUnavailable, 503},
		{domain.RejectionNotFound, 404},
		{domain.RejectionPermissionDenied, 403},
		{domain.RejectionConflictState, 409},
		{domain.RejectionSystemError, 500},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeRejection(rec, domain.Reject(tc.kind, "boom"))
		assert.Equal(t, tc.want, rec.Code, "kind %v", tc.kind)
	}
}

func TestWriteRejection_NonRejectionErrorIsInternalServerError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRejection(rec, errors.New("unexpected"))
	assert.Equal(t, 500, rec.Code)
}
