package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/token-ledger/internal/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   apperrors.ErrorCode
	}{
		{"not found", apperrors.NotFound("Account"), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"wrapped not found", fmt.Errorf("remaining tokens: %w", apperrors.NotFound("Account")), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"validation", apperrors.ValidationError("bad body"), http.StatusBadRequest, apperrors.ErrCodeValidation},
		{"missing required", apperrors.MissingRequired("id"), http.StatusBadRequest, apperrors.ErrCodeMissingRequired},
		{"corrupt store", apperrors.CorruptStore(errors.New("eof")), http.StatusInternalServerError, apperrors.ErrCodeCorruptStore},
		{"storage", apperrors.Storage(errors.New("disk")), http.StatusInternalServerError, apperrors.ErrCodeStorage},
		{"unavailable", apperrors.Unavailable("Event stream"), http.StatusServiceUnavailable, apperrors.ErrCodeUnavailable},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotEmpty(t, body.Error)
		})
	}
}

func TestWriteError_HidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, apperrors.Storage(errors.New("/var/lib/ledger/tokens.json: permission denied")))

	assert.NotContains(t, rec.Body.String(), "permission denied")
}
