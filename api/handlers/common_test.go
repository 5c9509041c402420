package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/narraflow/types"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{
			name:       "simple object",
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
		},
		{
			name:       "array",
			data:       []int{1, 2, 3},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"key": "value"}

	WriteSuccess(w, data)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteAccepted(t *testing.T) {
	w := httptest.NewRecorder()

	WriteAccepted(w, map[string]string{"run_id": "r-1"})

	assert.Equal(t, http.StatusAccepted, w.Code)

	var resp Response
	err := json.NewDecoder(w.Body).Decode(&resp)
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
}

func TestWriteError(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "invalid request",
			err:            types.NewError(types.ErrInvalidRequest, "frames_dir is required"),
			expectedStatus: http.StatusBadRequest,
			expectedCode:   string(types.ErrInvalidRequest),
		},
		{
			name:           "not found",
			err:            types.NewError(types.ErrNotFound, "run not found"),
			expectedStatus: http.StatusNotFound,
			expectedCode:   string(types.ErrNotFound),
		},
		{
			name:           "rate limited",
			err:            types.NewError(types.ErrProviderRateLimited, "too many requests"),
			expectedStatus: http.StatusTooManyRequests,
			expectedCode:   string(types.ErrProviderRateLimited),
		},
		{
			name:           "internal error",
			err:            types.NewError(types.ErrInternal, "database connection failed"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   string(types.ErrInternal),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err, logger)

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			err := json.NewDecoder(w.Body).Decode(&resp)
			require.NoError(t, err)

			assert.False(t, resp.Success)
			assert.Nil(t, resp.Data)
			assert.NotNil(t, resp.Error)
			assert.Equal(t, tt.expectedCode, resp.Error.Code)
			assert.NotEmpty(t, resp.Error.Message)
		})
	}
}

func TestWriteErrorExplicitStatusWins(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrInvalidRequest, "teapot").WithHTTPStatus(http.StatusTeapot)

	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusTeapot, w.Code)
}

func TestWriteErrorCarriesProviderAndRetryable(t *testing.T) {
	w := httptest.NewRecorder()
	err := types.NewError(types.ErrProviderUnavailable, "gemini is down").
		WithProvider("gemini").
		WithRetryable(true)

	WriteError(w, err, zap.NewNop())

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "gemini", resp.Error.Provider)
	assert.True(t, resp.Error.Retryable)
}

func TestWriteFromError(t *testing.T) {
	t.Run("plain error becomes internal", func(t *testing.T) {
		w := httptest.NewRecorder()

		WriteFromError(w, errors.New("boom"), zap.NewNop())

		assert.Equal(t, http.StatusInternalServerError, w.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(types.ErrInternal), resp.Error.Code)
	})

	t.Run("typed error keeps its code", func(t *testing.T) {
		w := httptest.NewRecorder()
		var err error = types.NewError(types.ErrRunCancelled, "run cancelled")

		WriteFromError(w, err, zap.NewNop())

		assert.Equal(t, http.StatusConflict, w.Code)

		var resp Response
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		require.NotNil(t, resp.Error)
		assert.Equal(t, string(types.ErrRunCancelled), resp.Error.Code)
	})
}

func TestDecodeJSONBody(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		checkFunc func(*testing.T, *TestStruct)
	}{
		{
			name: "valid JSON",
			body: `{"name":"test","value":123}`,
			checkFunc: func(t *testing.T, ts *TestStruct) {
				assert.Equal(t, "test", ts.Name)
				assert.Equal(t, 123, ts.Value)
			},
		},
		{
			name:    "invalid JSON",
			body:    `{"name":"test",}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			body:    `{"name":"test","unknown":"field"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", bytes.NewBufferString(tt.body))

			var result TestStruct
			err := DecodeJSONBody(w, r, &result, logger)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Equal(t, http.StatusBadRequest, w.Code)
			} else {
				assert.NoError(t, err)
				if tt.checkFunc != nil {
					tt.checkFunc(t, &result)
				}
			}
		})
	}
}

func TestValidateContentType(t *testing.T) {
	logger := zap.NewNop()

	tests := []struct {
		name        string
		contentType string
		want        bool
	}{
		{
			name:        "valid application/json",
			contentType: "application/json",
			want:        true,
		},
		{
			name:        "valid with charset",
			contentType: "application/json; charset=utf-8",
			want:        true,
		},
		{
			name:        "invalid text/plain",
			contentType: "text/plain",
			want:        false,
		},
		{
			name:        "empty",
			contentType: "",
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/test", nil)
			r.Header.Set("Content-Type", tt.contentType)

			result := ValidateContentType(w, r, logger)
			assert.Equal(t, tt.want, result)
		})
	}
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code       types.ErrorCode
		wantStatus int
	}{
		{types.ErrInvalidRequest, http.StatusBadRequest},
		{types.ErrUnknownProvider, http.StatusBadRequest},
		{types.ErrInvalidBatchSize, http.StatusBadRequest},
		{types.ErrInvalidConfig, http.StatusBadRequest},
		{types.ErrNotFound, http.StatusNotFound},
		{types.ErrModelNotFound, http.StatusNotFound},
		{types.ErrProviderNotConfigured, http.StatusUnprocessableEntity},
		{types.ErrProviderContentFiltered, http.StatusUnprocessableEntity},
		{types.ErrProviderRateLimited, http.StatusTooManyRequests},
		{types.ErrProviderQuotaExceeded, http.StatusPaymentRequired},
		{types.ErrContextTooLong, http.StatusRequestEntityTooLarge},
		{types.ErrRunCancelled, http.StatusConflict},
		{types.ErrTransport, http.StatusBadGateway},
		{types.ErrProviderAuth, http.StatusBadGateway},
		{types.ErrProviderBadResponse, http.StatusBadGateway},
		{types.ErrGenerationFailed, http.StatusBadGateway},
		{types.ErrProviderUnavailable, http.StatusServiceUnavailable},
		{types.ErrAggregation, http.StatusInternalServerError},
		{types.ErrInternal, http.StatusInternalServerError},
		{"UNKNOWN_CODE", http.StatusInternalServerError}, // 默认
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			status := mapErrorCodeToHTTPStatus(tt.code)
			assert.Equal(t, tt.wantStatus, status)
		})
	}
}

func TestDecodeJSONBody_MaxBodySize(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name string `json:"name"`
	}

	// 构造超出 1 MB 限制的请求体
	oversized := `{"name":"` + strings.Repeat("x", 2<<20) + `"}`

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(oversized))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, logger)

	assert.Error(t, err, "body exceeding 1 MB should be rejected")
}

func TestDecodeJSONBody_WithinLimit(t *testing.T) {
	logger := zap.NewNop()

	type TestStruct struct {
		Name string `json:"name"`
	}

	body := `{"name":"small"}`
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/test", strings.NewReader(body))

	var result TestStruct
	err := DecodeJSONBody(w, r, &result, logger)

	assert.NoError(t, err)
	assert.Equal(t, "small", result.Name)
}
