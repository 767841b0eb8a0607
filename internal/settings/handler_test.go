package settings_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seen/internal/settings"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Get(ctx context.Context) (*settings.Settings, error) {
	args := m.Called(ctx)
	s, _ := args.Get(0).(*settings.Settings)
	return s, args.Error(1)
}

func (m *MockRepository) Update(ctx context.Context, s *settings.Settings) error {
	return m.Called(ctx, s).Error(0)
}

type settingsBody struct {
	Data  map[string]interface{} `json:"data"`
	Error map[string]string      `json:"error"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) settingsBody {
	t.Helper()
	var b settingsBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b))
	return b
}

func TestHandler_GetSettings(t *testing.T) {
	t.Run("masks the key", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "secret", SearchBackend: "local", SearchTopK: 20}, nil)

		w := httptest.NewRecorder()
		settings.NewHandler(settings.NewService(repo)).GetSettings(w, httptest.NewRequest(http.MethodGet, "/settings", nil))

		require.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "local", body.Data["search_backend"])
		assert.Equal(t, float64(20), body.Data["search_top_k"])
		assert.Equal(t, settings.MaskedKey, body.Data["gemini_api_key"])
		assert.NotContains(t, w.Body.String(), "secret")
	})

	t.Run("empty key stays empty", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(&settings.Settings{SearchBackend: "remote", SearchTopK: 20}, nil)

		w := httptest.NewRecorder()
		settings.NewHandler(settings.NewService(repo)).GetSettings(w, httptest.NewRequest(http.MethodGet, "/settings", nil))

		assert.Equal(t, "", decode(t, w).Data["gemini_api_key"])
	})

	t.Run("storage failure", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(nil, errors.New("db error"))

		w := httptest.NewRecorder()
		settings.NewHandler(settings.NewService(repo)).GetSettings(w, httptest.NewRequest(http.MethodGet, "/settings", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "INTERNAL_ERROR", decode(t, w).Error["code"])
	})
}

func TestHandler_UpdateSettings(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(*MockRepository)
		wantStatus int
	}{
		{
			name: "stores and echoes masked settings",
			body: `{"search_backend":"local","search_top_k":30,"gemini_api_key":"new-key"}`,
			setup: func(r *MockRepository) {
				r.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
					return s.SearchBackend == "local" && s.SearchTopK == 30 && s.GeminiAPIKey == "new-key"
				})).Return(nil)
			},
			wantStatus: http.StatusOK,
		},
		{
			name:       "malformed json",
			body:       "invalid json",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown backend",
			body:       `{"search_backend":"pinecone","search_top_k":20}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "top_k below range",
			body:       `{"search_backend":"remote","search_top_k":0}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "top_k above range",
			body:       `{"search_backend":"remote","search_top_k":101}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := new(MockRepository)
			if tt.setup != nil {
				tt.setup(repo)
			}

			w := httptest.NewRecorder()
			settings.NewHandler(settings.NewService(repo)).UpdateSettings(w, httptest.NewRequest(http.MethodPut, "/settings", strings.NewReader(tt.body)))

			assert.Equal(t, tt.wantStatus, w.Code)
			repo.AssertExpectations(t)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, settings.MaskedKey, decode(t, w).Data["gemini_api_key"])
				return
			}
			repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
		})
	}
}
