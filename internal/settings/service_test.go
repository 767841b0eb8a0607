package settings_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"seen/internal/settings"
)

func TestService_Update_KeepsMaskedKey(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "real"}, nil)
	repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
		return s.GeminiAPIKey == "real"
	})).Return(nil)

	err := settings.NewService(repo).Update(context.Background(), &settings.Settings{
		GeminiAPIKey:  settings.MaskedKey,
		SearchBackend: "remote",
		SearchTopK:    20,
	})
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestService_SeedAPIKey(t *testing.T) {
	t.Run("empty key is a no-op", func(t *testing.T) {
		repo := new(MockRepository)
		seeded, err := settings.NewService(repo).SeedAPIKey(context.Background(), "")
		require.NoError(t, err)
		assert.False(t, seeded)
		repo.AssertNotCalled(t, "Get", mock.Anything)
	})

	t.Run("stored key wins", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(&settings.Settings{GeminiAPIKey: "runtime"}, nil)

		seeded, err := settings.NewService(repo).SeedAPIKey(context.Background(), "env")
		require.NoError(t, err)
		assert.False(t, seeded)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})

	t.Run("fills an empty key", func(t *testing.T) {
		repo := new(MockRepository)
		d := settings.Defaults()
		repo.On("Get", mock.Anything).Return(&d, nil)
		repo.On("Update", mock.Anything, mock.MatchedBy(func(s *settings.Settings) bool {
			return s.GeminiAPIKey == "env" && s.SearchTopK == 20
		})).Return(nil)

		seeded, err := settings.NewService(repo).SeedAPIKey(context.Background(), "env")
		require.NoError(t, err)
		assert.True(t, seeded)
		repo.AssertExpectations(t)
	})

	t.Run("read failure", func(t *testing.T) {
		repo := new(MockRepository)
		repo.On("Get", mock.Anything).Return(nil, errors.New("down"))

		_, err := settings.NewService(repo).SeedAPIKey(context.Background(), "env")
		assert.Error(t, err)
	})
}

func TestSettings_Masked(t *testing.T) {
	s := settings.Settings{GeminiAPIKey: "abc", SearchTopK: 5}
	m := s.Masked()
	assert.Equal(t, settings.MaskedKey, m.GeminiAPIKey)
	assert.Equal(t, "abc", s.GeminiAPIKey, "original must be untouched")
}
