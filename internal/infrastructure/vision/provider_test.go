package vision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foodscan/backend/internal/domain"
)

// stubProvider is a scripted Provider for ensemble tests.
type stubProvider struct {
	id         string
	detections []domain.Detection
	err        error
	available  bool
}

func (p *stubProvider) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	return p.detections, p.err
}

func (p *stubProvider) ModelID() string { return p.id }

func (p *stubProvider) Status() Status {
	return Status{Available: p.available, ModelID: p.id, Message: "stubbed"}
}

func TestNew(t *testing.T) {
	t.Run("empty name defaults to dummy", func(t *testing.T) {
		provider, err := New(Options{})
		require.NoError(t, err)
		assert.Equal(t, "dummy-v1", provider.ModelID())
		assert.True(t, provider.Status().Available)
	})

	t.Run("remote", func(t *testing.T) {
		provider, err := New(Options{Provider: "remote", RemoteBaseURL: "http://models.local"})
		require.NoError(t, err)
		assert.Equal(t, "remote:http://models.local", provider.ModelID())
	})

	t.Run("ensemble wraps nested providers", func(t *testing.T) {
		provider, err := New(Options{
			Provider:          "ensemble",
			RemoteBaseURL:     "http://models.local",
			EnsembleProviders: []string{"dummy", "remote"},
		})
		require.NoError(t, err)
		assert.Contains(t, provider.ModelID(), "ensemble(")
		assert.Contains(t, provider.ModelID(), "dummy-v1")
	})

	t.Run("ensemble cannot nest itself", func(t *testing.T) {
		_, err := New(Options{Provider: "ensemble", EnsembleProviders: []string{"ensemble"}})
		require.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		_, err := New(Options{Provider: "quantum"})
		require.Error(t, err)
	})
}

func TestDummyProviderDetect(t *testing.T) {
	provider := NewDummyProvider("dummy-v1")
	detections, err := provider.Detect(context.Background(), []byte("image"))
	require.NoError(t, err)
	assert.Empty(t, detections)
}

func TestEnsembleDetect(t *testing.T) {
	ctx := context.Background()

	t.Run("merges duplicate labels keeping max confidence", func(t *testing.T) {
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", available: true, detections: []domain.Detection{
				{Label: "Can", Confidence: 0.6},
				{Label: "bottle", Confidence: 0.4},
			}},
			&stubProvider{id: "b", available: true, detections: []domain.Detection{
				{Label: "can", Confidence: 0.9},
			}},
		})

		detections, err := ensemble.Detect(ctx, nil)
		require.NoError(t, err)
		require.Len(t, detections, 2)
		assert.Equal(t, "can", detections[0].Label)
		assert.Equal(t, 0.9, detections[0].Confidence)
		assert.Equal(t, "bottle", detections[1].Label)
	})

	t.Run("one failing member is tolerated", func(t *testing.T) {
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", err: errors.New("down")},
			&stubProvider{id: "b", available: true, detections: []domain.Detection{
				{Label: "carton", Confidence: 0.7},
			}},
		})

		detections, err := ensemble.Detect(ctx, nil)
		require.NoError(t, err)
		require.Len(t, detections, 1)
		assert.Equal(t, "carton", detections[0].Label)
	})

	t.Run("all members failing fails the ensemble", func(t *testing.T) {
		wantErr := errors.New("down")
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", err: wantErr},
			&stubProvider{id: "b", err: wantErr},
		})

		_, err := ensemble.Detect(ctx, nil)
		require.Error(t, err)
	})

	t.Run("ties sort by label", func(t *testing.T) {
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", available: true, detections: []domain.Detection{
				{Label: "pouch", Confidence: 0.5},
				{Label: "bowl", Confidence: 0.5},
			}},
		})

		detections, err := ensemble.Detect(ctx, nil)
		require.NoError(t, err)
		require.Len(t, detections, 2)
		assert.Equal(t, "bowl", detections[0].Label)
		assert.Equal(t, "pouch", detections[1].Label)
	})
}

func TestEnsembleStatus(t *testing.T) {
	t.Run("available when any member is", func(t *testing.T) {
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", available: false},
			&stubProvider{id: "b", available: true},
		})
		assert.True(t, ensemble.Status().Available)
	})

	t.Run("unavailable when no member is", func(t *testing.T) {
		ensemble := NewEnsembleProvider([]Provider{
			&stubProvider{id: "a", available: false},
		})
		status := ensemble.Status()
		assert.False(t, status.Available)
		assert.Equal(t, "stubbed", status.Message)
	})
}
