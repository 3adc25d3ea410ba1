package vision

import (
	"context"

	"github.com/foodscan/backend/internal/domain"
)

// DummyProvider returns no detections. Used in development and as the
// fallback when inference runs entirely on the client.
type DummyProvider struct {
	modelID string
}

func NewDummyProvider(modelID string) *DummyProvider {
	return &DummyProvider{modelID: modelID}
}

func (p *DummyProvider) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	return nil, nil
}

func (p *DummyProvider) ModelID() string {
	return p.modelID
}

func (p *DummyProvider) Status() Status {
	return Status{Available: true, ModelID: p.modelID}
}
