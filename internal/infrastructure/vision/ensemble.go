package vision

import (
	"context"
	"sort"
	"strings"

	"github.com/foodscan/backend/internal/domain"
)

// EnsembleProvider fans detection out to its members and merges duplicate
// labels, keeping the highest confidence per normalized label.
type EnsembleProvider struct {
	members []Provider
}

func NewEnsembleProvider(members []Provider) *EnsembleProvider {
	return &EnsembleProvider{members: members}
}

func (p *EnsembleProvider) ModelID() string {
	ids := make([]string, 0, len(p.members))
	for _, member := range p.members {
		ids = append(ids, member.ModelID())
	}
	return "ensemble(" + strings.Join(ids, ",") + ")"
}

// Status is available when any member is; the message carries the first
// unavailable member's reason.
func (p *EnsembleProvider) Status() Status {
	status := Status{ModelID: p.ModelID()}
	for _, member := range p.members {
		sub := member.Status()
		if sub.Available {
			status.Available = true
		} else if status.Message == "" {
			status.Message = sub.Message
		}
	}
	return status
}

// Detect queries every member; one failing member does not fail the
// ensemble unless every member fails.
func (p *EnsembleProvider) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	merged := make(map[string]domain.Detection)
	var lastErr error
	succeeded := false

	for _, member := range p.members {
		detections, err := member.Detect(ctx, image)
		if err != nil {
			lastErr = err
			continue
		}
		succeeded = true
		for _, det := range detections {
			key := normalizeLabel(det.Label)
			if key == "" {
				continue
			}
			if prev, ok := merged[key]; !ok || det.Confidence > prev.Confidence {
				det.Label = key
				merged[key] = det
			}
		}
	}
	if !succeeded && lastErr != nil {
		return nil, lastErr
	}

	output := make([]domain.Detection, 0, len(merged))
	for _, det := range merged {
		output = append(output, det)
	}
	sort.Slice(output, func(i, j int) bool {
		if output[i].Confidence != output[j].Confidence {
			return output[i].Confidence > output[j].Confidence
		}
		return output[i].Label < output[j].Label
	})
	return output, nil
}

func normalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
