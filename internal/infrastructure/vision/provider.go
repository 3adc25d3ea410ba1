// Package vision holds the pluggable object-detection backends. Inference is
// an external collaborator: providers receive opaque image bytes and return
// label detections; no decoding happens here.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/foodscan/backend/internal/domain"
)

// Status describes whether a provider can currently serve.
type Status struct {
	Available bool   `json:"available"`
	Message   string `json:"message,omitempty"`
	ModelID   string `json:"model_id,omitempty"`
}

// Provider is the detection capability interface. Variants are selected by
// config and dispatched dynamically.
type Provider interface {
	Detect(ctx context.Context, image []byte) ([]domain.Detection, error)
	ModelID() string
	Status() Status
}

// Options selects and parameterizes a provider.
type Options struct {
	Provider          string
	ConfThreshold     float64
	RemoteBaseURL     string
	RemotePredictPath string
	RemoteTimeoutMS   int
	RemoteRatePerSec  float64
	RemoteBurst       int
	EnsembleProviders []string
}

// New builds the configured provider variant.
func New(opts Options) (Provider, error) {
	return build(opts, opts.Provider)
}

func build(opts Options, name string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "dummy":
		return NewDummyProvider("dummy-v1"), nil
	case "remote":
		return NewRemoteProvider(RemoteConfig{
			BaseURL:     opts.RemoteBaseURL,
			PredictPath: opts.RemotePredictPath,
			TimeoutMS:   opts.RemoteTimeoutMS,
			Threshold:   opts.ConfThreshold,
			RatePerSec:  opts.RemoteRatePerSec,
			Burst:       opts.RemoteBurst,
		}), nil
	case "ensemble":
		var nested []Provider
		for _, sub := range opts.EnsembleProviders {
			if strings.EqualFold(strings.TrimSpace(sub), "ensemble") {
				continue
			}
			provider, err := build(opts, sub)
			if err != nil {
				return nil, err
			}
			nested = append(nested, provider)
		}
		if len(nested) == 0 {
			return nil, fmt.Errorf("ensemble provider requires at least one nested provider")
		}
		return NewEnsembleProvider(nested), nil
	default:
		return nil, fmt.Errorf("unsupported vision provider %q", name)
	}
}
