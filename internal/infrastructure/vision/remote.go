package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/foodscan/backend/internal/domain"
)

// RemoteConfig parameterizes the remote model-server client.
type RemoteConfig struct {
	BaseURL     string
	PredictPath string
	TimeoutMS   int
	Threshold   float64
	RatePerSec  float64
	Burst       int
}

// RemoteProvider forwards image bytes to an external model server and maps
// its predictions into detections. Requests are rate limited and retried on
// transient failures.
type RemoteProvider struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	baseURL     string
	predictPath string
	threshold   float64

	// The server reports its model id per response; Detect and Status run on
	// concurrent handlers, so access goes through the mutex.
	mu      sync.Mutex
	modelID string
}

// remotePrediction is the model server's wire shape.
type remotePrediction struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type remoteResponse struct {
	ModelID     string             `json:"model_id"`
	Predictions []remotePrediction `json:"predictions"`
}

func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	ratePerSec := cfg.RatePerSec
	if ratePerSec <= 0 {
		ratePerSec = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	predictPath := cfg.PredictPath
	if predictPath == "" {
		predictPath = "/model/predict"
	}
	return &RemoteProvider{
		httpClient:  &http.Client{Timeout: timeout},
		rateLimiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
		baseURL:     cfg.BaseURL,
		predictPath: predictPath,
		threshold:   cfg.Threshold,
		modelID:     "remote:" + cfg.BaseURL,
	}
}

func (p *RemoteProvider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modelID
}

func (p *RemoteProvider) setModelID(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelID = id
}

func (p *RemoteProvider) Status() Status {
	if p.baseURL == "" {
		return Status{Available: false, Message: "remote base URL not configured", ModelID: p.ModelID()}
	}
	return Status{Available: true, ModelID: p.ModelID()}
}

// Detect posts the image to the model server. Retries up to 3 times on
// transport errors and 5xx responses.
func (p *RemoteProvider) Detect(ctx context.Context, image []byte) ([]domain.Detection, error) {
	if p.baseURL == "" {
		return nil, domain.ErrProviderUnavailable
	}
	reqURL := p.baseURL + p.predictPath

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := p.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(image))
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
			sleepBackoff(ctx, attempt)
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= http.StatusInternalServerError {
			lastErr = fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
			sleepBackoff(ctx, attempt)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
		}

		var parsed remoteResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", domain.ErrProviderFailure, err)
		}
		if parsed.ModelID != "" {
			p.setModelID(parsed.ModelID)
		}

		var detections []domain.Detection
		for _, pred := range parsed.Predictions {
			if pred.Label == "" || pred.Confidence < p.threshold {
				continue
			}
			detections = append(detections, domain.Detection{
				Label:      pred.Label,
				Confidence: pred.Confidence,
				BBox:       pred.BBox,
			})
		}
		return detections, nil
	}
	return nil, lastErr
}

func sleepBackoff(ctx context.Context, attempt int) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(attempt*500) * time.Millisecond):
	}
}
