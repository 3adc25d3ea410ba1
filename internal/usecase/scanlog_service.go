package usecase

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foodscan/backend/internal/domain"
)

// LogScanParams carries everything captured at scan time. The record snapshot
// built from it is immutable after creation.
type LogScanParams struct {
	MimeType            string
	HasPackageCrop      bool
	Detections          []domain.Detection
	OCRLines            []string
	OCROutput           []domain.TextDetection
	Barcode             string
	PredictedProduct    string
	PredictedCandidates []domain.RankedCandidate
	Analysis            domain.AnalysisSnapshot
	Context             domain.ScanContext
	RequestID           string
	Model               string
	LatencyMS           *int64
}

// ScanLogService owns the scan record lifecycle: create on scan, mutate on
// feedback, re-derive quality/failure/active-learning fields on every write.
type ScanLogService struct {
	store  domain.ScanStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewScanLogService creates the service. now is overridable for tests; nil
// means time.Now.
func NewScanLogService(store domain.ScanStore, logger zerolog.Logger) *ScanLogService {
	return &ScanLogService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// LogScan assigns a fresh scan id, captures the inputs, computes the initial
// derived fields (no feedback yet), and persists atomically. Persistence
// failures propagate; the caller decides whether to degrade.
func (s *ScanLogService) LogScan(ctx context.Context, params LogScanParams) (*domain.ScanRecord, error) {
	scanLogID := uuid.NewString()
	now := s.now()
	dayPart := now.Format("2006-01-02")
	ext := extensionForMime(params.MimeType)

	imagePath := path.Join("images", dayPart, scanLogID+ext)
	cropPath := ""
	if params.HasPackageCrop {
		cropPath = path.Join("crops", dayPart, scanLogID+ext)
	}

	record := &domain.ScanRecord{
		ScanLogID:               scanLogID,
		ImagePath:               imagePath,
		RawImagePath:            imagePath,
		CroppedPackageImagePath: cropPath,
		Detections:              sanitizeDetections(params.Detections),
		OCR:                     sanitizeLines(params.OCRLines),
		OCROutput:               sanitizeTextDetections(params.OCROutput),
		Barcode:                 strings.TrimSpace(params.Barcode),
		PredictedProduct:        params.PredictedProduct,
		PredictedCandidates:     params.PredictedCandidates,
		Analysis:                params.Analysis,
		CreatedAt:               now,
		UpdatedAt:               now,
		RequestID:               params.RequestID,
		Model:                   params.Model,
		LatencyMS:               params.LatencyMS,
		Context:                 params.Context,
	}
	if record.PredictedCandidates == nil {
		record.PredictedCandidates = []domain.RankedCandidate{}
	}

	applyDerivations(record)

	if err := s.store.Create(ctx, record); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("scan_log_id", scanLogID).
		Str("request_id", params.RequestID).
		Int("candidates", len(record.PredictedCandidates)).
		Msg("scan logged")
	return record, nil
}

// UpdateFeedback applies the explicitly-provided feedback fields to the
// record, re-derives every derived field, bumps the modification timestamp,
// and persists atomically. Returns domain.ErrScanNotFound for unknown ids.
func (s *ScanLogService) UpdateFeedback(ctx context.Context, scanLogID string, update domain.FeedbackUpdate) (*domain.ScanRecord, error) {
	if strings.TrimSpace(scanLogID) == "" {
		return nil, domain.ErrInvalidRequest
	}

	updated, err := s.store.Update(ctx, scanLogID, func(rec *domain.ScanRecord) error {
		if update.Confirmed != nil {
			rec.UserConfirmed = update.Confirmed
			if *update.Confirmed {
				chosen := rec.UserCorrectedTo
				if chosen == "" {
					chosen = rec.PredictedProduct
				}
				if chosen != "" {
					rec.UserAcceptedProduct = chosen
				}
			}
		}
		if update.CorrectedTo != nil {
			corrected := strings.TrimSpace(*update.CorrectedTo)
			rec.UserCorrectedTo = corrected
			if corrected != "" {
				rec.UserAcceptedProduct = corrected
			}
		}
		if update.NotFood != nil {
			rec.NotFood = *update.NotFood
		}
		if update.BadPhoto != nil {
			rec.BadPhoto = *update.BadPhoto
		}
		if update.Notes != nil {
			rec.FeedbackNotes = strings.TrimSpace(*update.Notes)
		}
		if update.Context != nil {
			rec.FeedbackContext = update.Context
		}

		applyDerivations(rec)
		rec.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("scan_log_id", scanLogID).
		Str("training_priority", updated.TrainingPriority).
		Strs("failure_tags", updated.FailureTags).
		Msg("feedback applied")
	return updated, nil
}

// Get returns a scan record by id.
func (s *ScanLogService) Get(ctx context.Context, scanLogID string) (*domain.ScanRecord, error) {
	return s.store.Get(ctx, scanLogID)
}

func extensionForMime(mimeType string) string {
	switch strings.ToLower(strings.TrimSpace(mimeType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}

// sanitizeDetections coerces malformed evidence inline: empty labels are
// dropped, confidences clamped into [0,1].
func sanitizeDetections(detections []domain.Detection) []domain.Detection {
	output := make([]domain.Detection, 0, len(detections))
	for _, det := range detections {
		label := strings.TrimSpace(det.Label)
		if label == "" {
			continue
		}
		output = append(output, domain.Detection{
			Label:      label,
			Confidence: clamp01(det.Confidence),
			BBox:       det.BBox,
		})
	}
	return output
}

func sanitizeTextDetections(rows []domain.TextDetection) []domain.TextDetection {
	output := make([]domain.TextDetection, 0, len(rows))
	for _, row := range rows {
		text := strings.TrimSpace(row.Text)
		if text == "" {
			continue
		}
		output = append(output, domain.TextDetection{
			Text:       text,
			Confidence: clamp01(row.Confidence),
			BBox:       row.BBox,
		})
	}
	return output
}

func sanitizeLines(lines []string) []string {
	output := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			output = append(output, trimmed)
		}
	}
	return output
}
