package http

import (
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/foodscan/backend/internal/domain"
	"github.com/foodscan/backend/internal/infrastructure/vision"
	"github.com/foodscan/backend/internal/usecase"
)

const requestIDHeader = "X-Scan-Request-Id"

// Handler holds dependencies for HTTP handlers
type Handler struct {
	matcher           *usecase.MatchingService
	scans             *usecase.ScanLogService
	provider          vision.Provider
	logger            zerolog.Logger
	enableScanLogging bool
	enableCropLogging bool
	version           string
	startedAt         time.Time
}

// NewHandler creates a new HTTP handler
func NewHandler(
	matcher *usecase.MatchingService,
	scans *usecase.ScanLogService,
	provider vision.Provider,
	logger zerolog.Logger,
	enableScanLogging bool,
	enableCropLogging bool,
	version string,
) *Handler {
	return &Handler{
		matcher:           matcher,
		scans:             scans,
		provider:          provider,
		logger:            logger,
		enableScanLogging: enableScanLogging,
		enableCropLogging: enableCropLogging,
		version:           version,
		startedAt:         time.Now(),
	}
}

// Request/response shapes. Confidence and box fields are optional on the
// wire; missing values coerce to 0 and null.
type textDetectionIn struct {
	Text       string    `json:"text"`
	Confidence *float64  `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type detectionIn struct {
	Label      string    `json:"label"`
	Confidence *float64  `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type detectRequest struct {
	TextDetections  []textDetectionIn `json:"text_detections"`
	Detections      []detectionIn     `json:"detections"`
	Barcode         string            `json:"barcode"`
	PackagingType   string            `json:"packaging_type"`
	BrandHint       string            `json:"brand_hint"`
	ImageB64        string            `json:"image_b64"`
	MimeType        string            `json:"mime_type"`
	HasPackageCrop  bool              `json:"has_package_crop"`
	NonFoodFiltered int               `json:"non_food_filtered_count"`
	ScanMode        string            `json:"scan_mode"`
	DeviceInfo      string            `json:"device_info"`
	RotationDeg     *int              `json:"rotation_degrees"`
	Model           string            `json:"model"`
}

type detectResponse struct {
	OK               bool                     `json:"ok"`
	Model            string                   `json:"model"`
	LatencyMS        int64                    `json:"latency_ms"`
	Items            []domain.RankedCandidate `json:"items"`
	Detections       []domain.Detection       `json:"detections"`
	TextDetections   []domain.TextDetection   `json:"text_detections"`
	BarcodeResult    string                   `json:"barcode_result,omitempty"`
	PackagingType    string                   `json:"packaging_type,omitempty"`
	PredictedProduct string                   `json:"predicted_product,omitempty"`
	TopMatch         *domain.RankedCandidate  `json:"top_match,omitempty"`
	Alternatives     []domain.RankedCandidate `json:"alternatives"`
	ScanLogID        string                   `json:"scan_log_id,omitempty"`
}

type feedbackRequest struct {
	ScanLogID       string                  `json:"scan_log_id" binding:"required"`
	UserConfirmed   *bool                   `json:"user_confirmed"`
	UserCorrectedTo *string                 `json:"user_corrected_to"`
	NotFood         *bool                   `json:"not_food"`
	BadPhoto        *bool                   `json:"bad_photo"`
	FeedbackNotes   *string                 `json:"feedback_notes"`
	FeedbackContext *domain.FeedbackContext `json:"feedback_context"`
}

// HealthCheck returns the health status of the API
func (h *Handler) HealthCheck(c *gin.Context) {
	status := h.provider.Status()
	c.JSON(http.StatusOK, gin.H{
		"ok":           true,
		"service":      "foodscan-backend",
		"version":      h.version,
		"provider":     status,
		"catalog_size": h.matcher.CatalogSize(),
		"uptime_s":     time.Since(h.startedAt).Seconds(),
	})
}

// Detect ranks the catalog against the submitted evidence, logs the scan,
// and returns the explained candidate list.
func (h *Handler) Detect(c *gin.Context) {
	requestID := h.requestID(c)
	started := time.Now()

	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.clientError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
		return
	}

	detections := coerceDetections(req.Detections)
	textDetections := coerceTextDetections(req.TextDetections)
	model := req.Model

	// When only an image reference is supplied, inference is delegated to
	// the configured provider. The bytes stay opaque here.
	if len(detections) == 0 && req.ImageB64 != "" {
		image, err := base64.StdEncoding.DecodeString(req.ImageB64)
		if err != nil {
			h.clientError(c, http.StatusBadRequest, "INVALID_IMAGE", "image_b64 is not valid base64", requestID)
			return
		}
		detections, err = h.provider.Detect(c.Request.Context(), image)
		if err != nil {
			h.logger.Error().Err(err).Str("request_id", requestID).Msg("detection provider failed")
			h.clientError(c, http.StatusBadGateway, "PROVIDER_FAILURE", "detection provider request failed", requestID)
			return
		}
		model = h.provider.ModelID()
	}

	evidence := buildEvidence(req, detections, textDetections)
	candidates := h.matcher.Rank(evidence)
	latencyMS := time.Since(started).Milliseconds()

	predicted := ""
	var topMatch *domain.RankedCandidate
	var alternatives []domain.RankedCandidate
	if len(candidates) > 0 {
		predicted = candidates[0].Name
		topMatch = &candidates[0]
		alternatives = candidates[1:]
	}

	scanLogID := ""
	if h.enableScanLogging {
		record, err := h.scans.LogScan(c.Request.Context(), usecase.LogScanParams{
			MimeType:            req.MimeType,
			HasPackageCrop:      req.HasPackageCrop && h.enableCropLogging,
			Detections:          detections,
			OCRLines:            evidence.OCRLines,
			OCROutput:           textDetections,
			Barcode:             req.Barcode,
			PredictedProduct:    predicted,
			PredictedCandidates: candidates,
			Analysis:            buildAnalysis(evidence, candidates, detections, textDetections, req.NonFoodFiltered),
			Context: domain.ScanContext{
				ScanMode:        req.ScanMode,
				DeviceInfo:      req.DeviceInfo,
				RotationDegrees: req.RotationDeg,
			},
			RequestID: requestID,
			Model:     model,
			LatencyMS: &latencyMS,
		})
		if err != nil {
			// The detection response must not fail because logging did.
			h.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to persist scan record")
		} else {
			scanLogID = record.ScanLogID
		}
	}

	c.JSON(http.StatusOK, detectResponse{
		OK:               true,
		Model:            model,
		LatencyMS:        latencyMS,
		Items:            candidates,
		Detections:       detections,
		TextDetections:   textDetections,
		BarcodeResult:    req.Barcode,
		PackagingType:    req.PackagingType,
		PredictedProduct: predicted,
		TopMatch:         topMatch,
		Alternatives:     alternatives,
		ScanLogID:        scanLogID,
	})
}

// LogScan persists a scan record without running the matcher.
func (h *Handler) LogScan(c *gin.Context) {
	requestID := h.requestID(c)

	var req detectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.clientError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
		return
	}

	detections := coerceDetections(req.Detections)
	textDetections := coerceTextDetections(req.TextDetections)
	ocrLines := make([]string, 0, len(textDetections))
	for _, det := range textDetections {
		ocrLines = append(ocrLines, det.Text)
	}

	record, err := h.scans.LogScan(c.Request.Context(), usecase.LogScanParams{
		MimeType:       req.MimeType,
		HasPackageCrop: req.HasPackageCrop && h.enableCropLogging,
		Detections:     detections,
		OCRLines:       ocrLines,
		OCROutput:      textDetections,
		Barcode:        req.Barcode,
		Analysis: domain.AnalysisSnapshot{
			PackagingType:        req.PackagingType,
			DetectionCount:       len(detections),
			TextDetectionCount:   len(textDetections),
			NonFoodFilteredCount: req.NonFoodFiltered,
		},
		Context: domain.ScanContext{
			ScanMode:        req.ScanMode,
			DeviceInfo:      req.DeviceInfo,
			RotationDegrees: req.RotationDeg,
		},
		RequestID: requestID,
		Model:     req.Model,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to persist scan record")
		h.clientError(c, http.StatusInternalServerError, "SCAN_LOG_FAILED", "failed to persist scan record", requestID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":          true,
		"scan_log_id": record.ScanLogID,
		"image_path":  record.ImagePath,
		"created_at":  record.CreatedAt,
	})
}

// Feedback applies user feedback to a scan record and re-derives its
// quality, failure, and active-learning fields.
func (h *Handler) Feedback(c *gin.Context) {
	requestID := h.requestID(c)

	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.clientError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
		return
	}

	updated, err := h.scans.UpdateFeedback(c.Request.Context(), req.ScanLogID, domain.FeedbackUpdate{
		Confirmed:   req.UserConfirmed,
		CorrectedTo: req.UserCorrectedTo,
		NotFood:     req.NotFood,
		BadPhoto:    req.BadPhoto,
		Notes:       req.FeedbackNotes,
		Context:     req.FeedbackContext,
	})
	if err != nil {
		if errors.Is(err, domain.ErrScanNotFound) {
			h.clientError(c, http.StatusNotFound, "SCAN_LOG_NOT_FOUND",
				"no scan log found for id="+req.ScanLogID, requestID)
			return
		}
		if errors.Is(err, domain.ErrInvalidRequest) {
			h.clientError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), requestID)
			return
		}
		h.logger.Error().Err(err).Str("request_id", requestID).Msg("failed to update scan record")
		h.clientError(c, http.StatusInternalServerError, "FEEDBACK_FAILED", "failed to update scan record", requestID)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":                true,
		"scan_log_id":       updated.ScanLogID,
		"updated_at":        updated.UpdatedAt,
		"training_priority": updated.TrainingPriority,
		"quality_bucket":    updated.DataQuality.QualityBucket,
	})
}

func (h *Handler) requestID(c *gin.Context) string {
	if id := c.GetHeader(requestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func (h *Handler) clientError(c *gin.Context, status int, code, message, requestID string) {
	c.AbortWithStatusJSON(status, gin.H{
		"ok":         false,
		"error":      code,
		"message":    message,
		"request_id": requestID,
	})
}

func coerceDetections(rows []detectionIn) []domain.Detection {
	output := make([]domain.Detection, 0, len(rows))
	for _, row := range rows {
		if row.Label == "" {
			continue
		}
		confidence := 0.0
		if row.Confidence != nil {
			confidence = *row.Confidence
		}
		output = append(output, domain.Detection{Label: row.Label, Confidence: confidence, BBox: row.BBox})
	}
	return output
}

func coerceTextDetections(rows []textDetectionIn) []domain.TextDetection {
	output := make([]domain.TextDetection, 0, len(rows))
	for _, row := range rows {
		if row.Text == "" {
			continue
		}
		confidence := 0.0
		if row.Confidence != nil {
			confidence = *row.Confidence
		}
		output = append(output, domain.TextDetection{Text: row.Text, Confidence: confidence, BBox: row.BBox})
	}
	return output
}

func buildEvidence(req detectRequest, detections []domain.Detection, textDetections []domain.TextDetection) domain.ObservedEvidence {
	ocrLines := make([]string, 0, len(textDetections))
	for _, det := range textDetections {
		ocrLines = append(ocrLines, det.Text)
	}
	visualHints := make([]string, 0, len(detections))
	visualScores := make(map[string]float64, len(detections))
	for _, det := range detections {
		visualHints = append(visualHints, det.Label)
		if det.Confidence > visualScores[det.Label] {
			visualScores[det.Label] = det.Confidence
		}
	}
	return domain.ObservedEvidence{
		OCRLines:           ocrLines,
		TextDetections:     textDetections,
		Barcode:            req.Barcode,
		PackagingType:      req.PackagingType,
		VisualHints:        visualHints,
		VisualScoreByLabel: visualScores,
		BrandHint:          req.BrandHint,
	}
}

func buildAnalysis(
	evidence domain.ObservedEvidence,
	candidates []domain.RankedCandidate,
	detections []domain.Detection,
	textDetections []domain.TextDetection,
	nonFoodFiltered int,
) domain.AnalysisSnapshot {
	analysis := domain.AnalysisSnapshot{
		PackagingType:        evidence.PackagingType,
		StructuredOCRFields:  usecase.ExtractFields(evidence.OCRLines, textDetections),
		CandidateCount:       len(candidates),
		DetectionCount:       len(detections),
		TextDetectionCount:   len(textDetections),
		NonFoodFilteredCount: nonFoodFiltered,
	}
	labels := make([]string, 0, len(detections))
	for _, det := range detections {
		labels = append(labels, det.Label)
	}
	analysis.DetectedLabels = labels

	if len(candidates) > 0 {
		top := candidates[0]
		confidence := top.Confidence
		margin := top.ScoreMargin
		accepted := top.Accepted
		analysis.TopMatchConfidence = &confidence
		analysis.TopMatchMargin = &margin
		analysis.TopMatchAccepted = &accepted
	}
	return analysis
}
