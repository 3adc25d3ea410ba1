package usecase

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/foodscan/backend/internal/domain"
)

// memStore is an in-memory ScanStore for service tests.
type memStore struct {
	mu      sync.Mutex
	records map[string]domain.ScanRecord
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]domain.ScanRecord)}
}

func (s *memStore) Create(_ context.Context, record *domain.ScanRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ScanLogID] = *record
	return nil
}

func (s *memStore) Get(_ context.Context, scanLogID string) (*domain.ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[scanLogID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScanNotFound, scanLogID)
	}
	return &record, nil
}

func (s *memStore) Update(_ context.Context, scanLogID string, mutate func(*domain.ScanRecord) error) (*domain.ScanRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[scanLogID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrScanNotFound, scanLogID)
	}
	if err := mutate(&record); err != nil {
		return nil, err
	}
	s.records[scanLogID] = record
	return &record, nil
}

func newTestScanLogService() (*ScanLogService, *memStore) {
	store := newMemStore()
	svc := NewScanLogService(store, zerolog.Nop())
	svc.now = func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	}
	return svc, store
}

func TestLogScan(t *testing.T) {
	ctx := context.Background()

	t.Run("assigns id and date-partitioned paths", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{MimeType: "image/png"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.ScanLogID == "" {
			t.Error("ScanLogID is empty")
		}
		wantPath := "images/2025-06-15/" + record.ScanLogID + ".png"
		if record.ImagePath != wantPath {
			t.Errorf("ImagePath = %s, want %s", record.ImagePath, wantPath)
		}
		if record.RawImagePath != wantPath {
			t.Errorf("RawImagePath = %s, want %s", record.RawImagePath, wantPath)
		}
		if record.CroppedPackageImagePath != "" {
			t.Errorf("CroppedPackageImagePath = %s, want empty without crop", record.CroppedPackageImagePath)
		}
	})

	t.Run("crop path when a package crop exists", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{HasPackageCrop: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		wantPrefix := "crops/2025-06-15/"
		if !strings.HasPrefix(record.CroppedPackageImagePath, wantPrefix) {
			t.Errorf("CroppedPackageImagePath = %s, want prefix %s", record.CroppedPackageImagePath, wantPrefix)
		}
		if !strings.HasSuffix(record.CroppedPackageImagePath, ".jpg") {
			t.Errorf("CroppedPackageImagePath = %s, want .jpg default extension", record.CroppedPackageImagePath)
		}
	})

	t.Run("computes initial derived fields", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{
			PredictedProduct: "Urge Original",
			Analysis: domain.AnalysisSnapshot{
				TopMatchConfidence: floatPtr(0.9),
				TopMatchMargin:     floatPtr(0.5),
			},
			Context: domain.ScanContext{ScanMode: "live"},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.DataQuality == nil {
			t.Fatal("DataQuality not derived")
		}
		if record.DataQuality.QualityBucket != "high" {
			t.Errorf("QualityBucket = %s, want high", record.DataQuality.QualityBucket)
		}
		if record.TrainingPriority != "low" {
			t.Errorf("TrainingPriority = %s, want low", record.TrainingPriority)
		}
		if record.ActiveLearning.DomainKey != "live:unknown:unknown" {
			t.Errorf("DomainKey = %s, want live:unknown:unknown", record.ActiveLearning.DomainKey)
		}
	})

	t.Run("sanitizes evidence", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{
			Detections: []domain.Detection{
				{Label: "  can  ", Confidence: 1.7},
				{Label: "", Confidence: 0.5},
			},
			OCRLines: []string{"  Urge ", "", "  "},
			Barcode:  " 7040512000011 ",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(record.Detections) != 1 || record.Detections[0].Label != "can" || record.Detections[0].Confidence != 1.0 {
			t.Errorf("Detections = %+v, want one clamped 'can'", record.Detections)
		}
		if len(record.OCR) != 1 || record.OCR[0] != "Urge" {
			t.Errorf("OCR = %v, want [Urge]", record.OCR)
		}
		if record.Barcode != "7040512000011" {
			t.Errorf("Barcode = %q, want trimmed", record.Barcode)
		}
	})

	t.Run("nil candidates become an empty slice", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.PredictedCandidates == nil {
			t.Error("PredictedCandidates is nil, want empty slice")
		}
	})
}

func TestUpdateFeedback(t *testing.T) {
	ctx := context.Background()

	t.Run("empty id is invalid", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		_, err := svc.UpdateFeedback(ctx, "  ", domain.FeedbackUpdate{})
		if !errors.Is(err, domain.ErrInvalidRequest) {
			t.Errorf("error = %v, want ErrInvalidRequest", err)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		_, err := svc.UpdateFeedback(ctx, "missing", domain.FeedbackUpdate{})
		if !errors.Is(err, domain.ErrScanNotFound) {
			t.Errorf("error = %v, want ErrScanNotFound", err)
		}
	})

	t.Run("confirmation accepts the prediction", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{PredictedProduct: "Urge Original"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		updated, err := svc.UpdateFeedback(ctx, record.ScanLogID, domain.FeedbackUpdate{
			Confirmed: boolPtr(true),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.UserAcceptedProduct != "Urge Original" {
			t.Errorf("UserAcceptedProduct = %s, want Urge Original", updated.UserAcceptedProduct)
		}
	})

	t.Run("correction wins over prediction", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{PredictedProduct: "Urge Original"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		updated, err := svc.UpdateFeedback(ctx, record.ScanLogID, domain.FeedbackUpdate{
			Confirmed:   boolPtr(false),
			CorrectedTo: stringPtr("  Solo Super  "),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if updated.UserCorrectedTo != "Solo Super" {
			t.Errorf("UserCorrectedTo = %q, want trimmed Solo Super", updated.UserCorrectedTo)
		}
		if updated.UserAcceptedProduct != "Solo Super" {
			t.Errorf("UserAcceptedProduct = %s, want Solo Super", updated.UserAcceptedProduct)
		}
		if !containsString(updated.FailureTags, "wrong_product_match") {
			t.Errorf("FailureTags = %v, want wrong_product_match", updated.FailureTags)
		}
		if updated.TrainingPriority != "high" {
			t.Errorf("TrainingPriority = %s, want high", updated.TrainingPriority)
		}
	})

	t.Run("absent fields keep their prior value", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{PredictedProduct: "Urge Original"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if _, err := svc.UpdateFeedback(ctx, record.ScanLogID, domain.FeedbackUpdate{
			NotFood: boolPtr(true),
		}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		updated, err := svc.UpdateFeedback(ctx, record.ScanLogID, domain.FeedbackUpdate{
			Notes: stringPtr("shelf scan"),
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !updated.NotFood {
			t.Error("NotFood reset by unrelated update")
		}
		if updated.FeedbackNotes != "shelf scan" {
			t.Errorf("FeedbackNotes = %q, want shelf scan", updated.FeedbackNotes)
		}
	})

	t.Run("identical payloads derive identical fields", func(t *testing.T) {
		svc, _ := newTestScanLogService()
		record, err := svc.LogScan(ctx, LogScanParams{PredictedProduct: "Urge Original"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		update := domain.FeedbackUpdate{
			Confirmed:   boolPtr(false),
			CorrectedTo: stringPtr("Solo Super"),
			Context: &domain.FeedbackContext{
				SelectedFrameSharpness: floatPtr(0.1),
			},
		}
		first, err := svc.UpdateFeedback(ctx, record.ScanLogID, update)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		second, err := svc.UpdateFeedback(ctx, record.ScanLogID, update)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if !reflect.DeepEqual(first.FailureTags, second.FailureTags) {
			t.Errorf("failure tags differ: %v vs %v", first.FailureTags, second.FailureTags)
		}
		if !reflect.DeepEqual(first.DataQuality, second.DataQuality) {
			t.Error("data quality differs between identical updates")
		}
		if !reflect.DeepEqual(first.ActiveLearning, second.ActiveLearning) {
			t.Error("active learning differs between identical updates")
		}
		if first.TrainingPriority != second.TrainingPriority {
			t.Errorf("priority differs: %s vs %s", first.TrainingPriority, second.TrainingPriority)
		}
	})
}
