package scanstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/foodscan/backend/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func testRecord(id string) *domain.ScanRecord {
	return &domain.ScanRecord{
		ScanLogID:           id,
		ImagePath:           "images/2025-06-15/" + id + ".jpg",
		RawImagePath:        "images/2025-06-15/" + id + ".jpg",
		PredictedProduct:    "Urge Original",
		PredictedCandidates: []domain.RankedCandidate{},
		CreatedAt:           time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
		UpdatedAt:           time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testRecord("scan-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := store.Get(ctx, "scan-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ScanLogID != "scan-1" {
		t.Errorf("ScanLogID = %s, want scan-1", got.ScanLogID)
	}
	if got.PredictedProduct != "Urge Original" {
		t.Errorf("PredictedProduct = %s, want Urge Original", got.PredictedProduct)
	}
	if !got.CreatedAt.Equal(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CreatedAt = %v, not round-tripped", got.CreatedAt)
	}
}

func TestCreatePreparesCaptureDirs(t *testing.T) {
	store := newTestStore(t)
	record := testRecord("scan-dirs")
	record.CroppedPackageImagePath = "crops/2025-06-15/scan-dirs.jpg"

	if err := store.Create(context.Background(), record); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, dir := range []string{"images/2025-06-15", "crops/2025-06-15", "records"} {
		info, err := os.Stat(filepath.Join(store.BaseDir(), dir))
		if err != nil || !info.IsDir() {
			t.Errorf("directory %s missing after Create (err=%v)", dir, err)
		}
	}
}

func TestGetUnknownID(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, domain.ErrScanNotFound) {
		t.Errorf("error = %v, want ErrScanNotFound", err)
	}
}

func TestUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testRecord("scan-2")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	t.Run("mutation persists", func(t *testing.T) {
		updated, err := store.Update(ctx, "scan-2", func(rec *domain.ScanRecord) error {
			rec.NotFood = true
			return nil
		})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if !updated.NotFood {
			t.Error("returned record missing mutation")
		}

		got, err := store.Get(ctx, "scan-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if !got.NotFood {
			t.Error("persisted record missing mutation")
		}
	})

	t.Run("mutation error aborts the write", func(t *testing.T) {
		wantErr := errors.New("validation failed")
		_, err := store.Update(ctx, "scan-2", func(rec *domain.ScanRecord) error {
			rec.BadPhoto = true
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("error = %v, want %v", err, wantErr)
		}

		got, err := store.Get(ctx, "scan-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.BadPhoto {
			t.Error("aborted mutation leaked to disk")
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := store.Update(ctx, "missing", func(rec *domain.ScanRecord) error { return nil })
		if !errors.Is(err, domain.ErrScanNotFound) {
			t.Errorf("error = %v, want ErrScanNotFound", err)
		}
	})
}

func TestConcurrentDisjointUpdates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Create(ctx, testRecord("scan-3")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Update(ctx, "scan-3", func(rec *domain.ScanRecord) error {
				rec.FailureTags = append(rec.FailureTags, fmt.Sprintf("tag-%02d", i))
				return nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Update: %v", err)
		}
	}

	got, err := store.Get(ctx, "scan-3")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.FailureTags) != n {
		t.Errorf("got %d tags, want %d (lost update)", len(got.FailureTags), n)
	}
	seen := make(map[string]bool)
	for _, tag := range got.FailureTags {
		seen[tag] = true
	}
	for i := 0; i < n; i++ {
		if !seen[fmt.Sprintf("tag-%02d", i)] {
			t.Errorf("tag-%02d missing from final state", i)
		}
	}
}

func TestConcurrentDistinctRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- store.Create(ctx, testRecord(fmt.Sprintf("scan-par-%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Create: %v", err)
		}
	}

	for i := 0; i < n; i++ {
		if _, err := store.Get(ctx, fmt.Sprintf("scan-par-%d", i)); err != nil {
			t.Errorf("Get scan-par-%d: %v", i, err)
		}
	}
}
