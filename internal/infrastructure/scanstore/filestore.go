// Package scanstore persists one JSON document per scan under a
// creation-date-partitioned dataset layout:
//
//	<base>/records/<scan_log_id>.json
//	<base>/images/<yyyy-mm-dd>/<scan_log_id>.<ext>   (paths only; blobs external)
//	<base>/crops/<yyyy-mm-dd>/<scan_log_id>.<ext>
//
// Each record's read-modify-write cycle runs under its own lock so feedback
// on distinct scans never blocks. Writes are atomic via temp file + rename.
package scanstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/foodscan/backend/internal/domain"
)

// FileStore is a file-backed ScanStore.
type FileStore struct {
	baseDir    string
	recordsDir string

	mu    sync.Mutex // guards locks
	locks map[string]*sync.Mutex
}

// NewFileStore creates the store rooted at baseDir, creating the records
// directory eagerly so the first write cannot race a mkdir.
func NewFileStore(baseDir string) (*FileStore, error) {
	recordsDir := filepath.Join(baseDir, "records")
	if err := os.MkdirAll(recordsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create records dir: %w", err)
	}
	return &FileStore{
		baseDir:    baseDir,
		recordsDir: recordsDir,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// BaseDir returns the dataset root.
func (s *FileStore) BaseDir() string {
	return s.baseDir
}

// Create persists a new record and prepares the sibling capture directories
// named by the record's image paths.
func (s *FileStore) Create(ctx context.Context, record *domain.ScanRecord) error {
	lock := s.lockFor(record.ScanLogID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ensureCaptureDirs(record); err != nil {
		return err
	}
	return s.write(record)
}

// Get loads a record by id; unknown ids map to domain.ErrScanNotFound.
func (s *FileStore) Get(ctx context.Context, scanLogID string) (*domain.ScanRecord, error) {
	lock := s.lockFor(scanLogID)
	lock.Lock()
	defer lock.Unlock()
	return s.read(scanLogID)
}

// Update runs mutate on the current record state and persists the result,
// all under the record's lock. No lock is held across any other record.
func (s *FileStore) Update(ctx context.Context, scanLogID string, mutate func(*domain.ScanRecord) error) (*domain.ScanRecord, error) {
	lock := s.lockFor(scanLogID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.read(scanLogID)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	if err := s.write(record); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *FileStore) lockFor(scanLogID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[scanLogID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[scanLogID] = lock
	}
	return lock
}

func (s *FileStore) recordPath(scanLogID string) string {
	return filepath.Join(s.recordsDir, scanLogID+".json")
}

func (s *FileStore) read(scanLogID string) (*domain.ScanRecord, error) {
	raw, err := os.ReadFile(s.recordPath(scanLogID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrScanNotFound, scanLogID)
		}
		return nil, fmt.Errorf("read scan record: %w", err)
	}
	var record domain.ScanRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("decode scan record %s: %w", scanLogID, err)
	}
	return &record, nil
}

func (s *FileStore) write(record *domain.ScanRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode scan record %s: %w", record.ScanLogID, err)
	}
	target := s.recordPath(record.ScanLogID)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o644); err != nil {
		return fmt.Errorf("write scan record %s: %w", record.ScanLogID, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit scan record %s: %w", record.ScanLogID, err)
	}
	return nil
}

func (s *FileStore) ensureCaptureDirs(record *domain.ScanRecord) error {
	for _, rel := range []string{record.ImagePath, record.CroppedPackageImagePath} {
		if rel == "" {
			continue
		}
		dir := filepath.Dir(filepath.Join(s.baseDir, filepath.FromSlash(rel)))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create capture dir: %w", err)
		}
	}
	return nil
}
