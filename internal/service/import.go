package service

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/timmy/alttext/internal/domain"
	"github.com/timmy/alttext/internal/logger"
	"github.com/timmy/alttext/internal/source"
	"github.com/timmy/alttext/internal/storage"
)

// SubjectWriter is the part of repository.SubjectRepository the importer uses.
type SubjectWriter interface {
	Upsert(ctx context.Context, subject *domain.Subject) error
	ExistsByMD5Hash(ctx context.Context, md5Hash string) (bool, error)
}

// ImportService loads images from a source into object storage and the subject table.
type ImportService struct {
	subjects  SubjectWriter
	storage   storage.ObjectStorage
	workers   int
	batchSize int
}

// ImportConfig holds configuration for the import service.
type ImportConfig struct {
	Workers   int
	BatchSize int
}

// NewImportService creates a new import service.
func NewImportService(subjects SubjectWriter, objectStorage storage.ObjectStorage, cfg *ImportConfig) *ImportService {
	s := &ImportService{subjects: subjects, storage: objectStorage, workers: 1, batchSize: 20}
	if cfg != nil && cfg.Workers > 0 {
		s.workers = cfg.Workers
	}
	if cfg != nil && cfg.BatchSize > 0 {
		s.batchSize = cfg.BatchSize
	}
	return s
}

// ImportStats holds statistics for an import run.
type ImportStats struct {
	TotalItems     int64     `json:"total_items"`
	ProcessedItems int64     `json:"processed_items"`
	SkippedItems   int64     `json:"skipped_items"`
	FailedItems    int64     `json:"failed_items"`
	SubjectIDs     []string  `json:"subject_ids,omitempty"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
}

// ImportOptions holds options for an import run.
type ImportOptions struct {
	Force bool // re-import files whose content hash is already known
}

type importResult struct {
	sourceID  string
	subjectID string
	skipped   bool
	err       error
}

// errSkipDuplicate marks an item whose content is already imported.
var errSkipDuplicate = errors.New("skipped: duplicate MD5")

// ImportFromSource imports up to limit items from src.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: source to read from.
//   - limit: maximum number of items; zero or less means all.
//   - opts: import options; nil uses defaults.
// Returns:
//   - *ImportStats: counts for the run.
//   - error: always nil today; per-item failures are counted instead.
func (s *ImportService) ImportFromSource(ctx context.Context, src source.Source, limit int, opts *ImportOptions) (*ImportStats, error) {
	if opts == nil {
		opts = &ImportOptions{}
	}
	ctx = logger.SetComponent(ctx, "import")
	stats := &ImportStats{StartTime: time.Now()}

	logger.With(logger.Fields{
		"source": src.GetSourceID(),
		"limit":  limit,
		"force":  opts.Force,
	}).Info(ctx, "Starting import")

	itemsChan := make(chan source.Item, s.workers*2)
	resultsChan := make(chan *importResult, s.workers*2)

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, src.GetSourceID(), itemsChan, resultsChan, opts)
		}()
	}

	done := make(chan struct{})
	go func() {
		for result := range resultsChan {
			atomic.AddInt64(&stats.ProcessedItems, 1)
			switch {
			case result.skipped:
				atomic.AddInt64(&stats.SkippedItems, 1)
			case result.err != nil:
				atomic.AddInt64(&stats.FailedItems, 1)
				logger.With(logger.Fields{
					"source_id": result.sourceID,
				}).Error(ctx, "Failed to import item: %v", result.err)
			default:
				stats.SubjectIDs = append(stats.SubjectIDs, result.subjectID)
			}
		}
		close(done)
	}()

	cursor := ""
	fetched := 0
fetch:
	for ctx.Err() == nil {
		batchLimit := s.batchSize
		if limit > 0 {
			remaining := limit - fetched
			if remaining <= 0 {
				break
			}
			if batchLimit > remaining {
				batchLimit = remaining
			}
		}

		items, nextCursor, err := src.FetchBatch(ctx, cursor, batchLimit)
		if err != nil {
			logger.CtxError(ctx, "Failed to fetch batch: %v", err)
			break
		}
		if len(items) == 0 {
			break
		}

		atomic.AddInt64(&stats.TotalItems, int64(len(items)))
		fetched += len(items)

		for _, item := range items {
			select {
			case itemsChan <- item:
			case <-ctx.Done():
				break fetch
			}
		}

		if nextCursor == "" {
			break
		}
		cursor = nextCursor
	}

	close(itemsChan)
	wg.Wait()
	close(resultsChan)
	<-done

	stats.EndTime = time.Now()
	logger.With(logger.Fields{
		"total":     stats.TotalItems,
		"processed": stats.ProcessedItems,
		"skipped":   stats.SkippedItems,
		"failed":    stats.FailedItems,
	}).WithDuration(stats.EndTime.Sub(stats.StartTime).Milliseconds()).Info(ctx, "Import completed")
	return stats, nil
}

func (s *ImportService) worker(ctx context.Context, sourceType string, items <-chan source.Item, results chan<- *importResult, opts *ImportOptions) {
	for item := range items {
		if ctx.Err() != nil {
			return
		}
		result := &importResult{sourceID: item.SourceID}
		subjectID, err := s.importItem(ctx, sourceType, &item, opts)
		switch {
		case errors.Is(err, errSkipDuplicate):
			result.skipped = true
		case err != nil:
			result.err = err
		default:
			result.subjectID = subjectID
		}
		results <- result
	}
}

func (s *ImportService) importItem(ctx context.Context, sourceType string, item *source.Item, opts *ImportOptions) (string, error) {
	if item.LocalPath == "" {
		return "", fmt.Errorf("item %s has no local file", item.SourceID)
	}
	data, err := os.ReadFile(item.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > storage.MaxObjectSize {
		return "", fmt.Errorf("image is %d bytes, max %d", len(data), storage.MaxObjectSize)
	}

	mime := mimetype.Detect(data)
	if !strings.HasPrefix(mime.String(), "image/") {
		return "", fmt.Errorf("%s is %s, not an image", item.LocalPath, mime.String())
	}

	md5Hash := calculateMD5(data)
	if !opts.Force {
		exists, err := s.subjects.ExistsByMD5Hash(ctx, md5Hash)
		if err != nil {
			return "", fmt.Errorf("failed to check MD5: %w", err)
		}
		if exists {
			return "", errSkipDuplicate
		}
	}

	width, height, err := imageDimensions(data)
	if err != nil {
		logger.With(logger.Fields{"source_id": item.SourceID}).Warn(ctx, "Failed to get image dimensions: %v", err)
	}

	format := item.Format
	if format == "" {
		format = strings.TrimPrefix(mime.Extension(), ".")
	}

	// Bucket by MD5 prefix so source paths never leak into object keys.
	storageKey := fmt.Sprintf("%s/%s.%s", md5Hash[:2], md5Hash, format)
	exists, err := s.storage.Exists(ctx, storageKey)
	if err != nil {
		return "", fmt.Errorf("failed to check storage existence: %w", err)
	}
	if !exists {
		if err := s.storage.Upload(ctx, storageKey, bytes.NewReader(data), int64(len(data)), mime.String()); err != nil {
			return "", fmt.Errorf("failed to upload to storage: %w", err)
		}
	}

	subject := &domain.Subject{
		SourceType: sourceType,
		SourceID:   item.SourceID,
		StorageKey: storageKey,
		Format:     format,
		Width:      width,
		Height:     height,
		FileSize:   int64(len(data)),
		MD5Hash:    md5Hash,
		PostTitle:  item.PostTitle,
		Categories: item.Categories,
		Tags:       item.Tags,
		Exif:       item.Exif,
	}
	if err := s.subjects.Upsert(ctx, subject); err != nil {
		return "", fmt.Errorf("failed to save subject: %w", err)
	}
	return subject.ID, nil
}

func calculateMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}
