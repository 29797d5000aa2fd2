package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"sync"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/amazon"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/pdfvalidation"
	"github.com/gofiber/fiber/v2/log"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PageRange represents a range of pages (1-indexed, inclusive)
type PageRange struct {
	Start int
	End   int
}

// Selection renders the range as a page selection expression
func (r PageRange) Selection() string {
	if r.Start == r.End {
		return fmt.Sprintf("%d", r.Start)
	}
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}

// ChunkConfig holds configuration for chunking PDFs
type ChunkConfig struct {
	PagesPerChunk int // Default: 2
}

// DefaultChunkConfig returns the default chunking configuration
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{PagesPerChunk: 2}
}

// CalculateChunks partitions totalPages into contiguous, non-overlapping
// ranges of PagesPerChunk pages; the last range may be shorter.
// Example: 5 pages with PagesPerChunk=2 returns {1,2}, {3,4}, {5,5}
func CalculateChunks(totalPages int, config ChunkConfig) []PageRange {
	if totalPages <= 0 {
		return nil
	}
	if config.PagesPerChunk <= 0 {
		config.PagesPerChunk = DefaultChunkConfig().PagesPerChunk
	}

	chunks := make([]PageRange, 0, (totalPages+config.PagesPerChunk-1)/config.PagesPerChunk)
	for start := 1; start <= totalPages; start += config.PagesPerChunk {
		end := start + config.PagesPerChunk - 1
		if end > totalPages {
			end = totalPages
		}
		chunks = append(chunks, PageRange{Start: start, End: end})
	}
	return chunks
}

var disableConfigDir sync.Once

// PDFSplitter cuts page ranges out of a PDF
type PDFSplitter struct {
	conf *pdfmodel.Configuration
}

// NewPDFSplitter creates a splitter with relaxed validation
func NewPDFSplitter() *PDFSplitter {
	disableConfigDir.Do(api.DisableConfigDir)
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return &PDFSplitter{conf: conf}
}

// PageCount returns the number of pages in content
func (p *PDFSplitter) PageCount(content []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(content), p.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to count PDF pages: %w", err)
	}
	return n, nil
}

// ExtractRange returns a standalone PDF holding only the pages in r
func (p *PDFSplitter) ExtractRange(content []byte, r PageRange) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Trim(bytes.NewReader(content), &out, []string{r.Selection()}, p.conf); err != nil {
		return nil, fmt.Errorf("failed to extract pages %s: %w", r.Selection(), err)
	}
	return out.Bytes(), nil
}

// SplitResult describes the chunks written for one file
type SplitResult struct {
	FileKey   string   `json:"fileKey"`
	Pages     int      `json:"pages"`
	ChunkURLs []string `json:"chunkUrls"`
}

// SplitterService turns an uploaded report into page chunks and queues
// them for OCR
type SplitterService struct {
	store    ObjectStore
	files    FileStore
	ocrQueue MessageSender
	splitter *PDFSplitter
	chunks   ChunkConfig
	limits   pdfvalidation.PDFLimits
}

// NewSplitterService creates a splitter service
func NewSplitterService(store ObjectStore, files FileStore, ocrQueue MessageSender, chunks ChunkConfig) *SplitterService {
	return &SplitterService{
		store:    store,
		files:    files,
		ocrQueue: ocrQueue,
		splitter: NewPDFSplitter(),
		chunks:   chunks,
		limits:   pdfvalidation.ReportLimits,
	}
}

// HandleUploadEvent registers and splits every report named in a storage
// notification. Each key is attempted; failures are joined.
func (s *SplitterService) HandleUploadEvent(ctx context.Context, body []byte) error {
	keys, err := model.ParseUploadEvent(body)
	if err != nil {
		return Permanent(err)
	}
	if len(keys) == 0 {
		log.Debugf("[Splitter] Notification carried no report uploads")
		return nil
	}

	var errs []error
	for _, key := range keys {
		if err := s.files.RegisterFile(ctx, &model.FileRecord{FileKey: key, Status: model.FileStatusRegistered}); err != nil {
			errs = append(errs, fmt.Errorf("failed to register %s: %w", key, err))
			continue
		}
		if _, err := s.Split(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Split writes SplitFiles/<name>/<i> for every chunk, records their URLs,
// writes the metadata stub and queues the file for OCR. Chunk keys are
// deterministic, so a retried split overwrites rather than duplicates, and
// chunks left over from an earlier, longer upload of the key are removed.
func (s *SplitterService) Split(ctx context.Context, fileKey string) (*SplitResult, error) {
	key := model.ObjectKey(fileKey)
	log.Infof("[Splitter] Processing %s", key)

	content, err := s.store.Download(ctx, key)
	if err != nil {
		if errors.Is(err, amazon.ErrObjectNotFound) {
			return nil, Permanent(err)
		}
		return nil, err
	}
	content = pdfvalidation.Sanitize(content)

	validation, err := pdfvalidation.ValidatePDFBytes(content, s.limits)
	if err != nil {
		return nil, err
	}
	if !validation.Valid {
		s.markFailed(ctx, key)
		return nil, Permanent(fmt.Errorf("%s: %w", key, validation.Err()))
	}

	pages, err := s.splitter.PageCount(content)
	if err != nil {
		s.markFailed(ctx, key)
		return nil, Permanent(err)
	}

	ranges := CalculateChunks(pages, s.chunks)
	result := &SplitResult{FileKey: key, Pages: pages}

	var splitErr error
	for i, r := range ranges {
		chunk, err := s.splitter.ExtractRange(content, r)
		if err != nil {
			splitErr = fmt.Errorf("chunk %d of %s: %w", i, key, err)
			break
		}
		url, err := s.store.Upload(ctx, model.ChunkKey(key, i), chunk, "application/pdf")
		if err != nil {
			splitErr = fmt.Errorf("chunk %d of %s: %w", i, key, err)
			break
		}
		result.ChunkURLs = append(result.ChunkURLs, url)
	}

	if splitErr != nil {
		if len(result.ChunkURLs) > 0 {
			if err := s.files.AppendChunkURLs(ctx, key, result.ChunkURLs); err != nil {
				return nil, fmt.Errorf("failed to record chunks of %s: %w", key, err)
			}
		}
		log.Errorf("[Splitter] Wrote %d/%d chunks of %s: %v", len(result.ChunkURLs), len(ranges), key, splitErr)
		return result, splitErr
	}

	// A re-uploaded report with fewer pages leaves higher chunks behind
	if err := s.removeStaleChunks(ctx, key, len(ranges)); err != nil {
		return nil, err
	}
	if err := s.files.ReplaceChunkURLs(ctx, key, result.ChunkURLs); err != nil {
		return nil, fmt.Errorf("failed to record chunks of %s: %w", key, err)
	}

	if _, err := s.store.Upload(ctx, model.MetadataStubKey(key), []byte("{}"), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to write metadata stub for %s: %w", key, err)
	}

	if err := s.enqueueOCR(ctx, key); err != nil {
		return nil, err
	}

	log.Infof("[Splitter] Split %s (%d pages) into %d chunks", key, pages, len(result.ChunkURLs))
	return result, nil
}

// removeStaleChunks deletes chunk objects with an index of count or more
func (s *SplitterService) removeStaleChunks(ctx context.Context, key string, count int) error {
	existing, err := s.store.List(ctx, model.ChunkPrefix(key))
	if err != nil {
		return fmt.Errorf("failed to list chunks of %s: %w", key, err)
	}
	var stale []string
	for _, k := range existing {
		if idx, err := strconv.Atoi(path.Base(k)); err != nil || idx >= count {
			stale = append(stale, k)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.store.DeleteMany(ctx, stale); err != nil {
		return fmt.Errorf("failed to remove %d stale chunks of %s: %w", len(stale), key, err)
	}
	log.Infof("[Splitter] Removed %d stale chunks of %s", len(stale), key)
	return nil
}

func (s *SplitterService) enqueueOCR(ctx context.Context, key string) error {
	msg := model.OCRMessage{FileKey: key}
	if rec, err := s.files.GetFileRecord(ctx, key); err == nil {
		msg.BatchID = rec.BatchID
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := s.ocrQueue.Send(ctx, body, key, nil); err != nil {
		return fmt.Errorf("failed to queue OCR for %s: %w", key, err)
	}
	return nil
}

func (s *SplitterService) markFailed(ctx context.Context, key string) {
	if err := s.files.UpdateFileStatus(ctx, key, model.FileStatusFailed); err != nil {
		log.Warnf("[Splitter] Failed to mark %s failed: %v", key, err)
	}
}
