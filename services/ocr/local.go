package ocr

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gofiber/fiber/v2/log"
	"github.com/ledongthuc/pdf"
)

// Downloader reads stored objects
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// LocalEngine reads the embedded text layer of born-digital PDFs. Jobs run
// synchronously in Start and are handed out once by Get. It yields LINE
// blocks only; table structure needs the managed engine.
type LocalEngine struct {
	store Downloader

	mu   sync.Mutex
	jobs map[string]*Job
	seq  atomic.Int64
}

// NewLocalEngine creates an engine reading objects from store
func NewLocalEngine(store Downloader) *LocalEngine {
	return &LocalEngine{store: store, jobs: make(map[string]*Job)}
}

// Start extracts the text layer of key and parks the finished job
func (e *LocalEngine) Start(ctx context.Context, key string, kind JobKind) (string, error) {
	id := "local-" + strconv.FormatInt(e.seq.Add(1), 10)
	job := &Job{ID: id, Kind: kind, Status: JobSucceeded}

	if kind == JobKindText {
		content, err := e.store.Download(ctx, key)
		if err != nil {
			return "", err
		}
		blocks, err := TextLayerBlocks(content)
		if err != nil {
			job.Status = JobFailed
			job.Message = err.Error()
		}
		job.Blocks = blocks
	}

	e.mu.Lock()
	e.jobs[id] = job
	e.mu.Unlock()
	return id, nil
}

// Get returns the parked job and forgets it
func (e *LocalEngine) Get(ctx context.Context, jobID string, kind JobKind) (*Job, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	job, ok := e.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	delete(e.jobs, jobID)
	return job, nil
}

// TextLayerBlocks turns each text row of every page into a LINE block
func TextLayerBlocks(content []byte) ([]Block, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("empty PDF content")
	}

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	var blocks []Block
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			log.Warnf("[OCR] Row extraction failed for page %d: %v", i, err)
			continue
		}
		for _, row := range rows {
			var line strings.Builder
			for _, word := range row.Content {
				line.WriteString(word.S)
			}
			text := strings.TrimSpace(line.String())
			if text == "" {
				continue
			}
			blocks = append(blocks, Block{
				ID:   fmt.Sprintf("p%d-r%d", i, len(blocks)),
				Type: BlockLine,
				Text: text,
			})
		}
	}
	return blocks, nil
}
