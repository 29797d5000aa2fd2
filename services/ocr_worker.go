package services

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/ocr"
	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
)

// ChunkSeparator joins chunk texts in the aggregate document
const ChunkSeparator = "\n\n"

// OCRWorkerConfig tunes the OCR worker
type OCRWorkerConfig struct {
	Poll          ocr.PollConfig
	ChunkParallel int // chunks read concurrently per file
}

// DefaultOCRWorkerConfig returns the default OCR worker configuration
func DefaultOCRWorkerConfig() OCRWorkerConfig {
	return OCRWorkerConfig{
		Poll:          ocr.DefaultPollConfig(),
		ChunkParallel: 4,
	}
}

// OCRWorker reads every chunk of a split file and forwards the joined text
// to the extraction queue
type OCRWorker struct {
	store           ObjectStore
	files           FileStore
	engine          ocr.Engine
	extractionQueue MessageSender
	cfg             OCRWorkerConfig
}

// NewOCRWorker creates an OCR worker
func NewOCRWorker(store ObjectStore, files FileStore, engine ocr.Engine, extractionQueue MessageSender, cfg OCRWorkerConfig) *OCRWorker {
	if cfg.ChunkParallel <= 0 {
		cfg.ChunkParallel = DefaultOCRWorkerConfig().ChunkParallel
	}
	return &OCRWorker{
		store:           store,
		files:           files,
		engine:          engine,
		extractionQueue: extractionQueue,
		cfg:             cfg,
	}
}

// HandleMessage decodes an OCR request and processes it
func (w *OCRWorker) HandleMessage(ctx context.Context, body []byte) error {
	msg, err := model.ParseOCRMessage(body)
	if err != nil {
		return Permanent(err)
	}
	_, err = w.Process(ctx, msg)
	return err
}

// Process reads the chunks of msg.FileKey, writes TextFiles/<name>.txt and
// emits an extraction message
func (w *OCRWorker) Process(ctx context.Context, msg *model.OCRMessage) (*model.ExtractionMessage, error) {
	key := model.ObjectKey(msg.FileKey)

	chunkKeys, err := w.chunkKeys(ctx, key)
	if err != nil {
		return nil, err
	}
	if len(chunkKeys) == 0 {
		return nil, Permanent(fmt.Errorf("no chunks found for %s under %s", key, model.ChunkPrefix(key)))
	}
	log.Infof("[OCR] Reading %d chunks of %s", len(chunkKeys), key)

	texts := make([]string, len(chunkKeys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.ChunkParallel)
	for i, chunkKey := range chunkKeys {
		g.Go(func() error {
			text, err := w.readChunk(gctx, chunkKey)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", chunkKey, err)
			}
			texts[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	text := joinChunkTexts(texts)
	if text == "" {
		return nil, Permanent(fmt.Errorf("OCR produced no text for %s", key))
	}

	textKey := model.TextKey(key)
	if _, err := w.store.Upload(ctx, textKey, []byte(text), "text/plain; charset=utf-8"); err != nil {
		return nil, err
	}

	out := &model.ExtractionMessage{FileKey: key, BatchID: msg.BatchID}
	if len(text) > model.MaxInlineText {
		out.TextKey = textKey
	} else {
		out.Text = text
	}
	if rec, err := w.files.GetFileRecord(ctx, key); err == nil {
		out.ReportType = rec.ReportType
		if out.BatchID == "" {
			out.BatchID = rec.BatchID
		}
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	if err := w.extractionQueue.Send(ctx, body, key, nil); err != nil {
		return nil, fmt.Errorf("failed to queue extraction for %s: %w", key, err)
	}

	log.Infof("[OCR] Forwarded %d chars of %s to extraction", len(text), key)
	return out, nil
}

// readChunk runs the line and table jobs of one chunk side by side
func (w *OCRWorker) readChunk(ctx context.Context, chunkKey string) (string, error) {
	poller := ocr.NewPoller(w.engine, w.cfg.Poll)

	var lines, tables *ocr.Job
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		job, err := poller.Run(gctx, chunkKey, ocr.JobKindText)
		lines = job
		return err
	})
	g.Go(func() error {
		job, err := poller.Run(gctx, chunkKey, ocr.JobKindTables)
		tables = job
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	return ocr.ChunkText(lines, tables), nil
}

// chunkKeys lists the file's chunks ordered by numeric index
func (w *OCRWorker) chunkKeys(ctx context.Context, key string) ([]string, error) {
	keys, err := w.store.List(ctx, model.ChunkPrefix(key))
	if err != nil {
		return nil, err
	}

	type indexed struct {
		key   string
		index int
	}
	chunks := make([]indexed, 0, len(keys))
	for _, k := range keys {
		idx, err := strconv.Atoi(path.Base(k))
		if err != nil {
			log.Warnf("[OCR] Ignoring unexpected object %s", k)
			continue
		}
		chunks = append(chunks, indexed{key: k, index: idx})
	}
	sort.Slice(chunks, func(a, b int) bool { return chunks[a].index < chunks[b].index })

	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.key
	}
	return out, nil
}

func joinChunkTexts(texts []string) string {
	parts := make([]string, 0, len(texts))
	for _, t := range texts {
		if t = strings.TrimSpace(t); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, ChunkSeparator)
}
