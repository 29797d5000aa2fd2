package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/ocr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// lineTexts returns the non-empty LINE texts of the embedded text layer
func lineTexts(t *testing.T, content []byte) []string {
	t.Helper()
	blocks, err := ocr.TextLayerBlocks(content)
	require.NoError(t, err)
	var out []string
	for _, b := range blocks {
		if b.Type == ocr.BlockLine && strings.TrimSpace(b.Text) != "" {
			out = append(out, strings.TrimSpace(b.Text))
		}
	}
	return out
}

func TestPipeline_FivePageUniversityReport(t *testing.T) {
	ctx := context.Background()
	store := newMemoryObjectStore()
	db := newTestGORMStore(t)
	batches := NewMemoryBatchTracker()
	ocrQueue := &recordingQueue{}
	extractionQueue := &recordingQueue{}
	publisher := &recordingPublisher{}

	upload, err := NewUploadService(store, db, batches).PresignUploads(ctx, UploadRequest{
		Files:      []UploadFile{{FileName: "Bahrain Uni.pdf"}},
		ReportType: "university",
	})
	require.NoError(t, err)
	fileKey := upload.Files[0].FileKey
	original := buildTestPDF(t, 5)
	store.put(fileKey, original)

	// storage notification
	splitter := NewSplitterService(store, db, ocrQueue, DefaultChunkConfig())
	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"Files/Bahrain+Uni.pdf"}}}]}`
	require.NoError(t, splitter.HandleUploadEvent(ctx, []byte(body)))

	chunks, err := store.List(ctx, model.ChunkPrefix(fileKey))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"SplitFiles/Bahrain Uni/0", "SplitFiles/Bahrain Uni/1", "SplitFiles/Bahrain Uni/2"}, chunks)
	_, ok := store.get(model.MetadataStubKey(fileKey))
	assert.True(t, ok, "metadata stub written")
	require.Len(t, ocrQueue.messages(), 1)

	worker := NewOCRWorker(store, db, ocr.NewLocalEngine(store), extractionQueue, testOCRConfig())
	require.NoError(t, worker.HandleMessage(ctx, ocrQueue.messages()[0]))
	require.Len(t, extractionQueue.messages(), 1)

	text, ok := store.get(model.TextKey(fileKey))
	require.True(t, ok)
	compact := strings.Join(strings.Fields(string(text)), "")
	last := -1
	for _, marker := range []string{"Page1", "Page2", "Page3", "Page4", "Page5"} {
		idx := strings.Index(compact, marker)
		require.Greater(t, idx, last, "%s out of order in %q", marker, text)
		last = idx
	}

	var msg model.ExtractionMessage
	require.NoError(t, json.Unmarshal(extractionQueue.messages()[0], &msg))
	assert.Equal(t, upload.BatchID, msg.BatchID)
	assert.Equal(t, model.ReportTypeUniversity, msg.ReportType)

	llmClient := newScriptedLLM().
		on(universitySchema.Name, structured(`{"University Name": "University of Bahrain", "Location": "Sakhir"}`)).
		on(programmeSchema.Name, structured(`[{"University Name": "University of Bahrain", "Programme Name": "BSc Computer Science", "Programme Judgment": "Confidence"}]`))
	detector := NewCompletionDetector(batches, publisher, nil)
	extraction := NewExtractionService(store, db, db, llmClient, detector)
	require.NoError(t, extraction.HandleMessage(ctx, extractionQueue.messages()[0]))

	rec, err := db.GetFileRecord(ctx, fileKey)
	require.NoError(t, err)
	require.NotNil(t, rec.UniversityName)
	assert.Equal(t, "University of Bahrain", *rec.UniversityName)
	assert.Len(t, rec.ChunkURLs, 3)

	counts, err := db.EntityCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["universities"])
	assert.Equal(t, int64(1), counts["programs"])

	batch, err := batches.Get(ctx, upload.BatchID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusDone, batch.Status)
	assert.Equal(t, 1, publisher.count())
}

func TestPipeline_ChunkedTextMatchesSinglePass(t *testing.T) {
	for _, pages := range []int{1, 2, 5, 8} {
		t.Run(fmt.Sprintf("%d pages", pages), func(t *testing.T) {
			ctx := context.Background()
			svc, store, queue, files := newTestSplitter(t)
			original := buildTestPDF(t, pages)
			store.put("Files/r.pdf", original)

			result, err := svc.Split(ctx, "Files/r.pdf")
			require.NoError(t, err)

			var chunked []string
			for i := range result.ChunkURLs {
				content, ok := store.get(model.ChunkKey("Files/r.pdf", i))
				require.True(t, ok)
				chunked = append(chunked, lineTexts(t, content)...)
			}
			single := lineTexts(t, original)
			require.NotEmpty(t, single)
			assert.Equal(t, single, chunked)

			worker := NewOCRWorker(store, files, ocr.NewLocalEngine(store), &recordingQueue{}, testOCRConfig())
			require.NoError(t, worker.HandleMessage(ctx, queue.messages()[0]))

			aggregate, ok := store.get(model.TextKey("Files/r.pdf"))
			require.True(t, ok)
			rest := string(aggregate)
			for _, line := range single {
				idx := strings.Index(rest, line)
				require.GreaterOrEqual(t, idx, 0, "%q missing or out of order", line)
				rest = rest[idx+len(line):]
			}
		})
	}
}
