package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateChunks(t *testing.T) {
	tests := []struct {
		name     string
		pages    int
		perChunk int
		want     []PageRange
	}{
		{"odd page count", 5, 2, []PageRange{{1, 2}, {3, 4}, {5, 5}}},
		{"even page count", 4, 2, []PageRange{{1, 2}, {3, 4}}},
		{"single page", 1, 2, []PageRange{{1, 1}}},
		{"no pages", 0, 2, nil},
		{"zero chunk size falls back", 3, 0, []PageRange{{1, 2}, {3, 3}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateChunks(tt.pages, ChunkConfig{PagesPerChunk: tt.perChunk})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalculateChunks_PartitionsEveryPage(t *testing.T) {
	for perChunk := 1; perChunk <= 5; perChunk++ {
		for pages := 1; pages <= 50; pages++ {
			got := CalculateChunks(pages, ChunkConfig{PagesPerChunk: perChunk})

			require.Len(t, got, (pages+perChunk-1)/perChunk, "pages=%d perChunk=%d", pages, perChunk)
			next := 1
			for i, r := range got {
				assert.Equal(t, next, r.Start, "pages=%d perChunk=%d chunk=%d starts after the previous one", pages, perChunk, i)
				assert.LessOrEqual(t, r.Start, r.End)
				assert.LessOrEqual(t, r.End-r.Start+1, perChunk)
				if i < len(got)-1 {
					assert.Equal(t, perChunk, r.End-r.Start+1)
				}
				next = r.End + 1
			}
			assert.Equal(t, pages+1, next, "pages=%d perChunk=%d must cover every page", pages, perChunk)
		}
	}
}

func TestPageRange_Selection(t *testing.T) {
	assert.Equal(t, "3-4", PageRange{Start: 3, End: 4}.Selection())
	assert.Equal(t, "5", PageRange{Start: 5, End: 5}.Selection())
}

func newTestSplitter(t *testing.T) (*SplitterService, *memoryObjectStore, *recordingQueue, FileStore) {
	t.Helper()
	store := newMemoryObjectStore()
	queue := &recordingQueue{}
	files := newTestGORMStore(t)
	return NewSplitterService(store, files, queue, DefaultChunkConfig()), store, queue, files
}

func TestSplit_WritesChunksStubAndQueuesOCR(t *testing.T) {
	ctx := context.Background()
	svc, store, queue, files := newTestSplitter(t)

	store.put("Files/Al Noor School.pdf", buildTestPDF(t, 5))
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/Al Noor School.pdf", BatchID: "batch-1", ReportType: model.ReportTypeSchool})

	result, err := svc.Split(ctx, "Al Noor School.pdf")
	require.NoError(t, err)
	assert.Equal(t, 5, result.Pages)
	assert.Equal(t, []string{
		"https://test-bucket.s3.amazonaws.com/SplitFiles/Al Noor School/0",
		"https://test-bucket.s3.amazonaws.com/SplitFiles/Al Noor School/1",
		"https://test-bucket.s3.amazonaws.com/SplitFiles/Al Noor School/2",
	}, result.ChunkURLs)

	for i := 0; i < 3; i++ {
		chunk, ok := store.get(model.ChunkKey("Files/Al Noor School.pdf", i))
		require.True(t, ok, "chunk %d", i)
		pages, err := svc.splitter.PageCount(chunk)
		require.NoError(t, err)
		if i < 2 {
			assert.Equal(t, 2, pages)
		} else {
			assert.Equal(t, 1, pages)
		}
	}

	stub, ok := store.get("TextFiles/Al Noor School.metadata.json")
	require.True(t, ok)
	assert.Equal(t, "{}", string(stub))

	rec, err := files.GetFileRecord(ctx, "Files/Al Noor School.pdf")
	require.NoError(t, err)
	assert.Len(t, rec.ChunkURLs, 3)

	require.Len(t, queue.messages(), 1)
	var msg model.OCRMessage
	require.NoError(t, json.Unmarshal(queue.messages()[0], &msg))
	assert.Equal(t, "Files/Al Noor School.pdf", msg.FileKey)
	assert.Equal(t, "batch-1", msg.BatchID)
	assert.Equal(t, "Files/Al Noor School.pdf", queue.groups[0])
}

func TestSplit_RetryDoesNotDuplicateChunks(t *testing.T) {
	ctx := context.Background()
	svc, store, _, files := newTestSplitter(t)
	store.put("Files/report.pdf", buildTestPDF(t, 3))
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/report.pdf"})

	_, err := svc.Split(ctx, "Files/report.pdf")
	require.NoError(t, err)
	_, err = svc.Split(ctx, "Files/report.pdf")
	require.NoError(t, err)

	keys, err := store.List(ctx, "SplitFiles/report/")
	require.NoError(t, err)
	assert.Equal(t, []string{"SplitFiles/report/0", "SplitFiles/report/1"}, keys)

	rec, err := files.GetFileRecord(ctx, "Files/report.pdf")
	require.NoError(t, err)
	assert.Len(t, rec.ChunkURLs, 2)
}

func TestSplit_ShorterReuploadRemovesStaleChunks(t *testing.T) {
	ctx := context.Background()
	svc, store, _, files := newTestSplitter(t)
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/r.pdf"})

	store.put("Files/r.pdf", buildTestPDF(t, 6))
	_, err := svc.Split(ctx, "Files/r.pdf")
	require.NoError(t, err)

	store.put("Files/r.pdf", buildTestPDF(t, 2))
	result, err := svc.Split(ctx, "Files/r.pdf")
	require.NoError(t, err)
	assert.Len(t, result.ChunkURLs, 1)

	keys, err := store.List(ctx, "SplitFiles/r/")
	require.NoError(t, err)
	assert.Equal(t, []string{"SplitFiles/r/0"}, keys)

	rec, err := files.GetFileRecord(ctx, "Files/r.pdf")
	require.NoError(t, err)
	assert.Equal(t, []string{"https://test-bucket.s3.amazonaws.com/SplitFiles/r/0"}, []string(rec.ChunkURLs))
}

func TestSplit_ChunkUploadFailureRecordsPartialAndRetries(t *testing.T) {
	ctx := context.Background()
	svc, store, queue, files := newTestSplitter(t)
	store.put("Files/report.pdf", buildTestPDF(t, 6))
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/report.pdf"})
	store.failUpload["SplitFiles/report/1"] = assert.AnError

	result, err := svc.Split(ctx, "Files/report.pdf")
	require.Error(t, err)
	assert.False(t, IsPermanent(err))
	assert.Len(t, result.ChunkURLs, 1)
	assert.Empty(t, queue.messages())

	rec, err := files.GetFileRecord(ctx, "Files/report.pdf")
	require.NoError(t, err)
	assert.Len(t, rec.ChunkURLs, 1)
}

func TestSplit_InvalidPDFIsPermanent(t *testing.T) {
	ctx := context.Background()
	svc, store, queue, files := newTestSplitter(t)
	store.put("Files/broken.pdf", []byte("<html>error page</html>"))
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/broken.pdf"})

	_, err := svc.Split(ctx, "Files/broken.pdf")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.Empty(t, queue.messages())

	rec, err := files.GetFileRecord(ctx, "Files/broken.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.FileStatusFailed, rec.Status)
}

func TestSplit_MissingObjectIsPermanent(t *testing.T) {
	svc, _, _, _ := newTestSplitter(t)
	_, err := svc.Split(context.Background(), "Files/missing.pdf")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestHandleUploadEvent_RegistersAndSkipsDerivedKeys(t *testing.T) {
	ctx := context.Background()
	svc, store, queue, files := newTestSplitter(t)
	store.put("Files/new report.pdf", buildTestPDF(t, 2))

	body := `{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"Files/new+report.pdf"}}},
		{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"SplitFiles/new report/0"}}}
	]}`
	require.NoError(t, svc.HandleUploadEvent(ctx, []byte(body)))

	rec, err := files.GetFileRecord(ctx, "Files/new report.pdf")
	require.NoError(t, err)
	assert.Len(t, rec.ChunkURLs, 1)
	assert.Len(t, queue.messages(), 1)
}

func TestHandleUploadEvent_TestEventIsIgnored(t *testing.T) {
	svc, _, queue, _ := newTestSplitter(t)
	require.NoError(t, svc.HandleUploadEvent(context.Background(), []byte(`{"Event":"s3:TestEvent"}`)))
	assert.Empty(t, queue.messages())
}

func TestHandleUploadEvent_MalformedIsPermanent(t *testing.T) {
	svc, _, _, _ := newTestSplitter(t)
	err := svc.HandleUploadEvent(context.Background(), []byte(`not json`))
	assert.True(t, IsPermanent(err))
}

func TestHandleUploadEvent_KeySharingDerivedObjectsIsPermanent(t *testing.T) {
	ctx := context.Background()
	svc, store, queue, files := newTestSplitter(t)
	registerTestFile(t, files, model.FileRecord{FileKey: "Files/a.pdf"})
	store.put("Files/a.PDF", buildTestPDF(t, 2))

	body := `{"Records":[{"eventName":"ObjectCreated:Put","s3":{"object":{"key":"Files/a.PDF"}}}]}`
	err := svc.HandleUploadEvent(ctx, []byte(body))
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	assert.Empty(t, queue.messages())
	for _, k := range store.keys() {
		assert.NotContains(t, k, "SplitFiles/")
	}
}
