package services

import (
	"context"
	"testing"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/pdfvalidation"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPresignUploads_OpensBatchAndRegistersFiles(t *testing.T) {
	ctx := context.Background()
	store := newMemoryObjectStore()
	db := newTestGORMStore(t)
	batches := NewMemoryBatchTracker()
	svc := NewUploadService(store, db, batches)

	out, err := svc.PresignUploads(ctx, UploadRequest{
		Files: []UploadFile{
			{FileName: "Riffa Views School.pdf", FileType: "application/pdf"},
			{FileName: "Sitra Boys School.pdf"},
		},
		ReportType: "school",
	})
	require.NoError(t, err)
	require.NotEmpty(t, out.BatchID)
	require.Len(t, out.Files, 2)
	assert.Equal(t, "Files/Riffa Views School.pdf", out.Files[0].FileKey)
	assert.Contains(t, out.Files[0].URL, "X-Amz-Expires=60")

	batch, err := svc.Batch(ctx, out.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Expected)
	assert.Equal(t, model.BatchStatusPending, batch.Status)

	rec, err := db.GetFileRecord(ctx, "Files/Sitra Boys School.pdf")
	require.NoError(t, err)
	assert.Equal(t, out.BatchID, rec.BatchID)
	assert.Equal(t, model.ReportTypeSchool, rec.ReportType)
}

func TestPresignUploads_RejectsBadRequests(t *testing.T) {
	svc := NewUploadService(newMemoryObjectStore(), newTestGORMStore(t), NewMemoryBatchTracker())
	ctx := context.Background()

	_, err := svc.PresignUploads(ctx, UploadRequest{})
	require.Error(t, err)
	assert.Contains(t, validation.MissingFields(err), "files")

	_, err = svc.PresignUploads(ctx, UploadRequest{Files: []UploadFile{{FileName: "a.pdf"}}, ReportType: "college"})
	require.Error(t, err)
	assert.Equal(t, "reportType must be one of: school university vocational", validation.FormatValidationErrors(err)["reportType"])

	_, err = svc.PresignUploads(ctx, UploadRequest{Files: []UploadFile{{FileName: "notes.docx"}}})
	assert.ErrorIs(t, err, pdfvalidation.ErrInvalidPDF)

	_, err = svc.PresignUploads(ctx, UploadRequest{Files: []UploadFile{{FileName: "a.pdf"}, {FileName: "a.pdf"}}})
	assert.ErrorIs(t, err, pdfvalidation.ErrInvalidPDF)
}
