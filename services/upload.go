package services

import (
	"context"
	"fmt"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/pdfvalidation"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/validation"
	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

// UploadURLExpiry is how long a presigned upload URL stays valid
const UploadURLExpiry = 60 * time.Second

// UploadFile names one file the client is about to upload
type UploadFile struct {
	FileName string `json:"fileName" validate:"required"`
	FileType string `json:"fileType"`
}

// UploadRequest asks for upload URLs for a set of files
type UploadRequest struct {
	Files      []UploadFile `json:"files" validate:"required,min=1,max=50,dive"`
	ReportType string       `json:"reportType,omitempty" validate:"omitempty,oneof=school university vocational"`
}

// UploadURL is a presigned PUT target for one file
type UploadURL struct {
	FileName string `json:"fileName"`
	FileKey  string `json:"fileKey"`
	URL      string `json:"url"`
}

// UploadBatch is the response to an UploadRequest
type UploadBatch struct {
	BatchID   string      `json:"batchId"`
	ExpiresAt time.Time   `json:"expiresAt"`
	Files     []UploadURL `json:"files"`
}

// UploadService hands out presigned upload URLs and opens a batch for them
type UploadService struct {
	presigner UploadPresigner
	files     FileStore
	batches   BatchTracker
	validator *validation.Validator
}

// NewUploadService creates an upload service
func NewUploadService(presigner UploadPresigner, files FileStore, batches BatchTracker) *UploadService {
	return &UploadService{
		presigner: presigner,
		files:     files,
		batches:   batches,
		validator: validation.NewValidator(),
	}
}

// PresignUploads validates the request, creates a batch expecting every
// file, pre-registers the files with the batch id and returns upload URLs
func (s *UploadService) PresignUploads(ctx context.Context, req UploadRequest) (*UploadBatch, error) {
	if err := s.validator.ValidateStruct(req); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(req.Files))
	for _, f := range req.Files {
		if err := pdfvalidation.ValidateUploadName(f.FileName, f.FileType); err != nil {
			return nil, err
		}
		if seen[f.FileName] {
			return nil, fmt.Errorf("%w: %s is listed twice", pdfvalidation.ErrInvalidPDF, f.FileName)
		}
		seen[f.FileName] = true
	}

	batchID := uuid.NewString()
	if _, err := s.batches.Create(ctx, batchID, len(req.Files)); err != nil {
		return nil, err
	}

	reportType := model.ParseReportType(req.ReportType)
	out := &UploadBatch{
		BatchID:   batchID,
		ExpiresAt: time.Now().Add(UploadURLExpiry).UTC(),
		Files:     make([]UploadURL, 0, len(req.Files)),
	}
	for _, f := range req.Files {
		key := model.FilesPrefix + f.FileName
		if err := s.files.PrepareUpload(ctx, &model.FileRecord{FileKey: key, BatchID: batchID, ReportType: reportType}); err != nil {
			return nil, err
		}

		contentType := f.FileType
		if contentType == "" {
			contentType = "application/pdf"
		}
		url, err := s.presigner.PresignUpload(key, contentType, UploadURLExpiry)
		if err != nil {
			return nil, fmt.Errorf("failed to presign %s: %w", key, err)
		}
		out.Files = append(out.Files, UploadURL{FileName: f.FileName, FileKey: key, URL: url})
	}

	log.Infof("[Upload] Batch %s opened for %d file(s)", batchID, len(out.Files))
	return out, nil
}

// Batch returns the current state of an upload batch
func (s *UploadService) Batch(ctx context.Context, batchID string) (*model.Batch, error) {
	return s.batches.Get(ctx, batchID)
}
