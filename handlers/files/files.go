package files

import (
	"context"
	"errors"
	"net/url"
	"strconv"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/pdfvalidation"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/response"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/validation"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Uploader hands out presigned upload URLs and reports batch progress
type Uploader interface {
	PresignUploads(ctx context.Context, req services.UploadRequest) (*services.UploadBatch, error)
	Batch(ctx context.Context, batchID string) (*model.Batch, error)
}

// Deleter removes files and everything derived from them
type Deleter interface {
	Delete(ctx context.Context, fileKeys []string) ([]services.DeletionReport, error)
}

// FileReader looks up file records
type FileReader interface {
	GetFileRecord(ctx context.Context, fileKey string) (*model.FileRecord, error)
	ListFileRecords(ctx context.Context, filter database.FileFilter) ([]model.FileRecord, int64, error)
}

// FileHandler serves the upload, listing and deletion endpoints
type FileHandler struct {
	uploads   Uploader
	deleter   Deleter
	files     FileReader
	validator *validation.Validator
}

// NewFileHandler creates a new file handler
func NewFileHandler(uploads Uploader, deleter Deleter, files FileReader) *FileHandler {
	return &FileHandler{
		uploads:   uploads,
		deleter:   deleter,
		files:     files,
		validator: validation.NewValidator(),
	}
}

// DeleteFilesRequest lists the files to remove
type DeleteFilesRequest struct {
	FileKeys []string `json:"fileKeys" validate:"required,min=1,max=100,dive,required"`
}

// CreateUploadURLs handles POST /api/v1/files/upload-urls
func (h *FileHandler) CreateUploadURLs(c *fiber.Ctx) error {
	var req services.UploadRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}

	batch, err := h.uploads.PresignUploads(c.UserContext(), req)
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			return response.ValidationError(c, err)
		case errors.Is(err, pdfvalidation.ErrInvalidPDF):
			return response.BadRequest(c, err.Error())
		case errors.Is(err, database.ErrKeyConflict):
			return response.Error(c, fiber.StatusConflict, err.Error(), "KEY_CONFLICT")
		}
		log.Errorf("[Upload] Failed to create upload URLs: %v", err)
		return response.InternalServerError(c, "Failed to create upload URLs")
	}

	return response.Created(c, "Upload URLs created", batch)
}

// ListFiles handles GET /api/v1/files
func (h *FileHandler) ListFiles(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	limit, offset = response.ClampPage(limit, offset)

	files, total, err := h.files.ListFileRecords(c.UserContext(), database.FileFilter{
		BatchID:              c.Query("batchId"),
		InstituteName:        c.Query("instituteName"),
		UniversityName:       c.Query("universityName"),
		VocationalCenterName: c.Query("vocationalCenterName"),
		Limit:                limit,
		Offset:               offset,
	})
	if err != nil {
		log.Errorf("[Files] Failed to list files: %v", err)
		return response.InternalServerError(c, "Failed to fetch files")
	}

	return response.Paginated(c, files, response.PaginationMeta{Limit: limit, Offset: offset, Total: total})
}

// GetFile handles GET /api/v1/files/:fileKey. The key may be given with or
// without the Files/ prefix, URL-encoded.
func (h *FileHandler) GetFile(c *fiber.Ctx) error {
	key, err := url.PathUnescape(c.Params("fileKey"))
	if err != nil || key == "" {
		return response.BadRequest(c, "Invalid file key")
	}

	rec, err := h.files.GetFileRecord(c.UserContext(), model.ObjectKey(key))
	if errors.Is(err, database.ErrFileNotFound) {
		return response.NotFound(c, "File not found")
	}
	if err != nil {
		log.Errorf("[Files] Failed to load %s: %v", key, err)
		return response.InternalServerError(c, "Failed to fetch file")
	}
	return response.Success(c, rec)
}

// DeleteFiles handles POST /api/v1/files/delete. Any per-file failure
// answers 500 with every report attached.
func (h *FileHandler) DeleteFiles(c *fiber.Ctx) error {
	var req DeleteFilesRequest
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "Invalid request body")
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		return response.ValidationError(c, err)
	}

	reports, err := h.deleter.Delete(c.UserContext(), req.FileKeys)
	if err != nil {
		return response.ErrorWithDetails(c, fiber.StatusInternalServerError,
			"One or more files could not be deleted", "DELETE_FAILED", reports)
	}
	return response.Success(c, reports)
}

// GetBatch handles GET /api/v1/batches/:id
func (h *FileHandler) GetBatch(c *fiber.Ctx) error {
	batch, err := h.uploads.Batch(c.UserContext(), c.Params("id"))
	if errors.Is(err, services.ErrBatchNotFound) {
		return response.NotFound(c, "Batch not found")
	}
	if err != nil {
		log.Errorf("[Upload] Failed to load batch %s: %v", c.Params("id"), err)
		return response.InternalServerError(c, "Failed to fetch batch")
	}
	return response.Success(c, batch)
}
