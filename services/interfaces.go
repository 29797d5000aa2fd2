package services

import (
	"context"
	"time"

	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
)

// ObjectStore is the object storage surface used by the pipeline
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys []string) error
	List(ctx context.Context, prefix string) ([]string, error)
	Exists(ctx context.Context, key string) (bool, error)
	URL(key string) string
	URI(key string) string
}

// UploadPresigner hands out direct-upload URLs
type UploadPresigner interface {
	PresignUpload(key, contentType string, expiration time.Duration) (string, error)
}

// MessageSender enqueues a message body
type MessageSender interface {
	Send(ctx context.Context, body []byte, groupID string, attrs map[string]string) error
}

// FileStore persists FileRecords
type FileStore interface {
	RegisterFile(ctx context.Context, rec *model.FileRecord) error
	PrepareUpload(ctx context.Context, rec *model.FileRecord) error
	GetFileRecord(ctx context.Context, fileKey string) (*model.FileRecord, error)
	ListFileRecords(ctx context.Context, filter database.FileFilter) ([]model.FileRecord, int64, error)
	AppendChunkURLs(ctx context.Context, fileKey string, urls []string) error
	ReplaceChunkURLs(ctx context.Context, fileKey string, urls []string) error
	UpdateFileStatus(ctx context.Context, fileKey string, status model.FileStatus) error
}

// EntityStore persists extracted entities and their file links
type EntityStore interface {
	SaveInstitute(ctx context.Context, fileKey string, rec *model.InstituteMetadata) error
	SaveUniversity(ctx context.Context, fileKey string, rec *model.UniversityMetadata) error
	SavePrograms(ctx context.Context, fileKey, universityName string, programs []model.ProgramMetadata) error
	SaveVocationalCenter(ctx context.Context, fileKey string, rec *model.VocationalCenterMetadata) error
	RemoveFileRecord(ctx context.Context, fileKey string) (*database.RemovalResult, error)
}

// IndexDocumentRemover drops a document from the search index
type IndexDocumentRemover interface {
	DeleteDocument(ctx context.Context, uri string) error
}

// IndexSyncer starts a re-ingestion of the search index
type IndexSyncer interface {
	StartSync(ctx context.Context) (string, error)
}
