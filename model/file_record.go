package model

import (
	"path"
	"strconv"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Storage layout prefixes
const (
	FilesPrefix      = "Files/"
	SplitFilesPrefix = "SplitFiles/"
	TextFilesPrefix  = "TextFiles/"
)

// ReportType identifies which extractor family handles a report
type ReportType string

const (
	ReportTypeSchool     ReportType = "school"
	ReportTypeUniversity ReportType = "university"
	ReportTypeVocational ReportType = "vocational"
	ReportTypeUnknown    ReportType = ""
)

// ParseReportType normalizes user or model supplied report types
func ParseReportType(s string) ReportType {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case v == "":
		return ReportTypeUnknown
	case strings.Contains(v, "vocational"):
		return ReportTypeVocational
	case strings.Contains(v, "university"), strings.Contains(v, "higher"):
		return ReportTypeUniversity
	case strings.Contains(v, "school"), strings.Contains(v, "institute"):
		return ReportTypeSchool
	}
	return ReportTypeUnknown
}

// FileStatus tracks where a file is in the pipeline
type FileStatus string

const (
	FileStatusRegistered FileStatus = "registered"
	FileStatusSplit      FileStatus = "split"
	FileStatusExtracted  FileStatus = "extracted"
	FileStatusFailed     FileStatus = "failed"
)

// FileRecord is the per-upload row. Back-reference columns are set by
// whichever extractor processed the file and drive reference counting.
type FileRecord struct {
	FileKey              string                      `gorm:"primaryKey;type:varchar(1024)" json:"fileKey"`
	BatchID              string                      `gorm:"type:varchar(64);index" json:"batchId,omitempty"`
	ReportType           ReportType                  `gorm:"type:varchar(32)" json:"reportType,omitempty"`
	Status               FileStatus                  `gorm:"type:varchar(20);default:'registered'" json:"status"`
	ChunkURLs            datatypes.JSONSlice[string] `json:"splitFileURLs"`
	InstituteName        *string                     `gorm:"type:varchar(512);index" json:"instituteName,omitempty"`
	UniversityName       *string                     `gorm:"type:varchar(512);index" json:"universityName,omitempty"`
	VocationalCenterName *string                     `gorm:"type:varchar(512);index" json:"vocationalCenterName,omitempty"`
	CreatedAt            time.Time                   `json:"createdAt"`
	UpdatedAt            time.Time                   `json:"updatedAt"`
}

// TableName specifies the table name for FileRecord
func (FileRecord) TableName() string {
	return "file_records"
}

// BaseName returns the file name without directory and extension:
// "Files/report.pdf" -> "report".
func BaseName(fileKey string) string {
	base := path.Base(fileKey)
	return strings.TrimSuffix(base, path.Ext(base))
}

// ObjectKey returns the raw upload key for a file key that may or may not
// carry the Files/ prefix.
func ObjectKey(fileKey string) string {
	if strings.HasPrefix(fileKey, FilesPrefix) {
		return fileKey
	}
	return FilesPrefix + fileKey
}

// ChunkPrefix is the directory holding the file's split chunks
func ChunkPrefix(fileKey string) string {
	return SplitFilesPrefix + BaseName(fileKey) + "/"
}

// ChunkKey returns the deterministic key of chunk i
func ChunkKey(fileKey string, index int) string {
	return ChunkPrefix(fileKey) + strconv.Itoa(index)
}

// TextKey is where the aggregated OCR text is written
func TextKey(fileKey string) string {
	return TextFilesPrefix + BaseName(fileKey) + ".txt"
}

// MetadataStubKey is the knowledge-base metadata sidecar for the file
func MetadataStubKey(fileKey string) string {
	return TextFilesPrefix + BaseName(fileKey) + ".metadata.json"
}

