package pdfvalidation

import (
	"bytes"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrInvalidPDF marks content that will never become a valid report
var ErrInvalidPDF = errors.New("invalid PDF")

// PDFLimits defines the validation limits for stored reports
type PDFLimits struct {
	MaxFileSizeMB    int    // Maximum file size in MB
	MaxPages         int    // Maximum number of pages
	DocumentTypeName string // For error messages
}

var (
	// ReportLimits applies to review reports dropped under Files/
	ReportLimits = PDFLimits{
		MaxFileSizeMB:    100,
		MaxPages:         500,
		DocumentTypeName: "review report",
	}
)

// AllowedContentTypes are accepted when presigning uploads
var AllowedContentTypes = map[string]bool{
	"application/pdf": true,
}

// ValidationResult contains the result of PDF validation
type ValidationResult struct {
	Valid     bool
	PageCount int
	FileSize  int64
	Error     string
}

// Err returns the failure as an ErrInvalidPDF error, or nil when valid
func (r *ValidationResult) Err() error {
	if r == nil || r.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalidPDF, r.Error)
}

// ValidateUploadName checks the name and declared type of a file before an
// upload URL is handed out
func ValidateUploadName(fileName, fileType string) error {
	if strings.TrimSpace(fileName) == "" {
		return fmt.Errorf("%w: file name is empty", ErrInvalidPDF)
	}
	if strings.ContainsAny(fileName, "/\\") {
		return fmt.Errorf("%w: file name %q must not contain a path", ErrInvalidPDF, fileName)
	}
	if !strings.EqualFold(path.Ext(fileName), ".pdf") {
		return fmt.Errorf("%w: only PDF files are supported, got %q", ErrInvalidPDF, fileName)
	}
	if fileType != "" && !AllowedContentTypes[strings.ToLower(fileType)] {
		return fmt.Errorf("%w: unsupported content type %q", ErrInvalidPDF, fileType)
	}
	return nil
}

// ValidatePDFBytes validates PDF content bytes against the given limits
func ValidatePDFBytes(content []byte, limits PDFLimits) (*ValidationResult, error) {
	result := &ValidationResult{
		FileSize: int64(len(content)),
	}

	// 1. size
	maxSize := int64(limits.MaxFileSizeMB) * 1024 * 1024
	if result.FileSize > maxSize {
		result.Error = fmt.Sprintf("File size exceeds maximum allowed size of %dMB", limits.MaxFileSizeMB)
		return result, nil
	}

	// 2. header
	if !bytes.HasPrefix(content, []byte("%PDF-")) {
		result.Error = "Invalid PDF file: missing PDF header"
		return result, nil
	}

	// 3. page count
	pageCount, err := PageCount(content)
	if err != nil {
		result.Error = fmt.Sprintf("Failed to read PDF: %v", err)
		return result, nil
	}
	result.PageCount = pageCount

	if pageCount > limits.MaxPages {
		result.Error = fmt.Sprintf("PDF has %d pages, which exceeds the maximum of %d pages for %s",
			pageCount, limits.MaxPages, limits.DocumentTypeName)
		return result, nil
	}
	if pageCount == 0 {
		result.Error = "PDF has no pages"
		return result, nil
	}

	result.Valid = true
	return result, nil
}

// Sanitize drops trailing bytes after the last %%EOF marker
func Sanitize(content []byte) []byte {
	if len(content) == 0 || !bytes.HasPrefix(content, []byte("%PDF-")) {
		return content
	}

	eofMarker := []byte("%%EOF")
	lastEOF := bytes.LastIndex(content, eofMarker)
	if lastEOF == -1 {
		return content
	}

	end := lastEOF + len(eofMarker)
	for end < len(content) && (content[end] == '\n' || content[end] == '\r') {
		end++
	}
	return content[:end]
}

// PageCount returns the number of pages in a PDF
func PageCount(content []byte) (int, error) {
	content = Sanitize(content)
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PDF: %w", err)
	}
	return reader.NumPage(), nil
}
