package services

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/database"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/model"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/services/ocr"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils"
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/pdfvalidation"
	"github.com/go-playground/validator/v10"
)

// ErrorType represents the type of error that occurred
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeLLM        ErrorType = "llm"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeThrottled  ErrorType = "throttled"
	ErrorTypeDatabase   ErrorType = "database"
	ErrorTypePDF        ErrorType = "pdf"
	ErrorTypeOCR        ErrorType = "ocr"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeUnknown    ErrorType = "unknown"
)

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as one that redelivery cannot fix
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err should skip remaining redeliveries
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	_, recoverable := ClassifyError(err)
	return !recoverable
}

var throttlingCodes = map[string]bool{
	"ThrottlingException":                    true,
	"Throttling":                             true,
	"ProvisionedThroughputExceededException": true,
	"TooManyRequestsException":               true,
	"LimitExceededException":                 true,
	"ServiceUnavailableException":            true,
	"ModelTimeoutException":                  true,
	"ModelNotReadyException":                 true,
	"InternalServerException":                true,
	"InternalError":                          true,
	"InternalFailure":                        true,
	"RequestTimeout":                         true,
	"SlowDown":                               true,
}

// ClassifyError classifies an error and determines if it's recoverable
func ClassifyError(err error) (ErrorType, bool) {
	if err == nil {
		return ErrorTypeUnknown, false
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		t, _ := classifyByText(perm.err)
		return t, false
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ocr.ErrJobTimedOut):
		return ErrorTypeTimeout, true
	case errors.Is(err, context.Canceled):
		return ErrorTypeTimeout, true
	case errors.Is(err, ocr.ErrJobFailed):
		return ErrorTypeOCR, false
	case errors.Is(err, pdfvalidation.ErrInvalidPDF):
		return ErrorTypePDF, false
	case errors.Is(err, model.ErrInvalidMessage), errors.Is(err, ErrMissingRequiredKeys):
		return ErrorTypeValidation, false
	case errors.Is(err, utils.ErrNoJSONFound):
		return ErrorTypeLLM, false
	case errors.Is(err, database.ErrFileNotFound), errors.Is(err, database.ErrKeyConflict):
		return ErrorTypeDatabase, false
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		return ErrorTypeValidation, false
	}

	var aerr awserr.Error
	if errors.As(err, &aerr) {
		code := aerr.Code()
		if throttlingCodes[code] {
			return ErrorTypeThrottled, true
		}
		switch code {
		case "ValidationException", "InvalidParameterException", "UnsupportedDocumentException",
			"BadDocumentException", "DocumentTooLargeException", "AccessDeniedException":
			return ErrorTypeValidation, false
		}
	}

	return classifyByText(err)
}

func classifyByText(err error) (ErrorType, bool) {
	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dial") ||
		strings.Contains(errStr, "eof") ||
		strings.Contains(errStr, "reset by peer") {
		return ErrorTypeNetwork, true
	}

	if strings.Contains(errStr, "inference api") ||
		strings.Contains(errStr, "status 429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") {
		return ErrorTypeLLM, true
	}

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return ErrorTypeTimeout, true
	}

	if strings.Contains(errStr, "database") ||
		strings.Contains(errStr, "transaction") ||
		strings.Contains(errStr, "sql") {
		return ErrorTypeDatabase, true
	}

	return ErrorTypeUnknown, true
}
