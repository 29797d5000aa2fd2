package response

import (
	"github.com/bahrain-bp/bqa-insight-ai-sub000/utils/validation"
	"github.com/gofiber/fiber/v2"
)

// Response is the envelope every API answer is wrapped in
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information. Details carries structured
// context such as per-field validation messages or per-file reports.
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// PaginationMeta contains pagination metadata
type PaginationMeta struct {
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
	Total  int64 `json:"total"`
}

// PaginatedResponse is a list answer with its paging window
type PaginatedResponse struct {
	Success    bool           `json:"success"`
	Data       interface{}    `json:"data"`
	Pagination PaginationMeta `json:"pagination"`
}

// Success returns a 200 response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Data:    data,
	})
}

// Created returns a 201 response
func Created(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, statusCode int, message string, code string) error {
	return ErrorWithDetails(c, statusCode, message, code, nil)
}

// ErrorWithDetails returns an error response with details
func ErrorWithDetails(c *fiber.Ctx, statusCode int, message string, code string, details interface{}) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// BadRequest returns a 400 response
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message, "BAD_REQUEST")
}

// NotFound returns a 404 response
func NotFound(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return Error(c, fiber.StatusNotFound, message, "NOT_FOUND")
}

// ValidationError returns a 422 response listing each invalid field
func ValidationError(c *fiber.Ctx, err error) error {
	details := validation.FormatValidationErrors(err)
	if len(details) == 0 {
		return ErrorWithDetails(c, fiber.StatusUnprocessableEntity, "Validation failed", "VALIDATION_ERROR", err.Error())
	}
	return ErrorWithDetails(c, fiber.StatusUnprocessableEntity, "Validation failed", "VALIDATION_ERROR", details)
}

// InternalServerError returns a 500 response
func InternalServerError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return Error(c, fiber.StatusInternalServerError, message, "INTERNAL_ERROR")
}

// ServiceUnavailable returns a 503 response
func ServiceUnavailable(c *fiber.Ctx, message string, details interface{}) error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return ErrorWithDetails(c, fiber.StatusServiceUnavailable, message, "SERVICE_UNAVAILABLE", details)
}

// Paginated returns a list with its paging window
func Paginated(c *fiber.Ctx, data interface{}, pagination PaginationMeta) error {
	return c.Status(fiber.StatusOK).JSON(PaginatedResponse{
		Success:    true,
		Data:       data,
		Pagination: pagination,
	})
}

// ClampPage bounds a requested limit and offset
func ClampPage(limit, offset int) (int, int) {
	if limit < 1 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
