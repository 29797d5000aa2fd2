package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidMessage marks payloads that can never be processed
var ErrInvalidMessage = errors.New("invalid message payload")

// OCRMessage asks the OCR worker to read every chunk of a split file
type OCRMessage struct {
	FileKey string `json:"fileKey"`
	BatchID string `json:"batchId,omitempty"`
}

// MaxInlineText is the largest text carried inside a queue message; longer
// texts travel by reference to the stored text object
const MaxInlineText = 240 * 1024

// ExtractionMessage carries the aggregated text of one file
type ExtractionMessage struct {
	Text       string     `json:"text"`
	TextKey    string     `json:"textKey,omitempty"`
	FileKey    string     `json:"fileKey"`
	BatchID    string     `json:"batchId,omitempty"`
	ReportType ReportType `json:"reportType,omitempty"`
}

// ParseExtractionMessage decodes and checks the required fields
func ParseExtractionMessage(body []byte) (*ExtractionMessage, error) {
	var msg ExtractionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.FileKey == "" || (msg.Text == "" && msg.TextKey == "") {
		return nil, fmt.Errorf("%w: missing text or fileKey", ErrInvalidMessage)
	}
	return &msg, nil
}

// ParseOCRMessage decodes an OCR request
func ParseOCRMessage(body []byte) (*OCRMessage, error) {
	var msg OCRMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if msg.FileKey == "" {
		return nil, fmt.Errorf("%w: missing fileKey", ErrInvalidMessage)
	}
	return &msg, nil
}

// UploadEvent is the subset of an S3 event notification the splitter needs
type UploadEvent struct {
	Event   string `json:"Event,omitempty"` // "s3:TestEvent" on subscription
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key  string `json:"key"`
				Size int64  `json:"size"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// ParseUploadEvent returns the decoded object keys of created objects.
// Keys outside Files/ are ignored so derived writes never loop back.
func ParseUploadEvent(body []byte) ([]string, error) {
	var evt UploadEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if evt.Event == "s3:TestEvent" {
		return nil, nil
	}

	var keys []string
	for _, rec := range evt.Records {
		if rec.EventName != "" && !strings.HasPrefix(rec.EventName, "ObjectCreated") {
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err != nil {
			key = rec.S3.Object.Key
		}
		if !strings.HasPrefix(key, FilesPrefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}
