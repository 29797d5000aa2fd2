package ocr

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/textract"
)

// textractPageSize is the max blocks returned per Get call
const textractPageSize = 1000

// TextractEngine runs line detection and table analysis on objects in one bucket
type TextractEngine struct {
	client *textract.Textract
	bucket string
}

// NewTextractEngine creates an engine bound to bucket
func NewTextractEngine(sess *session.Session, bucket string) *TextractEngine {
	return &TextractEngine{client: textract.New(sess), bucket: bucket}
}

func (e *TextractEngine) location(key string) *textract.DocumentLocation {
	return &textract.DocumentLocation{
		S3Object: &textract.S3Object{
			Bucket: aws.String(e.bucket),
			Name:   aws.String(key),
		},
	}
}

// Start submits an asynchronous job for key
func (e *TextractEngine) Start(ctx context.Context, key string, kind JobKind) (string, error) {
	switch kind {
	case JobKindText:
		out, err := e.client.StartDocumentTextDetectionWithContext(ctx, &textract.StartDocumentTextDetectionInput{
			DocumentLocation: e.location(key),
		})
		if err != nil {
			return "", fmt.Errorf("failed to start text detection: %w", err)
		}
		return aws.StringValue(out.JobId), nil

	case JobKindTables:
		out, err := e.client.StartDocumentAnalysisWithContext(ctx, &textract.StartDocumentAnalysisInput{
			DocumentLocation: e.location(key),
			FeatureTypes:     []*string{aws.String(textract.FeatureTypeTables)},
		})
		if err != nil {
			return "", fmt.Errorf("failed to start document analysis: %w", err)
		}
		return aws.StringValue(out.JobId), nil
	}
	return "", fmt.Errorf("unsupported job kind %q", kind)
}

// Get polls a job. Blocks are only collected once the job is done, across
// every result page.
func (e *TextractEngine) Get(ctx context.Context, jobID string, kind JobKind) (*Job, error) {
	job := &Job{ID: jobID, Kind: kind}
	var nextToken *string

	for {
		var (
			status  *string
			message *string
			blocks  []*textract.Block
			token   *string
		)

		switch kind {
		case JobKindText:
			out, err := e.client.GetDocumentTextDetectionWithContext(ctx, &textract.GetDocumentTextDetectionInput{
				JobId:      aws.String(jobID),
				MaxResults: aws.Int64(textractPageSize),
				NextToken:  nextToken,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get text detection %s: %w", jobID, err)
			}
			status, message, blocks, token = out.JobStatus, out.StatusMessage, out.Blocks, out.NextToken

		case JobKindTables:
			out, err := e.client.GetDocumentAnalysisWithContext(ctx, &textract.GetDocumentAnalysisInput{
				JobId:      aws.String(jobID),
				MaxResults: aws.Int64(textractPageSize),
				NextToken:  nextToken,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to get document analysis %s: %w", jobID, err)
			}
			status, message, blocks, token = out.JobStatus, out.StatusMessage, out.Blocks, out.NextToken

		default:
			return nil, fmt.Errorf("unsupported job kind %q", kind)
		}

		job.Status = JobStatus(aws.StringValue(status))
		job.Message = aws.StringValue(message)
		if !job.Status.Done() {
			return job, nil
		}

		job.Blocks = append(job.Blocks, convertBlocks(blocks)...)
		if token == nil || aws.StringValue(token) == "" {
			return job, nil
		}
		nextToken = token
	}
}

func convertBlocks(in []*textract.Block) []Block {
	out := make([]Block, 0, len(in))
	for _, b := range in {
		if b == nil {
			continue
		}
		block := Block{
			ID:          aws.StringValue(b.Id),
			Type:        BlockType(aws.StringValue(b.BlockType)),
			Text:        aws.StringValue(b.Text),
			RowIndex:    int(aws.Int64Value(b.RowIndex)),
			ColumnIndex: int(aws.Int64Value(b.ColumnIndex)),
		}
		for _, rel := range b.Relationships {
			block.Relationships = append(block.Relationships, Relationship{
				Type: aws.StringValue(rel.Type),
				IDs:  aws.StringValueSlice(rel.Ids),
			})
		}
		out = append(out, block)
	}
	return out
}
